package profile

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/auth"
	"github.com/ageniuscoder/codecollab/backend/internal/httpx"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/utils"
)

type Store interface {
	UserByID(ctx context.Context, id int64) (storage.User, error)
	UpdateProfile(ctx context.Context, id int64, name, avatar string) (storage.User, error)
}

type Service struct {
	Store  Store
	Logger *zap.SugaredLogger
}

type UpdateReq struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

func Register(rg *gin.RouterGroup, s Service) {
	rg.GET("/me", s.getMe)
	rg.PUT("/me", s.updateMe)
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	if uid == 0 {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := s.Store.UserByID(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	httpx.OK(c, u)
}

func (s Service) updateMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req UpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	cur, err := s.Store.UserByID(c.Request.Context(), uid)
	if err != nil {
		s.fail(c, err)
		return
	}
	name, avatar := cur.Name, cur.Avatar
	if n := strings.TrimSpace(req.Name); n != "" {
		name = n
	}
	if req.Avatar != nil {
		avatar = *req.Avatar
	}

	u, err := s.Store.UpdateProfile(c.Request.Context(), uid, name, avatar)
	if err != nil {
		s.fail(c, err)
		return
	}
	httpx.OK(c, u)
}

func (s Service) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpx.Err(c, http.StatusNotFound, "user not found")
		return
	}
	s.Logger.Errorw("profile lookup", "error", err)
	httpx.Err(c, http.StatusInternalServerError, "database error")
}
