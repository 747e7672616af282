package users

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
	CreateUser(ctx context.Context, u storage.User) (storage.User, error)
	UserByEmail(ctx context.Context, email string) (storage.User, error)
}

type Service struct {
	Store     Store
	JWTSecret string
	JWTTTLMin int
	Logger    *zap.SugaredLogger
	// ReservedEmails belong to system accounts and cannot be registered.
	ReservedEmails []string
}

type registerReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Avatar   string `json:"avatar"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResp struct {
	Token string       `json:"token"`
	User  storage.User `json:"user"`
}

func RegisterPublic(rg *gin.RouterGroup, s Service) {
	rg.POST("/register", s.register)
	rg.POST("/login", s.login)
}

func (s Service) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	if s.reserved(req.Email) {
		httpx.Err(c, http.StatusConflict, "Email Already Exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Password Hashing Failed")
		return
	}
	u, err := s.Store.CreateUser(c.Request.Context(), storage.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		Avatar:       req.Avatar,
	})
	if errors.Is(err, storage.ErrConflict) {
		httpx.Err(c, http.StatusConflict, "Email Already Exists")
		return
	}
	if err != nil {
		s.Logger.Errorw("creating user", "email", req.Email, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "Create User Failed")
		return
	}

	s.respond(c, http.StatusCreated, u)
}

func (s Service) reserved(email string) bool {
	for _, r := range s.ReservedEmails {
		if r != "" && strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

func (s Service) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	u, err := s.Store.UserByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.Logger.Errorw("loading user", "email", req.Email, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		httpx.Err(c, http.StatusUnauthorized, "Invalid Credentials")
		return
	}

	s.respond(c, http.StatusOK, u)
}

func (s Service) respond(c *gin.Context, status int, u storage.User) {
	tok, err := auth.NewToken(s.JWTSecret, u.ID, s.JWTTTLMin)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "Token Genration Failed")
		return
	}
	c.JSON(status, authResp{Token: tok, User: u})
}
