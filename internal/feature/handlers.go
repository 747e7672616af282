package feature

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/auth"
	"github.com/ageniuscoder/codecollab/backend/internal/httpx"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

const searchLimit = 10

type Store interface {
	UserByID(ctx context.Context, id int64) (storage.User, error)
	UsersByIDs(ctx context.Context, ids []int64) ([]storage.User, error)
	SearchUsers(ctx context.Context, query string, excludeID int64, limit int) ([]storage.User, error)
}

// Presence answers who is connected right now.
type Presence interface {
	IsOnline(userID int64) bool
	OnlineUserIDs() []int64
}

type Service struct {
	Store    Store
	Presence Presence
	Logger   *zap.SugaredLogger
}

func Register(rg *gin.RouterGroup, s Service) {
	rg.GET("/users/search", s.searchUsers)
	rg.GET("/users/online", s.onlineUsers)
	rg.GET("/users/:id/presence", s.getPresence)
}

func (s Service) searchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		httpx.Err(c, http.StatusBadRequest, "query parameter is required")
		return
	}

	users, err := s.Store.SearchUsers(c.Request.Context(), query, auth.MustUserID(c), searchLimit)
	if err != nil {
		s.Logger.Errorw("searching users", "query", query, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "database query failed")
		return
	}

	httpx.OK(c, gin.H{"success": true, "users": profiles(users)})
}

func (s Service) onlineUsers(c *gin.Context) {
	users, err := s.Store.UsersByIDs(c.Request.Context(), s.Presence.OnlineUserIDs())
	if err != nil {
		s.Logger.Errorw("loading online users", "error", err)
		httpx.Err(c, http.StatusInternalServerError, "database error")
		return
	}
	httpx.OK(c, gin.H{"success": true, "users": profiles(users)})
}

func (s Service) getPresence(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "Invalid user ID")
		return
	}

	u, err := s.Store.UserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.Err(c, http.StatusNotFound, "user not found")
		} else {
			s.Logger.Errorw("loading presence", "user_id", userID, "error", err)
			httpx.Err(c, http.StatusInternalServerError, "database error")
		}
		return
	}

	httpx.OK(c, gin.H{"success": true, "online": s.Presence.IsOnline(userID), "last_seen": u.LastActive})
}

func profiles(users []storage.User) []storage.Profile {
	out := make([]storage.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out
}
