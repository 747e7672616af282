package conversations

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
	"github.com/ageniuscoder/codecollab/backend/internal/utils"
)

// Changes announced with conversation-updated.
const (
	ChangeCreated            = "created"
	ChangeParticipantAdded   = "participant_added"
	ChangeParticipantRemoved = "participant_removed"
)

type Store interface {
	Conversation(ctx context.Context, id int64) (storage.Conversation, error)
	ConversationsForUser(ctx context.Context, userID int64) ([]storage.Conversation, error)
	CreatePrivateConversation(ctx context.Context, a, b int64) (storage.Conversation, bool, error)
	CreateGroup(ctx context.Context, name string, adminID int64, memberIDs []int64) (storage.Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
}

// Notifier pushes membership changes to connected clients.
type Notifier interface {
	BroadcastConversationUpdate(conversationID int64, change string, userID int64, notify ...int64)
}

type Service struct {
	Store    Store
	Notifier Notifier
	Logger   *zap.SugaredLogger
}

type privateReq struct {
	OtherUserID int64 `json:"other_user_id" binding:"required,gt=0"`
}

type groupReq struct {
	Name      string  `json:"name" binding:"required"`
	MemberIDs []int64 `json:"member_ids" binding:"required,min=1"`
}

type addReq struct {
	UserID int64 `json:"user_id" binding:"required,gt=0"`
}

func Register(rg *gin.RouterGroup, s Service) {
	rg.POST("/conversations/private", s.createOrGetPrivate)
	rg.POST("/conversations/group", s.createGroup)
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id", s.get)
	rg.POST("/conversations/:id/participants", s.addParticipant)
	rg.DELETE("/conversations/:id/participants/:userId", s.removeParticipant)
}

func (s Service) createOrGetPrivate(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req privateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}
	if req.OtherUserID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	conv, created, err := s.Store.CreatePrivateConversation(c.Request.Context(), uid, req.OtherUserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if created {
		s.Notifier.BroadcastConversationUpdate(conv.ID, ChangeCreated, uid, req.OtherUserID)
	}
	httpx.OK(c, conv)
}

func (s Service) createGroup(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req groupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httpx.Err(c, http.StatusBadRequest, "group name is required")
		return
	}

	conv, err := s.Store.CreateGroup(c.Request.Context(), name, uid, req.MemberIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Notifier.BroadcastConversationUpdate(conv.ID, ChangeCreated, uid, req.MemberIDs...)
	httpx.OK(c, conv)
}

func (s Service) listMine(c *gin.Context) {
	list, err := s.Store.ConversationsForUser(c.Request.Context(), auth.MustUserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []storage.Conversation{}
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s Service) get(c *gin.Context) {
	conv, ok := s.load(c)
	if !ok {
		return
	}
	if !conv.HasParticipant(auth.MustUserID(c)) {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}
	httpx.OK(c, conv)
}

func (s Service) addParticipant(c *gin.Context) {
	uid := auth.MustUserID(c)
	conv, ok := s.loadAsAdmin(c, uid, "only admin can add participants")
	if !ok {
		return
	}
	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	if err := s.Store.AddParticipant(c.Request.Context(), conv.ID, req.UserID); err != nil {
		s.fail(c, err)
		return
	}
	s.Notifier.BroadcastConversationUpdate(conv.ID, ChangeParticipantAdded, req.UserID, req.UserID)
	httpx.OK(c, gin.H{"message": "participant added"})
}

func (s Service) removeParticipant(c *gin.Context) {
	uid := auth.MustUserID(c)
	conv, ok := s.loadAsAdmin(c, uid, "only admin can remove participants")
	if !ok {
		return
	}
	target, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.Store.RemoveParticipant(c.Request.Context(), conv.ID, target); err != nil {
		s.fail(c, err)
		return
	}
	s.Notifier.BroadcastConversationUpdate(conv.ID, ChangeParticipantRemoved, target, target)
	httpx.OK(c, gin.H{"message": "participant removed"})
}

func (s Service) load(c *gin.Context) (storage.Conversation, bool) {
	cid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid conversation id")
		return storage.Conversation{}, false
	}
	conv, err := s.Store.Conversation(c.Request.Context(), cid)
	if err != nil {
		s.fail(c, err)
		return storage.Conversation{}, false
	}
	return conv, true
}

func (s Service) loadAsAdmin(c *gin.Context, uid int64, msg string) (storage.Conversation, bool) {
	conv, ok := s.load(c)
	if !ok {
		return conv, false
	}
	if !conv.IsGroup {
		httpx.Err(c, http.StatusBadRequest, "not a group conversation")
		return conv, false
	}
	if !conv.IsAdmin(uid) {
		httpx.Err(c, http.StatusForbidden, msg)
		return conv, false
	}
	return conv, true
}

func (s Service) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpx.Err(c, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrNotGroup):
		httpx.Err(c, http.StatusBadRequest, "not a group conversation")
	default:
		s.Logger.Errorw("conversation store", "error", err)
		httpx.Err(c, http.StatusInternalServerError, "database error")
	}
}
