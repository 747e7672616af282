package messages

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/codecollab/backend/internal/auth"
	"github.com/ageniuscoder/codecollab/backend/internal/httpx"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/utils"
)

type Service struct {
	Pipeline *Pipeline
}

type sendReq struct {
	ConversationID int64  `json:"conversation_id" binding:"required,gt=0"`
	Content        string `json:"content" binding:"required"`
	Type           string `json:"type" binding:"omitempty,oneof=text code image"`
}

type pageReq struct {
	Limit int `form:"limit"`
}

func Register(rg *gin.RouterGroup, p *Pipeline) {
	s := Service{
		Pipeline: p,
	}
	rg.POST("/messages", s.send)
	rg.GET("/conversations/:id/messages", s.list)
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	m, err := s.Pipeline.Send(c.Request.Context(), SendRequest{
		SenderID:       uid,
		ConversationID: req.ConversationID,
		Body:           req.Content,
		Tag:            storage.PayloadTag(req.Type),
	})
	if err != nil {
		httpx.FromError(c, err)
		return
	}
	httpx.OK(c, m)
}

func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid conversation id")
		return
	}
	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.Err(c, http.StatusBadRequest, utils.BindingErr(err))
		return
	}

	list, err := s.Pipeline.History(c.Request.Context(), uid, cid, q.Limit)
	if err != nil {
		httpx.FromError(c, err)
		return
	}
	httpx.OK(c, gin.H{"messages": list})
}
