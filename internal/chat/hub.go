// Package chat manages socket connections: attach, identify, join rooms,
// forward typing and relay signals, and clean up on disconnect.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
	"github.com/ageniuscoder/codecollab/backend/internal/messages"
	"github.com/ageniuscoder/codecollab/backend/internal/presence"
	"github.com/ageniuscoder/codecollab/backend/internal/rooms"
	"github.com/ageniuscoder/codecollab/backend/internal/typing"
	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

const opTimeout = 5 * time.Second

// Store is what the hub reads and writes on behalf of a connection.
type Store interface {
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	TouchLastActive(ctx context.Context, id int64, at time.Time) error
}

// Relayer re-broadcasts messages reported by clients.
type Relayer interface {
	Relay(ctx context.Context, userID, messageID int64) (messages.Enriched, bool, error)
}

type Hub struct {
	logger   *zap.SugaredLogger
	store    Store
	registry *presence.Registry
	router   *rooms.Router
	typing   *typing.Coordinator
	relayer  Relayer

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(logger *zap.SugaredLogger, store Store, registry *presence.Registry, router *rooms.Router, coordinator *typing.Coordinator, relayer Relayer) *Hub {
	h := &Hub{
		logger:   logger,
		store:    store,
		registry: registry,
		router:   router,
		typing:   coordinator,
		relayer:  relayer,
		clients:  make(map[string]*Client),
	}
	registry.Subscribe(h.pushOnlineUsers)
	return h
}

// Attach puts a new connection in the Connected state.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()

	h.send(c, wire.EventConnected, map[string]string{"connection_id": c.ID()})
	h.send(c, wire.EventOnlineUsers, h.registry.OnlineUserIDs())
	h.logger.Debugf("Connection (id: %s) attached", c.ID())
}

// Setup identifies the connection as userID, which must be the user the
// upgrade request was authenticated as.
func (h *Hub) Setup(c *Client, userID int64) error {
	if !h.attached(c) {
		return fmt.Errorf("%w: connection is closed", apperr.ErrInvalidRequest)
	}
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", apperr.ErrInvalidRequest)
	}
	if userID != c.authUserID {
		return fmt.Errorf("%w: user %d does not match the authenticated user", apperr.ErrForbidden, userID)
	}
	c.identify(userID)
	h.registry.Register(userID, c.ID())
	h.touch(userID)
	h.logger.Debugf("Connection (id: %s) identified as user (id: %d)", c.ID(), userID)
	return nil
}

// JoinRoom subscribes an identified connection to a conversation it participates in.
func (h *Hub) JoinRoom(ctx context.Context, c *Client, conversationID int64) error {
	uid, err := h.identified(c)
	if err != nil {
		return err
	}
	ok, err := h.store.IsParticipant(ctx, conversationID, uid)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a participant of conversation %d", apperr.ErrForbidden, conversationID)
	}
	h.router.Join(conversationID, c)
	h.send(c, wire.EventJoined, wire.RoomData{ConversationID: conversationID})
	return nil
}

func (h *Hub) LeaveRoom(c *Client, conversationID int64) error {
	if _, err := h.identified(c); err != nil {
		return err
	}
	h.router.LeaveRoom(conversationID, c.ID())
	h.send(c, wire.EventLeft, wire.RoomData{ConversationID: conversationID})
	return nil
}

// Typing forwards a typing signal for a room the connection has joined.
func (h *Hub) Typing(c *Client, conversationID int64) error {
	uid, err := h.inRoom(c, conversationID)
	if err != nil {
		return err
	}
	h.typing.OnTyping(conversationID, uid)
	return nil
}

func (h *Hub) StopTyping(c *Client, conversationID int64) error {
	uid, err := h.inRoom(c, conversationID)
	if err != nil {
		return err
	}
	h.typing.OnStopTyping(conversationID, uid)
	return nil
}

// RelayMessage handles a client's new-message notification.
func (h *Hub) RelayMessage(ctx context.Context, c *Client, messageID int64) error {
	uid, err := h.identified(c)
	if err != nil {
		return err
	}
	_, sent, err := h.relayer.Relay(ctx, uid, messageID)
	if err != nil {
		return err
	}
	if !sent {
		h.logger.Debugf("Message (id: %d) already delivered, relay skipped", messageID)
	}
	return nil
}

// Disconnect is terminal. Calling it twice is a no-op.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID())
	h.mu.Unlock()

	h.router.Leave(c.ID())
	h.registry.Unregister(c.ID())
	if uid := c.UserID(); uid != 0 && !h.registry.IsOnline(uid) {
		h.typing.CancelUser(uid)
		h.touch(uid)
	}
	c.close()
	h.logger.Debugf("Connection (id: %s) disconnected", c.ID())
}

// BroadcastConversationUpdate tells a room about a membership change. Users
// in notify also hear about it on connections that have not joined the room.
func (h *Hub) BroadcastConversationUpdate(conversationID int64, change string, userID int64, notify ...int64) {
	payload, err := wire.Encode(wire.EventConversationUpdated, wire.ConversationUpdate{
		ConversationID: conversationID,
		Change:         change,
		UserID:         userID,
	})
	if err != nil {
		h.logger.Errorf("encoding conversation update: %v", err)
		return
	}
	h.router.Broadcast(conversationID, payload, 0)

	for _, uid := range notify {
		for _, connID := range h.registry.Connections(uid) {
			if slices.Contains(h.router.Rooms(connID), conversationID) {
				continue
			}
			if c := h.client(connID); c != nil && !c.Send(payload) {
				h.logger.Warnw("skipping delivery", "connection_id", connID, "error", apperr.ErrPresenceInconsistency)
			}
		}
	}
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) pushOnlineUsers(online []int64) {
	payload, err := wire.Encode(wire.EventOnlineUsers, online)
	if err != nil {
		h.logger.Errorf("encoding online users: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.Send(payload)
	}
}

func (h *Hub) attached(c *Client) bool {
	return h.client(c.ID()) != nil
}

func (h *Hub) client(connID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

func (h *Hub) identified(c *Client) (int64, error) {
	uid := c.UserID()
	if uid == 0 || !h.attached(c) {
		return 0, fmt.Errorf("%w: connection is not set up", apperr.ErrInvalidRequest)
	}
	return uid, nil
}

func (h *Hub) inRoom(c *Client, conversationID int64) (int64, error) {
	uid, err := h.identified(c)
	if err != nil {
		return 0, err
	}
	if !slices.Contains(h.router.Rooms(c.ID()), conversationID) {
		return 0, fmt.Errorf("%w: conversation %d not joined", apperr.ErrInvalidRequest, conversationID)
	}
	return uid, nil
}

func (h *Hub) touch(userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := h.store.TouchLastActive(ctx, userID, time.Now().UTC()); err != nil {
		h.logger.Errorw("updating last active", "user_id", userID, "error", err)
	}
}

func (h *Hub) send(c *Client, event string, data any) {
	payload, err := wire.Encode(event, data)
	if err != nil {
		h.logger.Errorf("encoding %s frame: %v", event, err)
		return
	}
	c.Send(payload)
}

func (h *Hub) sendError(c *Client, err error) {
	if errors.Is(err, apperr.ErrPersistence) {
		h.logger.Errorw("socket operation failed", "connection_id", c.ID(), "error", err)
	}
	h.send(c, wire.EventError, wire.ErrorData{Code: apperr.Code(err), Error: err.Error()})
}
