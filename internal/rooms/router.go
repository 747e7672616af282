// Package rooms maps conversations to the connections currently subscribed to
// them and fans events out to those connections.
package rooms

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
)

// Conn is a delivery target. Send must not block and reports whether the
// payload was queued.
type Conn interface {
	ID() string
	UserID() int64
	Send(payload []byte) bool
}

type member struct {
	conn Conn
	seq  uint64 // join order, used to pick one connection per user
}

// Router coordinates logical rooms. A connection only receives a room's
// events after it joined that room, even if its user participates in the
// conversation.
type Router struct {
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	seq       uint64
	rooms     map[int64]map[string]member  // conversationID -> connID -> member
	connRooms map[string]map[int64]struct{} // connID -> set of conversationIDs
}

func NewRouter(logger *zap.SugaredLogger) *Router {
	return &Router{
		logger:    logger,
		rooms:     make(map[int64]map[string]member),
		connRooms: make(map[string]map[int64]struct{}),
	}
}

// Join adds conn to the conversation room. Joining twice keeps the original
// membership.
func (r *Router) Join(conversationID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[conversationID]
	if room == nil {
		room = make(map[string]member)
		r.rooms[conversationID] = room
	}
	if _, ok := room[conn.ID()]; ok {
		return
	}
	r.seq++
	room[conn.ID()] = member{conn: conn, seq: r.seq}

	joined := r.connRooms[conn.ID()]
	if joined == nil {
		joined = make(map[int64]struct{})
		r.connRooms[conn.ID()] = joined
	}
	joined[conversationID] = struct{}{}

	r.logger.Debugf("connection %s (user %d) joined conversation %d", conn.ID(), conn.UserID(), conversationID)
}

// LeaveRoom removes connID from a single room.
func (r *Router) LeaveRoom(conversationID int64, connID string) {
	r.mu.Lock()
	r.leaveLocked(conversationID, connID)
	r.mu.Unlock()
}

// Leave removes connID from every room it joined.
func (r *Router) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID := range r.connRooms[connID] {
		r.leaveLocked(conversationID, connID)
	}
	delete(r.connRooms, connID)
}

// Broadcast delivers payload to the room's connections, skipping every
// connection bound to excludeUserID (0 excludes nobody). Each user receives
// the payload once, on the connection that joined most recently. It returns
// the number of deliveries.
//
// The read lock is held for the whole fan-out so a concurrent Leave either
// happens before the send or after it, never in between.
func (r *Router) Broadcast(conversationID int64, payload []byte, excludeUserID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[conversationID]
	if len(room) == 0 {
		return 0
	}

	targets := make(map[int64]member, len(room))
	for _, m := range room {
		uid := m.conn.UserID()
		if excludeUserID != 0 && uid == excludeUserID {
			continue
		}
		if cur, ok := targets[uid]; !ok || m.seq > cur.seq {
			targets[uid] = m
		}
	}

	delivered := 0
	for uid, m := range targets {
		if !m.conn.Send(payload) {
			r.logger.Warnw("skipping delivery",
				"error", apperr.ErrPresenceInconsistency,
				"conversation_id", conversationID,
				"connection_id", m.conn.ID(),
				"user_id", uid,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Members returns the sorted connection ids joined to conversationID.
func (r *Router) Members(conversationID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[conversationID]))
	for id := range r.rooms[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rooms returns the sorted conversation ids connID has joined.
func (r *Router) Rooms(connID string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.connRooms[connID]))
	for id := range r.connRooms[connID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Router) leaveLocked(conversationID int64, connID string) {
	room := r.rooms[conversationID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if joined, ok := r.connRooms[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(r.connRooms, connID)
		}
	}
}
