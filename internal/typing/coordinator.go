// Package typing debounces typing indicators per (conversation, user) pair.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

// DefaultWindow is how long a typing indicator survives without a new signal.
const DefaultWindow = 3 * time.Second

// Broadcaster fans a payload out to a conversation room.
type Broadcaster interface {
	Broadcast(conversationID int64, payload []byte, excludeUserID int64) int
}

type key struct {
	conversationID int64
	userID         int64
}

type state struct {
	timer *time.Timer
	gen   uint64
}

// Coordinator runs the Idle -> Typing -> Idle machine for every sender.
// A pair that has no entry in active is Idle.
type Coordinator struct {
	logger *zap.SugaredLogger
	rooms  Broadcaster
	window time.Duration

	mu     sync.Mutex
	gen    uint64
	active map[key]*state
}

func New(logger *zap.SugaredLogger, rooms Broadcaster, window time.Duration) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coordinator{
		logger: logger,
		rooms:  rooms,
		window: window,
		active: make(map[key]*state),
	}
}

// OnTyping marks userID as typing in conversationID and re-arms the debounce
// timer. Only the Idle -> Typing transition is broadcast.
func (c *Coordinator) OnTyping(conversationID, userID int64) {
	k := key{conversationID: conversationID, userID: userID}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	gen := c.gen
	st, ok := c.active[k]
	if ok {
		st.timer.Stop()
	} else {
		st = &state{}
		c.active[k] = st
		c.emit(wire.EventTyping, k)
	}
	st.gen = gen
	st.timer = time.AfterFunc(c.window, func() { c.expire(k, gen) })
}

// OnStopTyping forces the pair back to Idle and cancels its timer.
func (c *Coordinator) OnStopTyping(conversationID, userID int64) {
	k := key{conversationID: conversationID, userID: userID}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(k)
}

// CancelUser stops every pending indicator of userID, e.g. once its last
// connection went away.
func (c *Coordinator) CancelUser(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.active {
		if k.userID == userID {
			c.stopLocked(k)
		}
	}
}

// IsTyping reports whether the pair is currently in the Typing state.
func (c *Coordinator) IsTyping(conversationID, userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key{conversationID: conversationID, userID: userID}]
	return ok
}

// Close cancels all timers without broadcasting.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, st := range c.active {
		st.timer.Stop()
		delete(c.active, k)
	}
}

// expire runs on the timer goroutine. A stale generation means the pair was
// re-armed or stopped after this timer was scheduled.
func (c *Coordinator) expire(k key, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.active[k]
	if !ok || st.gen != gen {
		return
	}
	delete(c.active, k)
	c.emit(wire.EventStopTyping, k)
}

func (c *Coordinator) stopLocked(k key) {
	st, ok := c.active[k]
	if !ok {
		return
	}
	st.timer.Stop()
	delete(c.active, k)
	c.emit(wire.EventStopTyping, k)
}

func (c *Coordinator) emit(event string, k key) {
	payload, err := wire.Encode(event, wire.TypingData{ConversationID: k.conversationID, UserID: k.userID})
	if err != nil {
		c.logger.Errorf("encoding %s frame: %v", event, err)
		return
	}
	c.rooms.Broadcast(k.conversationID, payload, k.userID)
	c.logger.Debugf("user %d %s in conversation %d", k.userID, event, k.conversationID)
}
