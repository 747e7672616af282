package typing

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

type sent struct {
	conversationID int64
	exclude        int64
	event          string
	data           wire.TypingData
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Broadcast(conversationID int64, payload []byte, exclude int64) int {
	var f struct {
		Event string          `json:"event"`
		Data  wire.TypingData `json:"data"`
	}
	if err := json.Unmarshal(payload, &f); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{conversationID: conversationID, exclude: exclude, event: f.Event, data: f.Data})
	return 1
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.event == event {
			n++
		}
	}
	return n
}

func bootstrap(t *testing.T, window time.Duration) (*Coordinator, *recorder) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	rec := &recorder{}
	c := New(logger.Sugar(), rec, window)
	t.Cleanup(c.Close)
	return c, rec
}

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	c, rec := bootstrap(t, time.Minute)
	c.OnTyping(3, 8)

	require.Len(t, rec.sent, 1)
	require.Equal(t, sent{conversationID: 3, exclude: 8, event: wire.EventTyping, data: wire.TypingData{ConversationID: 3, UserID: 8}}, rec.sent[0])
	require.True(t, c.IsTyping(3, 8))
}

func TestRepeatedTypingInsideWindowNeverStops(t *testing.T) {
	c, rec := bootstrap(t, 150*time.Millisecond)

	for i := 0; i < 8; i++ {
		c.OnTyping(1, 1)
		time.Sleep(50 * time.Millisecond)
	}
	require.Equal(t, 1, rec.count(wire.EventTyping))
	require.Zero(t, rec.count(wire.EventStopTyping))

	time.Sleep(400 * time.Millisecond)
	require.Equal(t, 1, rec.count(wire.EventStopTyping))
	require.False(t, c.IsTyping(1, 1))
}

func TestExplicitStopWinsOverExpiry(t *testing.T) {
	c, rec := bootstrap(t, 50*time.Millisecond)

	c.OnTyping(1, 1)
	c.OnStopTyping(1, 1)
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, 1, rec.count(wire.EventStopTyping))
}

func TestStopWhileIdleIsSilent(t *testing.T) {
	c, rec := bootstrap(t, time.Minute)
	c.OnStopTyping(1, 1)
	require.Empty(t, rec.sent)
}

func TestSendersAreIndependent(t *testing.T) {
	c, rec := bootstrap(t, time.Minute)

	c.OnTyping(1, 1)
	c.OnTyping(1, 2)
	c.OnStopTyping(1, 1)

	require.Equal(t, 2, rec.count(wire.EventTyping))
	require.Equal(t, 1, rec.count(wire.EventStopTyping))
	require.False(t, c.IsTyping(1, 1))
	require.True(t, c.IsTyping(1, 2))
}

func TestCancelUser(t *testing.T) {
	c, rec := bootstrap(t, time.Minute)

	c.OnTyping(1, 4)
	c.OnTyping(2, 4)
	c.OnTyping(2, 5)
	c.CancelUser(4)

	require.Equal(t, 2, rec.count(wire.EventStopTyping))
	require.True(t, c.IsTyping(2, 5))
}
