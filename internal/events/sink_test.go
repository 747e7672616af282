package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/messages"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

type memPublisher struct {
	mu     sync.Mutex
	keys   []string
	sent   []Envelope
	fail   bool
	closed bool
}

func (p *memPublisher) Publish(_ context.Context, key string, msg Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.keys = append(p.keys, key)
	p.sent = append(p.sent, msg)
	return nil
}

func (p *memPublisher) Close() error {
	p.closed = true
	return nil
}

func enriched() messages.Enriched {
	return messages.Enriched{
		Message: storage.Message{ID: 7, ConversationID: 3, SenderID: 1, Body: "hi", Tag: storage.TagText, CreatedAt: time.Unix(100, 0).UTC()},
		Conversation: storage.Conversation{ID: 3, Participants: []storage.Participant{
			{Profile: storage.Profile{ID: 1}}, {Profile: storage.Profile{ID: 2}}, {Profile: storage.Profile{ID: 5}},
		}},
	}
}

func TestMessageSinkPublishes(t *testing.T) {
	pub := &memPublisher{}
	s := NewMessageSink(pub, zap.NewNop().Sugar())

	s.MessageCreated(context.Background(), enriched())
	require.NoError(t, s.Close())

	require.True(t, pub.closed)
	require.Equal(t, []string{MessageCreatedV1}, pub.keys)
	env := pub.sent[0]
	require.Equal(t, MessageCreatedV1, env.Meta.Type)
	require.NotEmpty(t, env.Meta.ID)

	body, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded struct {
		Data MessageCreated `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, int64(7), decoded.Data.MessageID)
	require.Equal(t, []int64{2, 5}, decoded.Data.Recipients)
	require.Equal(t, "text", decoded.Data.Type)
}

func TestMessageSinkSurvivesPublishErrors(t *testing.T) {
	pub := &memPublisher{fail: true}
	s := NewMessageSink(pub, zap.NewNop().Sugar())

	s.MessageCreated(context.Background(), enriched())
	s.MessageCreated(context.Background(), enriched())
	require.NoError(t, s.Close())
	require.Empty(t, pub.sent)
}
