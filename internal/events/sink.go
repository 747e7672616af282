package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/messages"
)

const (
	queueSize      = 1024
	publishTimeout = 5 * time.Second
)

// MessageSink turns delivered messages into MessageCreatedV1 events. Events
// are published from a single background goroutine; when the queue is full
// the event is dropped and logged.
type MessageSink struct {
	pub    Publisher
	logger *zap.SugaredLogger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Envelope
	done   chan struct{}
}

func NewMessageSink(pub Publisher, logger *zap.SugaredLogger) *MessageSink {
	s := &MessageSink{
		pub:    pub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan Envelope, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// MessageCreated never blocks the caller. Events after Close are dropped.
func (s *MessageSink) MessageCreated(_ context.Context, m messages.Enriched) {
	env := s.envelope(m)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- env:
	default:
		s.logger.Warnw("event queue full, dropping", "type", MessageCreatedV1, "message_id", m.ID)
	}
}

func (s *MessageSink) envelope(m messages.Enriched) Envelope {
	recipients := make([]int64, 0, len(m.Conversation.Participants))
	for _, p := range m.Conversation.Participants {
		if p.ID != m.SenderID {
			recipients = append(recipients, p.ID)
		}
	}
	p := producer
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Producer: &p,
			Time:     s.now(),
			Type:     MessageCreatedV1,
		},
		Data: MessageCreated{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Type:           string(m.Tag),
			Content:        m.Body,
			Recipients:     recipients,
			CreatedAt:      m.CreatedAt,
		},
	}
}

func (s *MessageSink) run() {
	defer close(s.done)
	for env := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.pub.Publish(ctx, env.Meta.Type, env); err != nil {
			s.logger.Errorw("publishing event", "type", env.Meta.Type, "id", env.Meta.ID, "error", err)
		}
		cancel()
	}
}

// Close flushes queued events and closes the publisher.
func (s *MessageSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
	return s.pub.Close()
}
