// Package messages validates, persists and fans out chat messages.
package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

// CommandPrefix marks a message addressed to the assistant.
const CommandPrefix = "/ai "

// DefaultHistoryLimit is used when a history request does not carry a limit.
const DefaultHistoryLimit = 50

const recentCapacity = 1024

// Store is the persistence the pipeline relies on.
type Store interface {
	Conversation(ctx context.Context, id int64) (storage.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	PersistMessage(ctx context.Context, nm storage.NewMessage) (storage.Message, error)
	UserByID(ctx context.Context, id int64) (storage.User, error)
	Message(ctx context.Context, id int64) (storage.Message, error)
	History(ctx context.Context, conversationID int64, limit int) ([]storage.Message, error)
}

// Broadcaster delivers a payload to the connections joined to a conversation.
type Broadcaster interface {
	Broadcast(conversationID int64, payload []byte, excludeUserID int64) int
}

// Responder produces the reply to an automation command. query is the
// command text without CommandPrefix.
type Responder interface {
	Respond(ctx context.Context, conversationID int64, query string) (Enriched, error)
}

// EventSink is told about every message after it was fanned out.
type EventSink interface {
	MessageCreated(ctx context.Context, m Enriched)
}

// Enriched is a persisted message together with its sender profile and the
// conversation it belongs to.
type Enriched struct {
	storage.Message
	Sender       storage.Profile      `json:"sender"`
	Conversation storage.Conversation `json:"conversation"`
}

// SendRequest is the input of Send.
type SendRequest struct {
	SenderID       int64
	ConversationID int64
	Body           string
	Tag            storage.PayloadTag
}

// Command is the classified form of an outgoing message body.
type Command interface {
	isCommand()
}

// Normal is an ordinary message stored and fanned out as sent.
type Normal struct {
	Body string
}

// AutomationCommand is a message starting with CommandPrefix. It is answered
// by the Responder and never stored itself.
type AutomationCommand struct {
	Raw   string
	Query string
}

func (Normal) isCommand()            {}
func (AutomationCommand) isCommand() {}

// Classify decides once how a body is handled.
func Classify(body string) Command {
	if strings.HasPrefix(body, CommandPrefix) {
		return AutomationCommand{Raw: body, Query: strings.TrimSpace(strings.TrimPrefix(body, CommandPrefix))}
	}
	return Normal{Body: body}
}

// Pipeline is the single path every message takes: validate, persist,
// enrich, fan out.
type Pipeline struct {
	store     Store
	rooms     Broadcaster
	logger    *zap.SugaredLogger
	responder Responder
	events    EventSink

	recent *recentSet
}

func NewPipeline(store Store, rooms Broadcaster, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		store:  store,
		rooms:  rooms,
		logger: logger,
		recent: newRecentSet(recentCapacity),
	}
}

// SetResponder wires the assistant. Without one, automation commands are rejected.
func (p *Pipeline) SetResponder(r Responder) { p.responder = r }

// SetEventSink wires the domain event publisher.
func (p *Pipeline) SetEventSink(e EventSink) { p.events = e }

// Send runs a message from a user through the pipeline and returns what was
// delivered to the room.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (Enriched, error) {
	cmd := Classify(req.Body)

	if strings.TrimSpace(req.Body) == "" {
		return Enriched{}, fmt.Errorf("%w: content is required", apperr.ErrInvalidRequest)
	}
	if req.Tag == "" {
		req.Tag = storage.TagText
	}
	if !req.Tag.Valid() {
		return Enriched{}, fmt.Errorf("%w: unknown message type %q", apperr.ErrInvalidRequest, req.Tag)
	}
	if err := p.authorize(ctx, req.ConversationID, req.SenderID); err != nil {
		return Enriched{}, err
	}

	switch c := cmd.(type) {
	case AutomationCommand:
		if p.responder == nil {
			return Enriched{}, fmt.Errorf("%w: assistant is not available", apperr.ErrAutoResponder)
		}
		p.logger.Debugf("Dispatching automation command in conversation (id: %d)", req.ConversationID)
		return p.responder.Respond(ctx, req.ConversationID, c.Query)
	case Normal:
		return p.Deliver(ctx, req.SenderID, req.ConversationID, c.Body, req.Tag)
	default:
		return Enriched{}, fmt.Errorf("%w: unsupported command", apperr.ErrInvalidRequest)
	}
}

// Deliver persists a message and fans it out. Callers must have validated
// the request already.
func (p *Pipeline) Deliver(ctx context.Context, senderID, conversationID int64, body string, tag storage.PayloadTag) (Enriched, error) {
	m, err := p.store.PersistMessage(ctx, storage.NewMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		Tag:            tag,
	})
	if err != nil {
		p.logger.Errorw("persisting message", "conversation_id", conversationID, "sender_id", senderID, "error", err)
		return Enriched{}, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	em, err := p.enrich(ctx, m)
	if err != nil {
		return Enriched{}, err
	}

	p.fanOut(em)
	if p.events != nil {
		p.events.MessageCreated(ctx, em)
	}
	return em, nil
}

// Relay re-broadcasts a message a client reports as sent. Messages already
// fanned out by this process are not sent twice. Besides their own messages,
// participants may relay replies written by a system account, which is what
// the sender of an automation command gets back.
func (p *Pipeline) Relay(ctx context.Context, userID, messageID int64) (Enriched, bool, error) {
	m, err := p.store.Message(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Enriched{}, false, fmt.Errorf("%w: message %d", apperr.ErrNotFound, messageID)
		}
		return Enriched{}, false, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if p.recent.contains(m.ID) {
		return Enriched{}, false, nil
	}
	if err := p.authorizeRelay(ctx, m, userID); err != nil {
		return Enriched{}, false, err
	}

	em, err := p.enrich(ctx, m)
	if err != nil {
		return Enriched{}, false, err
	}
	return em, p.fanOut(em), nil
}

// History returns the latest messages of a conversation in ascending order.
func (p *Pipeline) History(ctx context.Context, userID, conversationID int64, limit int) ([]storage.Message, error) {
	if err := p.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	list, err := p.store.History(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if list == nil {
		list = []storage.Message{}
	}
	return list, nil
}

func (p *Pipeline) authorize(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: conversation_id is required", apperr.ErrInvalidRequest)
	}
	if _, err := p.store.Conversation(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: conversation %d", apperr.ErrNotFound, conversationID)
		}
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	ok, err := p.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	return nil
}

func (p *Pipeline) authorizeRelay(ctx context.Context, m storage.Message, userID int64) error {
	if m.SenderID == userID {
		return nil
	}
	sender, err := p.store.UserByID(ctx, m.SenderID)
	if err != nil {
		return fmt.Errorf("%w: loading sender: %v", apperr.ErrPersistence, err)
	}
	if !sender.IsSystem() {
		return fmt.Errorf("%w: message %d was not sent by user %d", apperr.ErrForbidden, m.ID, userID)
	}
	ok, err := p.store.IsParticipant(ctx, m.ConversationID, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	if !ok {
		return fmt.Errorf("%w: not a participant", apperr.ErrForbidden)
	}
	return nil
}

func (p *Pipeline) enrich(ctx context.Context, m storage.Message) (Enriched, error) {
	sender, err := p.store.UserByID(ctx, m.SenderID)
	if err != nil {
		return Enriched{}, fmt.Errorf("%w: loading sender: %v", apperr.ErrPersistence, err)
	}
	conv, err := p.store.Conversation(ctx, m.ConversationID)
	if err != nil {
		return Enriched{}, fmt.Errorf("%w: loading conversation: %v", apperr.ErrPersistence, err)
	}
	return Enriched{Message: m, Sender: sender.Profile(), Conversation: conv}, nil
}

func (p *Pipeline) fanOut(em Enriched) bool {
	payload, err := wire.Encode(wire.EventMessageReceived, em)
	if err != nil {
		p.logger.Errorf("encoding message %d: %v", em.ID, err)
		return false
	}
	p.recent.add(em.ID)
	n := p.rooms.Broadcast(em.ConversationID, payload, em.SenderID)
	p.logger.Debugf("Message (id: %d) delivered to %d connection(s)", em.ID, n)
	return true
}

// recentSet remembers the last n message ids that were fanned out.
type recentSet struct {
	mu   sync.Mutex
	ids  map[int64]struct{}
	ring []int64
	next int
}

func newRecentSet(n int) *recentSet {
	return &recentSet{ids: make(map[int64]struct{}, n), ring: make([]int64, n)}
}

func (s *recentSet) add(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	if old := s.ring[s.next]; old != 0 {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}

func (s *recentSet) contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}
