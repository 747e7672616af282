package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
	"github.com/ageniuscoder/codecollab/backend/internal/auth"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlstore"
	"github.com/ageniuscoder/codecollab/backend/internal/wire"
)

type broadcast struct {
	conversationID int64
	exclude        int64
	frame          wire.Frame
}

type recorder struct {
	mu    sync.Mutex
	calls []broadcast
}

func (r *recorder) Broadcast(conversationID int64, payload []byte, excludeUserID int64) int {
	var f wire.Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcast{conversationID: conversationID, exclude: excludeUserID, frame: f})
	return 1
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type sinkFunc func(ctx context.Context, m Enriched)

func (f sinkFunc) MessageCreated(ctx context.Context, m Enriched) { f(ctx, m) }

type responderFunc func(ctx context.Context, conversationID int64, query string) (Enriched, error)

func (f responderFunc) Respond(ctx context.Context, conversationID int64, query string) (Enriched, error) {
	return f(ctx, conversationID, query)
}

// failingStore breaks every write.
type failingStore struct {
	*sqlstore.Store
}

func (failingStore) PersistMessage(context.Context, storage.NewMessage) (storage.Message, error) {
	return storage.Message{}, errors.New("disk full")
}

type fixture struct {
	store *sqlstore.Store
	rooms *recorder
	p     *Pipeline
	ann   storage.User
	bob   storage.User
	eve   storage.User
	conv  storage.Conversation
}

func bootstrap(t *testing.T) *fixture {
	logger := zap.NewNop().Sugar()
	s, err := sqlite.New(":memory:", logger)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, rooms: &recorder{}}
	f.p = NewPipeline(s, f.rooms, logger)
	for _, name := range []string{"ann", "bob", "eve"} {
		u, err := s.CreateUser(context.Background(), storage.User{Name: name, Email: name + "@example.com", PasswordHash: "x"})
		require.NoError(t, err)
		switch name {
		case "ann":
			f.ann = u
		case "bob":
			f.bob = u
		case "eve":
			f.eve = u
		}
	}
	f.conv, _, err = s.CreatePrivateConversation(context.Background(), f.ann.ID, f.bob.ID)
	require.NoError(t, err)
	return f
}

func TestClassify(t *testing.T) {
	require.Equal(t, Normal{Body: "hello"}, Classify("hello"))
	require.Equal(t, Normal{Body: "/ai"}, Classify("/ai"))
	require.Equal(t, Normal{Body: " /ai x"}, Classify(" /ai x"))
	require.Equal(t, AutomationCommand{Raw: "/ai write a loop", Query: "write a loop"}, Classify("/ai write a loop"))
	require.Equal(t, AutomationCommand{Raw: "/ai ", Query: ""}, Classify("/ai "))
}

func TestSendPersistsThenBroadcasts(t *testing.T) {
	f := bootstrap(t)
	var sunk []int64
	f.p.SetEventSink(sinkFunc(func(_ context.Context, m Enriched) { sunk = append(sunk, m.ID) }))

	m, err := f.p.Send(context.Background(), SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, storage.TagText, m.Tag)
	require.Equal(t, "ann", m.Sender.Name)
	require.Len(t, m.Conversation.Participants, 2)
	require.Equal(t, m.ID, *m.Conversation.LatestMessageID)

	require.Equal(t, 1, f.rooms.count())
	call := f.rooms.calls[0]
	require.Equal(t, f.conv.ID, call.conversationID)
	require.Equal(t, f.ann.ID, call.exclude)
	require.Equal(t, wire.EventMessageReceived, call.frame.Event)
	require.Equal(t, []int64{m.ID}, sunk)

	history, err := f.p.History(context.Background(), f.bob.ID, f.conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, m.ID, history[0].ID)
}

func TestSendRejectsInvalidRequests(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"empty body", SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "   "}, apperr.ErrInvalidRequest},
		{"bad tag", SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "x", Tag: "video"}, apperr.ErrInvalidRequest},
		{"unknown conversation", SendRequest{SenderID: f.ann.ID, ConversationID: 999, Body: "x"}, apperr.ErrNotFound},
		{"not a participant", SendRequest{SenderID: f.eve.ID, ConversationID: f.conv.ID, Body: "x"}, apperr.ErrForbidden},
		{"command from outsider", SendRequest{SenderID: f.eve.ID, ConversationID: f.conv.ID, Body: "/ai hi"}, apperr.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.p.Send(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	require.Zero(t, f.rooms.count())
	history, err := f.store.History(ctx, f.conv.ID, 10)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestPersistenceFailureBroadcastsNothing(t *testing.T) {
	f := bootstrap(t)
	p := NewPipeline(failingStore{f.store}, f.rooms, zap.NewNop().Sugar())

	_, err := p.Send(context.Background(), SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "hello"})
	require.ErrorIs(t, err, apperr.ErrPersistence)
	require.Zero(t, f.rooms.count())
}

func TestAutomationCommandIsDelegated(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	_, err := f.p.Send(ctx, SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "/ai hi"})
	require.ErrorIs(t, err, apperr.ErrAutoResponder)

	var got string
	f.p.SetResponder(responderFunc(func(ctx context.Context, conversationID int64, query string) (Enriched, error) {
		got = query
		return f.p.Deliver(ctx, f.bob.ID, conversationID, "reply", storage.TagText)
	}))

	m, err := f.p.Send(ctx, SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "/ai  hi there "})
	require.NoError(t, err)
	require.Equal(t, "hi there", got)
	require.Equal(t, "reply", m.Body)

	history, err := f.store.History(ctx, f.conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, strings.HasPrefix(history[0].Body, CommandPrefix))
}

func TestRelay(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	// written by another process, never fanned out here
	stored, err := f.store.PersistMessage(ctx, storage.NewMessage{ConversationID: f.conv.ID, SenderID: f.ann.ID, Body: "from elsewhere"})
	require.NoError(t, err)

	_, _, err = f.p.Relay(ctx, f.bob.ID, stored.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, _, err = f.p.Relay(ctx, f.ann.ID, 999)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	m, sent, err := f.p.Relay(ctx, f.ann.ID, stored.ID)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, stored.ID, m.ID)

	_, sent, err = f.p.Relay(ctx, f.ann.ID, stored.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Equal(t, 1, f.rooms.count())

	delivered, err := f.p.Send(ctx, SendRequest{SenderID: f.ann.ID, ConversationID: f.conv.ID, Body: "live"})
	require.NoError(t, err)
	_, sent, err = f.p.Relay(ctx, f.ann.ID, delivered.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Equal(t, 2, f.rooms.count())
}

func TestRelaySystemAuthoredMessage(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	bot, err := f.store.ResolveOrCreateSystemUser(ctx, storage.SystemUser{Email: "bot@example.com", Name: "Bot"})
	require.NoError(t, err)
	stored, err := f.store.PersistMessage(ctx, storage.NewMessage{ConversationID: f.conv.ID, SenderID: bot.ID, Body: "answer"})
	require.NoError(t, err)

	_, _, err = f.p.Relay(ctx, f.eve.ID, stored.ID)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	m, sent, err := f.p.Relay(ctx, f.ann.ID, stored.ID)
	require.NoError(t, err)
	require.True(t, sent)
	require.Equal(t, "Bot", m.Sender.Name)
	require.Equal(t, bot.ID, f.rooms.calls[0].exclude)

	_, sent, err = f.p.Relay(ctx, f.bob.ID, stored.ID)
	require.NoError(t, err)
	require.False(t, sent)
	require.Equal(t, 1, f.rooms.count())
}

func TestHistoryRequiresParticipation(t *testing.T) {
	f := bootstrap(t)
	_, err := f.p.History(context.Background(), f.eve.ID, f.conv.ID, 10)
	require.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRecentSetEvictsOldest(t *testing.T) {
	s := newRecentSet(2)
	s.add(1)
	s.add(2)
	s.add(2)
	require.True(t, s.contains(1))
	s.add(3)
	require.False(t, s.contains(1))
	require.True(t, s.contains(2))
	require.True(t, s.contains(3))
}

func TestHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := bootstrap(t)

	r := gin.New()
	api := r.Group("/api", auth.JWTMiddleware("secret"))
	Register(api, f.p)

	tok, err := auth.NewToken("secret", f.ann.ID, 5)
	require.NoError(t, err)
	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/api/messages", fmt.Sprintf(`{"conversation_id": %d, "content": "hi", "type": "code"}`, f.conv.ID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var m Enriched
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.Equal(t, storage.TagCode, m.Tag)
	require.Equal(t, "hi", m.Body)

	w = do(http.MethodPost, "/api/messages", fmt.Sprintf(`{"conversation_id": %d}`, f.conv.ID))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages?limit=10", f.conv.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Messages []storage.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Messages, 1)

	w = do(http.MethodGet, "/api/conversations/999/messages", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}
