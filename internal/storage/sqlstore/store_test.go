package sqlstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/storage"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlite"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlstore"
)

func bootstrap(t *testing.T) *sqlstore.Store {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s, err := sqlite.New(":memory:", logger.Sugar())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func createUser(t *testing.T, s *sqlstore.Store, name string) storage.User {
	u, err := s.CreateUser(context.Background(), storage.User{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return u
}

func TestCreateUserExists(t *testing.T) {
	s := bootstrap(t)
	createUser(t, s, "ann")

	_, err := s.CreateUser(context.Background(), storage.User{Name: "Ann", Email: "ANN@example.com", PasswordHash: "x"})
	require.Equal(t, storage.ErrConflict, err)
}

func TestUserLookups(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann")
	bob := createUser(t, s, "bob")

	got, err := s.UserByEmail(ctx, "Ann@Example.com")
	require.NoError(t, err)
	require.Equal(t, ann.ID, got.ID)

	_, err = s.UserByID(ctx, 999)
	require.Equal(t, storage.ErrNotFound, err)

	users, err := s.UsersByIDs(ctx, []int64{bob.ID, ann.ID, 999})
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, ann.ID, users[0].ID)

	found, err := s.SearchUsers(ctx, "BO", ann.ID, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, bob.ID, found[0].ID)

	updated, err := s.UpdateProfile(ctx, ann.ID, "Annie", "/uploads/a.png")
	require.NoError(t, err)
	require.Equal(t, "Annie", updated.Name)
	require.Equal(t, "/uploads/a.png", updated.Avatar)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.TouchLastActive(ctx, ann.ID, at))
	got, err = s.UserByID(ctx, ann.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActive)
	require.True(t, at.Equal(*got.LastActive))
}

func TestResolveOrCreateSystemUserIsIdempotent(t *testing.T) {
	s := bootstrap(t)
	su := storage.SystemUser{Email: "assistant@codecollab.local", Name: "AI Assistant"}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]struct{}{}
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := s.ResolveOrCreateSystemUser(context.Background(), su)
			require.NoError(t, err)
			mu.Lock()
			ids[u.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, ids, 1)

	// system accounts never show up in searches
	found, err := s.SearchUsers(context.Background(), "assistant", 0, 10)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestResolveOrCreateSystemUserRefusesRegularAccount(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	mallory := createUser(t, s, "mallory")

	_, err := s.ResolveOrCreateSystemUser(ctx, storage.SystemUser{Email: "MALLORY@example.com", Name: "AI Assistant"})
	require.ErrorIs(t, err, storage.ErrConflict)

	got, err := s.UserByID(ctx, mallory.ID)
	require.NoError(t, err)
	require.Equal(t, "mallory", got.Name)
	require.False(t, got.IsSystem())
}

func TestCreatePrivateConversationReusesExisting(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann")
	bob := createUser(t, s, "bob")

	c1, created, err := s.CreatePrivateConversation(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.False(t, c1.IsGroup)
	require.Len(t, c1.Participants, 2)

	c2, created, err := s.CreatePrivateConversation(ctx, bob.ID, ann.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, c1.ID, c2.ID)

	_, _, err = s.CreatePrivateConversation(ctx, ann.ID, 999)
	require.Equal(t, storage.ErrNotFound, err)
}

func TestGroupMembership(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann")
	bob := createUser(t, s, "bob")
	cid := createUser(t, s, "cid")

	g, err := s.CreateGroup(ctx, "devs", ann.ID, []int64{bob.ID, ann.ID})
	require.NoError(t, err)
	require.True(t, g.IsGroup)
	require.Equal(t, "devs", g.Name)
	require.True(t, g.IsAdmin(ann.ID))
	require.False(t, g.IsAdmin(bob.ID))
	require.Len(t, g.Participants, 2)

	require.NoError(t, s.AddParticipant(ctx, g.ID, cid.ID))
	require.NoError(t, s.AddParticipant(ctx, g.ID, cid.ID))
	ok, err := s.IsParticipant(ctx, g.ID, cid.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.RemoveParticipant(ctx, g.ID, bob.ID))
	require.Equal(t, storage.ErrNotFound, s.RemoveParticipant(ctx, g.ID, bob.ID))

	dm, _, err := s.CreatePrivateConversation(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	require.Equal(t, storage.ErrNotGroup, s.AddParticipant(ctx, dm.ID, cid.ID))

	list, err := s.ConversationsForUser(ctx, ann.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestPersistMessageUpdatesLatest(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann")
	bob := createUser(t, s, "bob")
	c, _, err := s.CreatePrivateConversation(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	m, err := s.PersistMessage(ctx, storage.NewMessage{ConversationID: c.ID, SenderID: ann.ID, Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, storage.TagText, m.Tag)

	c, err = s.Conversation(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, c.LatestMessageID)
	require.Equal(t, m.ID, *c.LatestMessageID)

	got, err := s.Message(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestPersistMessageUnknownConversation(t *testing.T) {
	s := bootstrap(t)
	ann := createUser(t, s, "ann")

	_, err := s.PersistMessage(context.Background(), storage.NewMessage{ConversationID: 42, SenderID: ann.ID, Body: "hi"})
	require.Error(t, err)
}

func TestHistoryOrdering(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	ann := createUser(t, s, "ann")
	bob := createUser(t, s, "bob")
	c, _, err := s.CreatePrivateConversation(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(time.Second), base.Add(time.Second), base.Add(3 * time.Second)}
	var ids []int64
	for i, at := range stamps {
		m, err := s.PersistMessage(ctx, storage.NewMessage{
			ConversationID: c.ID, SenderID: ann.ID, Body: fmt.Sprintf("m%d", i), CreatedAt: at,
		})
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	history, err := s.History(ctx, c.ID, 50)
	require.NoError(t, err)
	require.Len(t, history, len(ids))
	for i, m := range history {
		require.Equal(t, ids[i], m.ID, "position %d", i)
	}

	// limit keeps the newest messages, still in ascending order
	tail, err := s.History(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{ids[2], ids[3]}, []int64{tail[0].ID, tail[1].ID})
}
