package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	execer
}

// Conversation loads a conversation with its participants.
func (s *Store) Conversation(ctx context.Context, id int64) (storage.Conversation, error) {
	return s.conversation(ctx, s.db, id)
}

func (s *Store) conversation(ctx context.Context, db querier, id int64) (storage.Conversation, error) {
	var (
		c         storage.Conversation
		name      sql.NullString
		latest    sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := db.QueryRowContext(ctx,
		s.q(`SELECT id, name, is_group, latest_message_id, created_at, updated_at FROM conversations WHERE id = ?`), id,
	).Scan(&c.ID, &name, &c.IsGroup, &latest, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Conversation{}, storage.ErrNotFound
		}
		return storage.Conversation{}, err
	}
	c.Name = name.String
	if latest.Valid {
		v := latest.Int64
		c.LatestMessageID = &v
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)

	c.Participants, err = s.participants(ctx, db, id)
	if err != nil {
		return storage.Conversation{}, err
	}
	return c, nil
}

func (s *Store) participants(ctx context.Context, db querier, conversationID int64) ([]storage.Participant, error) {
	rows, err := db.QueryContext(ctx, s.q(`
		SELECT u.id, u.name, u.avatar, p.is_admin
		  FROM participants p
		  JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = ?
		 ORDER BY u.id`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Participant
	for rows.Next() {
		var p storage.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &p.IsAdmin); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ConversationsForUser lists the user's conversations, most recently active first.
func (s *Store) ConversationsForUser(ctx context.Context, userID int64) ([]storage.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT c.id
		  FROM conversations c
		  JOIN participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?
		 ORDER BY c.updated_at DESC, c.id DESC`), userID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	// close before the follow-up queries: SQLite runs on a single connection
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]storage.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.Conversation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// IsParticipant reports whether userID belongs to conversationID.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(1) FROM participants WHERE conversation_id = ? AND user_id = ?`), conversationID, userID,
	).Scan(&n)
	return n > 0, err
}

// CreatePrivateConversation returns the 1:1 conversation between a and b,
// creating it when missing. The bool is true when a new row was created.
func (s *Store) CreatePrivateConversation(ctx context.Context, a, b int64) (storage.Conversation, bool, error) {
	s.logger.Debugf("Resolving private conversation between %d and %d", a, b)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Conversation{}, false, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT c.id FROM conversations c
		  JOIN participants p1 ON p1.conversation_id = c.id AND p1.user_id = ?
		  JOIN participants p2 ON p2.conversation_id = c.id AND p2.user_id = ?
		 WHERE c.is_group = ?
		 LIMIT 1`), a, b, false).Scan(&id)
	switch {
	case err == nil:
		c, err := s.conversation(ctx, tx, id)
		if err != nil {
			return storage.Conversation{}, false, err
		}
		return c, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return storage.Conversation{}, false, err
	}

	if err := s.requireUsers(ctx, tx, []int64{a, b}); err != nil {
		return storage.Conversation{}, false, err
	}

	now := millis(s.now())
	err = tx.QueryRowContext(ctx,
		s.q(`INSERT INTO conversations (name, is_group, created_at, updated_at) VALUES (NULL, ?, ?, ?) RETURNING id`),
		false, now, now,
	).Scan(&id)
	if err != nil {
		return storage.Conversation{}, false, err
	}
	for _, uid := range []int64{a, b} {
		if err := s.addParticipant(ctx, tx, id, uid, false); err != nil {
			return storage.Conversation{}, false, err
		}
	}

	c, err := s.conversation(ctx, tx, id)
	if err != nil {
		return storage.Conversation{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Conversation{}, false, err
	}
	s.logger.Debugf("Created private conversation %d", id)
	return c, true, nil
}

// CreateGroup creates a named group administered by adminID.
func (s *Store) CreateGroup(ctx context.Context, name string, adminID int64, memberIDs []int64) (storage.Conversation, error) {
	s.logger.Debugf("Creating group (%s) with members (%v)", name, memberIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Conversation{}, err
	}
	defer tx.Rollback()

	members := append([]int64{adminID}, memberIDs...)
	if err := s.requireUsers(ctx, tx, members); err != nil {
		return storage.Conversation{}, err
	}

	var id int64
	now := millis(s.now())
	err = tx.QueryRowContext(ctx,
		s.q(`INSERT INTO conversations (name, is_group, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING id`),
		name, true, now, now,
	).Scan(&id)
	if err != nil {
		return storage.Conversation{}, err
	}
	if err := s.addParticipant(ctx, tx, id, adminID, true); err != nil {
		return storage.Conversation{}, err
	}
	for _, uid := range memberIDs {
		if uid == adminID {
			continue
		}
		if err := s.addParticipant(ctx, tx, id, uid, false); err != nil {
			return storage.Conversation{}, err
		}
	}

	c, err := s.conversation(ctx, tx, id)
	if err != nil {
		return storage.Conversation{}, err
	}
	return c, tx.Commit()
}

// AddParticipant adds userID to a group. Adding an existing member is a no-op.
func (s *Store) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.requireGroup(ctx, tx, conversationID); err != nil {
		return err
	}
	if err := s.requireUsers(ctx, tx, []int64{userID}); err != nil {
		return err
	}
	if err := s.addParticipant(ctx, tx, conversationID, userID, false); err != nil {
		return err
	}
	if err := s.touchConversation(ctx, tx, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveParticipant removes userID from a group.
func (s *Store) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.requireGroup(ctx, tx, conversationID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		s.q(`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`), conversationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	if err := s.touchConversation(ctx, tx, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) addParticipant(ctx context.Context, db execer, conversationID, userID int64, admin bool) error {
	_, err := db.ExecContext(ctx, s.q(`
		INSERT INTO participants (conversation_id, user_id, is_admin) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO NOTHING`), conversationID, userID, admin)
	return err
}

func (s *Store) touchConversation(ctx context.Context, db execer, conversationID int64) error {
	_, err := db.ExecContext(ctx, s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`), millis(s.now()), conversationID)
	return err
}

func (s *Store) requireGroup(ctx context.Context, db querier, conversationID int64) error {
	var isGroup bool
	err := db.QueryRowContext(ctx, s.q(`SELECT is_group FROM conversations WHERE id = ?`), conversationID).Scan(&isGroup)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !isGroup {
		return storage.ErrNotGroup
	}
	return nil
}

// requireUsers fails with ErrNotFound unless every id names an existing user.
func (s *Store) requireUsers(ctx context.Context, db querier, ids []int64) error {
	distinct := make(map[int64]struct{}, len(ids))
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, ok := distinct[id]; ok {
			continue
		}
		distinct[id] = struct{}{}
		args = append(args, id)
	}
	var n int
	err := db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(1) FROM users WHERE id IN (`+placeholders(len(args))+`)`), args...,
	).Scan(&n)
	if err != nil {
		return err
	}
	if n != len(args) {
		return storage.ErrNotFound
	}
	return nil
}
