package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

const messageColumns = `id, conversation_id, sender_id, content, type, created_at`

func scanMessage(row scanner) (storage.Message, error) {
	var (
		m         storage.Message
		tag       string
		createdAt int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &tag, &createdAt); err != nil {
		return storage.Message{}, err
	}
	m.Tag = storage.PayloadTag(tag)
	m.CreatedAt = fromMillis(createdAt)
	return m, nil
}

// PersistMessage inserts the message and moves the conversation's latest
// message reference in a single transaction.
func (s *Store) PersistMessage(ctx context.Context, nm storage.NewMessage) (storage.Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in conversation (id: %d)", nm.SenderID, nm.ConversationID)

	if nm.CreatedAt.IsZero() {
		nm.CreatedAt = s.now()
	}
	if nm.Tag == "" {
		nm.Tag = storage.TagText
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Message{}, err
	}
	defer tx.Rollback()

	m := storage.Message{
		ConversationID: nm.ConversationID,
		SenderID:       nm.SenderID,
		Body:           nm.Body,
		Tag:            nm.Tag,
		CreatedAt:      fromMillis(millis(nm.CreatedAt)),
	}
	err = tx.QueryRowContext(ctx,
		s.q(`INSERT INTO messages (conversation_id, sender_id, content, type, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		m.ConversationID, m.SenderID, m.Body, string(m.Tag), millis(m.CreatedAt),
	).Scan(&m.ID)
	if err != nil {
		return storage.Message{}, err
	}

	if err := s.updateLatestMessage(ctx, tx, m.ConversationID, m.ID); err != nil {
		return storage.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.Message{}, err
	}
	return m, nil
}

// UpdateLatestMessage points the conversation at messageID.
func (s *Store) UpdateLatestMessage(ctx context.Context, conversationID, messageID int64) error {
	return s.updateLatestMessage(ctx, s.db, conversationID, messageID)
}

func (s *Store) updateLatestMessage(ctx context.Context, db execer, conversationID, messageID int64) error {
	res, err := db.ExecContext(ctx,
		s.q(`UPDATE conversations SET latest_message_id = ?, updated_at = ? WHERE id = ?`),
		messageID, millis(s.now()), conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Message(ctx context.Context, id int64) (storage.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, s.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Message{}, storage.ErrNotFound
	}
	return m, err
}

// History returns the latest limit messages of a conversation ordered from
// oldest to newest by (created_at, id).
func (s *Store) History(ctx context.Context, conversationID int64, limit int) ([]storage.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+`
		  FROM messages
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
