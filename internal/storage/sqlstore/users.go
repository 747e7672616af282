package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

const userColumns = `id, name, email, password_hash, avatar, last_active, created_at`

func scanUser(row scanner) (storage.User, error) {
	var (
		u          storage.User
		lastActive sql.NullInt64
		createdAt  int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Avatar, &lastActive, &createdAt); err != nil {
		return storage.User{}, err
	}
	if lastActive.Valid {
		t := fromMillis(lastActive.Int64)
		u.LastActive = &t
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// CreateUser inserts u and returns it with its id. ErrConflict if the email is taken.
func (s *Store) CreateUser(ctx context.Context, u storage.User) (storage.User, error) {
	s.logger.Debugf("Creating user (%s)", u.Email)

	now := s.now()
	err := s.db.QueryRowContext(ctx,
		s.q(`INSERT INTO users (name, email, password_hash, avatar, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Avatar, millis(now),
	).Scan(&u.ID)
	if err != nil {
		if s.unique(err) {
			return storage.User{}, storage.ErrConflict
		}
		return storage.User{}, err
	}
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt = fromMillis(millis(now))
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (storage.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	return u, err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (storage.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`), strings.ToLower(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.ErrNotFound
	}
	return u, err
}

// UsersByIDs returns the users that exist among ids, ordered by id.
func (s *Store) UsersByIDs(ctx context.Context, ids []int64) ([]storage.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SearchUsers matches name or email case-insensitively, excluding one user.
func (s *Store) SearchUsers(ctx context.Context, query string, excludeID int64, limit int) ([]storage.User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+userColumns+`
		  FROM users
		 WHERE (LOWER(name) LIKE ? OR email LIKE ?)
		   AND id <> ?
		   AND password_hash <> ''
		 ORDER BY name, id
		 LIMIT ?`), pattern, pattern, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfile changes the display fields of a user.
func (s *Store) UpdateProfile(ctx context.Context, id int64, name, avatar string) (storage.User, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET name = ?, avatar = ? WHERE id = ?`), name, avatar, id)
	if err != nil {
		return storage.User{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.User{}, storage.ErrNotFound
	}
	return s.UserByID(ctx, id)
}

// TouchLastActive records the last time the user was seen on a socket.
func (s *Store) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET last_active = ? WHERE id = ?`), millis(at), id)
	return err
}

// ResolveOrCreateSystemUser upserts a reserved account keyed by its email.
// Concurrent callers all end up with the same row. System accounts have an
// empty password hash and therefore cannot log in; an email already taken by
// a regular account yields ErrConflict.
func (s *Store) ResolveOrCreateSystemUser(ctx context.Context, su storage.SystemUser) (storage.User, error) {
	if su.Email == "" {
		return storage.User{}, fmt.Errorf("system user email is empty")
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (name, email, password_hash, avatar, created_at)
		VALUES (?, ?, '', ?, ?)
		ON CONFLICT (email) DO NOTHING`),
		su.Name, strings.ToLower(su.Email), su.Avatar, millis(s.now()))
	if err != nil {
		return storage.User{}, err
	}
	u, err := s.UserByEmail(ctx, su.Email)
	if err != nil {
		return storage.User{}, err
	}
	if !u.IsSystem() {
		return storage.User{}, fmt.Errorf("%w: %s belongs to a regular account", storage.ErrConflict, su.Email)
	}
	return u, nil
}
