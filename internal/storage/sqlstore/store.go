// Package sqlstore implements the persistence collaborator on database/sql.
// The same queries run on SQLite and PostgreSQL; a Dialect supplies the
// placeholder style, schema and driver specific error checks.
package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect struct {
	Name string
	// Numbered selects $1, $2 placeholders instead of ?.
	Numbered bool
	// Schema is a list of DDL statements separated by semicolons.
	Schema string
	// IsUniqueViolation reports whether err came from a unique constraint.
	IsUniqueViolation func(error) bool
}

// Store defines fields used in db interaction processes.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// New wraps an opened *sql.DB.
func New(db *sql.DB, dialect Dialect, logger *zap.SugaredLogger) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle, mostly for tests and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate executes the dialect schema statement by statement.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(s.dialect.Schema, ";") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return err
		}
	}
	s.logger.Infof("%s schema migrated", s.dialect.Name)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// q rewrites ? placeholders for dialects with numbered parameters.
func (s *Store) q(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) unique(err error) bool {
	return s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
