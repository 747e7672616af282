package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlstore"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	Schema:            schema,
	IsUniqueViolation: isUniqueViolation,
}

func New(dsn string, logger *zap.SugaredLogger) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect, logger), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
