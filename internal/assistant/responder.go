// Package assistant answers "/ai " commands with a canned reply posted by a
// reserved system user.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/apperr"
	"github.com/ageniuscoder/codecollab/backend/internal/messages"
	"github.com/ageniuscoder/codecollab/backend/internal/storage"
)

// Users resolves the assistant account.
type Users interface {
	ResolveOrCreateSystemUser(ctx context.Context, su storage.SystemUser) (storage.User, error)
}

// Deliverer persists and fans out the reply.
type Deliverer interface {
	Deliver(ctx context.Context, senderID, conversationID int64, body string, tag storage.PayloadTag) (messages.Enriched, error)
}

type Responder struct {
	users    Users
	pipeline Deliverer
	identity storage.SystemUser
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	userID int64
}

func New(users Users, pipeline Deliverer, identity storage.SystemUser, logger *zap.SugaredLogger) *Responder {
	return &Responder{
		users:    users,
		pipeline: pipeline,
		identity: identity,
		logger:   logger,
	}
}

// Respond answers query, the command text after the prefix, in conversationID.
func (r *Responder) Respond(ctx context.Context, conversationID int64, query string) (messages.Enriched, error) {
	if query == "" {
		return messages.Enriched{}, fmt.Errorf("%w: empty assistant query", apperr.ErrInvalidRequest)
	}

	senderID, err := r.resolve(ctx)
	if err != nil {
		r.logger.Errorw("resolving assistant user", "email", r.identity.Email, "error", err)
		return messages.Enriched{}, fmt.Errorf("%w: %v", apperr.ErrAutoResponder, err)
	}

	m, err := r.pipeline.Deliver(ctx, senderID, conversationID, Reply(query), storage.TagText)
	if err != nil {
		return messages.Enriched{}, fmt.Errorf("%w: %v", apperr.ErrAutoResponder, err)
	}
	r.logger.Debugf("Assistant replied in conversation (id: %d) with message (id: %d)", conversationID, m.ID)
	return m, nil
}

func (r *Responder) resolve(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userID != 0 {
		return r.userID, nil
	}
	u, err := r.users.ResolveOrCreateSystemUser(ctx, r.identity)
	if err != nil {
		return 0, err
	}
	r.userID = u.ID
	return u.ID, nil
}

// Reply renders the canned answer to query.
func Reply(query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is a starting point for %q:\n\n", query)
	b.WriteString("```go\n")
	b.WriteString("// Generated by the assistant.\n")
	b.WriteString("func solution() bool {\n")
	fmt.Fprintf(&b, "\tfmt.Println(%q)\n", "solution for: "+query)
	b.WriteString("\treturn true\n")
	b.WriteString("}\n")
	b.WriteString("```")
	return b.String()
}
