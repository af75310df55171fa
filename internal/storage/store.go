package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// ErrUnavailable marks a persistence failure. A dispatch that hits it cannot
// record the next state and must answer the request with a failure.
var ErrUnavailable = errors.New("session store unavailable")

// Store defines the interface for session persistence
type Store interface {
	// Session state operations. ok=false means the user has no entry yet.
	GetState(ctx context.Context, id models.UserIdentity) (state string, ok bool, err error)
	SetState(ctx context.Context, id models.UserIdentity, state models.SessionState) error

	// Session context operations. A missing or unreadable context comes back
	// empty, never nil.
	GetContext(ctx context.Context, id models.UserIdentity) (*models.SessionContext, error)
	SetContext(ctx context.Context, id models.UserIdentity, sc *models.SessionContext) error

	// SaveSession writes state and context together. Either both are
	// stored or neither is.
	SaveSession(ctx context.Context, id models.UserIdentity, state models.SessionState, sc *models.SessionContext) error

	// Menu cache operations. A missing entry comes back as nil, nil.
	GetMenu(ctx context.Context, key string) (*models.MenuCacheEntry, error)
	PutMenu(ctx context.Context, entry *models.MenuCacheEntry) error

	Ping(ctx context.Context) error
	Close() error
}

// unavailable wraps a backend error so callers can test for ErrUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
