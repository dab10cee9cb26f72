// Package store defines the persistence interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/convoychat/convoy/internal/domain"
)

// Store defines the interface for conversation persistence. All writes on the
// hot path are best-effort from the caller's point of view: the session
// manager logs and swallows failures rather than failing the live turn.
type Store interface {
	// CreateSession creates the durable session record with start time = now.
	CreateSession(ctx context.Context, sessionID, userID string) error

	// GetSession retrieves a session, or (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpdateSessionSummary writes end time, duration and summary in one
	// update. The three fields are never written separately.
	UpdateSessionSummary(ctx context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error

	// InsertEvent appends one turn. The event ID is backfilled.
	InsertEvent(ctx context.Context, event *domain.Event) error

	// GetSessionEvents returns all events for a session in insertion order.
	GetSessionEvents(ctx context.Context, sessionID string) ([]domain.Event, error)

	// Lifecycle
	Close() error
}
