package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/journalgate/pkg/models"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when a stored value exists but cannot be decoded.
var ErrCorrupt = errors.New("stored value is corrupt")

// FlagStore is app-private key/value storage for session flags.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// EventStore persists gate audit events.
type EventStore interface {
	WriteEvent(ctx context.Context, event *models.GateEvent) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]*models.GateEvent, error)
}

// EventFilter specifies query parameters for audit event retrieval.
type EventFilter struct {
	Operation string
	Since     *time.Time
	Limit     int
	Offset    int
}

// Backend is a store that holds both flags and events and owns resources.
type Backend interface {
	FlagStore
	EventStore
	Close()
}

const defaultEventLimit = 100

func (f EventFilter) limit() int {
	if f.Limit <= 0 {
		return defaultEventLimit
	}
	return f.Limit
}
