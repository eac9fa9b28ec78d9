package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
	"github.com/rs/zerolog/log"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// WithRequestID tags ctx so events recorded under it carry the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext returns the request ID attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// Logger writes gate events to an EventStore.
type Logger struct {
	store storage.EventStore
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.EventStore) *Logger {
	return &Logger{store: store}
}

// Record stamps and stores one gate event. Audit failures never reach the
// gate; they are logged instead. The write outlives ctx cancellation so a
// challenge abandoned mid-prompt is still recorded.
func (l *Logger) Record(ctx context.Context, event *models.GateEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	event.Timestamp = time.Now().UTC()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.store.WriteEvent(writeCtx, event); err != nil {
		log.Warn().Err(err).Str("operation", event.Operation).Msg("failed to write audit event")
	}
}

// Query retrieves paginated audit events, newest first.
func (l *Logger) Query(ctx context.Context, filter storage.EventFilter) ([]*models.GateEvent, error) {
	return l.store.QueryEvents(ctx, filter)
}
