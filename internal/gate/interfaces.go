package gate

import (
	"context"
	"fmt"

	"github.com/org/journalgate/pkg/models"
)

// Authenticator is the platform biometric surface the gate consumes.
type Authenticator interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	SupportedModalities(ctx context.Context) ([]models.Modality, error)
	// Challenge shows the system prompt. A returned error means the platform
	// call itself broke, not that the user failed the prompt.
	Challenge(ctx context.Context, req models.ChallengeRequest) (models.ChallengeOutcome, error)
}

// FlagStore is the secure key/value storage holding the session flag.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// EventRecorder receives one event per gate operation. Implementations must
// not block for long and must not fail the caller.
type EventRecorder interface {
	Record(ctx context.Context, event *models.GateEvent)
}

// guard runs a collaborator call and converts a panic into an error, so a
// misbehaving platform binding can never take the gate down with it.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	return fn()
}
