// Package biometric provides Authenticator implementations for hosts
// without a mobile biometric SDK.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/org/journalgate/pkg/models"
)

// SimulatedConfig describes a fake device. It is loaded from the server's
// config file for development and demo deployments.
type SimulatedConfig struct {
	Hardware   bool              `yaml:"hardware"`
	Enrolled   bool              `yaml:"enrolled"`
	Modalities []models.Modality `yaml:"modalities"`
	// Outcome is one of success, cancelled or failed.
	Outcome    string        `yaml:"outcome"`
	FailReason string        `yaml:"fail_reason"`
	Latency    time.Duration `yaml:"latency"`
	// Error, when set, makes every challenge fail at the platform level.
	Error string `yaml:"error"`
}

// Simulated is a scripted Authenticator.
type Simulated struct {
	mu  sync.RWMutex
	cfg SimulatedConfig
}

// NewSimulated returns a Simulated device. An empty Outcome means success.
func NewSimulated(cfg SimulatedConfig) (*Simulated, error) {
	if err := validateOutcome(cfg.Outcome); err != nil {
		return nil, err
	}
	return &Simulated{cfg: cfg}, nil
}

func validateOutcome(o string) error {
	switch models.OutcomeKind(o) {
	case "", models.OutcomeSuccess, models.OutcomeCancelled, models.OutcomeFailed:
		return nil
	}
	return fmt.Errorf("unknown simulated outcome %q", o)
}

// SetOutcome changes the scripted outcome for later challenges.
func (s *Simulated) SetOutcome(outcome, reason string) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Outcome = outcome
	s.cfg.FailReason = reason
	return nil
}

func (s *Simulated) HasHardware(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Hardware, nil
}

func (s *Simulated) IsEnrolled(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Enrolled, nil
}

func (s *Simulated) SupportedModalities(ctx context.Context) ([]models.Modality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Modality(nil), s.cfg.Modalities...), nil
}

// Challenge waits for the configured latency, then returns the scripted
// outcome. Context cancellation during the wait is reported as an error.
func (s *Simulated) Challenge(ctx context.Context, req models.ChallengeRequest) (models.ChallengeOutcome, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	if cfg.Latency > 0 {
		timer := time.NewTimer(cfg.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return models.ChallengeOutcome{}, ctx.Err()
		}
	}
	if cfg.Error != "" {
		return models.ChallengeOutcome{}, errors.New(cfg.Error)
	}

	kind := models.OutcomeKind(cfg.Outcome)
	if kind == "" {
		kind = models.OutcomeSuccess
	}
	out := models.ChallengeOutcome{Kind: kind}
	if kind == models.OutcomeFailed {
		out.Reason = cfg.FailReason
		if out.Reason == "" {
			out.Reason = "not_recognized"
		}
	}
	return out, nil
}
