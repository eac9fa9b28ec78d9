package models

import "time"

// Modality is the best biometric modality a device offers. It only affects
// prompt copy.
type Modality string

const (
	ModalityNone        Modality = "none"
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityOther       Modality = "other"
)

// BestModality picks the modality used for prompt copy. Face wins over
// fingerprint, matching the lock screen's "Face ID" / "Touch ID" labels.
func BestModality(mods []Modality) Modality {
	best := ModalityNone
	for _, m := range mods {
		switch m {
		case ModalityFace:
			return ModalityFace
		case ModalityFingerprint:
			best = ModalityFingerprint
		case ModalityOther:
			if best == ModalityNone {
				best = ModalityOther
			}
		}
	}
	return best
}

// DeviceCapability is a read-only snapshot of the device's biometric support.
type DeviceCapability struct {
	HardwarePresent bool
	Enrolled        bool
	Kind            Modality
	CheckedAt       time.Time
}

// Usable reports whether a biometric challenge can be issued.
func (c DeviceCapability) Usable() bool {
	return c.HardwarePresent && c.Enrolled
}

// Result is the outcome of the most recent authentication attempt.
type Result string

const (
	ResultUnattempted Result = "unattempted"
	ResultSuccess     Result = "success"
	ResultFailure     Result = "failure"
	ResultCancelled   Result = "cancelled"
	ResultError       Result = "error"
)

// SessionState is the gate's observable state.
type SessionState struct {
	Authenticated bool
	HasAttempted  bool
	IsLoading     bool
	LastResult    Result
}

// Phase is the lock state machine position.
type Phase string

const (
	PhaseUnknown  Phase = "unknown"
	PhaseLocked   Phase = "locked"
	PhaseUnlocked Phase = "unlocked"
)

// Route is the screen a navigator should show for the current state.
type Route string

const (
	RouteLoading Route = "loading"
	RouteMain    Route = "main"
	RouteLock    Route = "lock"
)

// OutcomeKind classifies a completed platform challenge.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
)

// ChallengeOutcome is what the platform returns for a biometric prompt.
// Reason is set for failed outcomes (e.g. "lockout", "not_recognized").
type ChallengeOutcome struct {
	Kind   OutcomeKind
	Reason string
}

// ChallengeRequest carries the prompt options passed to the platform.
type ChallengeRequest struct {
	PromptText          string
	FallbackLabel       string
	CancelLabel         string
	AllowDeviceFallback bool
}
