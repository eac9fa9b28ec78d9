// Package gate decides whether the user is let past the journal lock screen.
//
// A Gate is the only writer of the session state and of the persisted
// session flag. It never returns collaborator errors: capability detection
// failures degrade to "no biometrics", challenge errors resolve to "still
// locked", and storage failures are logged and treated as an absent flag.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSessionKey is the storage key holding the session flag.
	DefaultSessionKey = "biometric_session"
	// SessionValue is the only flag value that counts as authenticated.
	SessionValue = "authenticated"

	flightKey = "authenticate"
)

// Config controls prompt copy and gate policy.
type Config struct {
	SessionKey    string
	PromptText    string
	FallbackLabel string
	CancelLabel   string
	// DisableDeviceFallback forbids the device passcode as an alternative
	// to biometrics. The fallback is allowed by default.
	DisableDeviceFallback bool
	// ResetAttemptOnLogout clears HasAttempted on logout so the lock screen
	// auto-prompts again within the same process.
	ResetAttemptOnLogout bool
}

func (c Config) withDefaults() Config {
	if c.SessionKey == "" {
		c.SessionKey = DefaultSessionKey
	}
	if c.PromptText == "" {
		c.PromptText = "Authenticate to access your Video Journal"
	}
	if c.FallbackLabel == "" {
		c.FallbackLabel = "Use Passcode"
	}
	if c.CancelLabel == "" {
		c.CancelLabel = "Cancel"
	}
	return c
}

// Option configures optional Gate collaborators.
type Option func(*Gate)

// WithRecorder attaches an audit recorder.
func WithRecorder(r EventRecorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// WithLogger replaces the global zerolog logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// Gate owns SessionState and the persisted session flag.
type Gate struct {
	auth     Authenticator
	store    FlagStore
	recorder EventRecorder
	cfg      Config
	logger   zerolog.Logger

	mu         sync.RWMutex
	capability models.DeviceCapability
	capChecked bool
	state      models.SessionState
	phase      models.Phase
	subs       map[int]chan models.SessionState
	nextSub    int

	flight singleflight.Group
}

// New creates a Gate in the Unknown phase. Call RestoreSession before
// showing any lock screen.
func New(auth Authenticator, store FlagStore, cfg Config, opts ...Option) *Gate {
	g := &Gate{
		auth:   auth,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: log.Logger,
		state:  models.SessionState{LastResult: models.ResultUnattempted},
		phase:  models.PhaseUnknown,
		capability: models.DeviceCapability{
			Kind: models.ModalityNone,
		},
		subs: map[int]chan models.SessionState{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "gate").Logger()
	return g
}

// State returns a snapshot of the observable session state.
func (g *Gate) State() models.SessionState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Phase returns the current lock state machine position.
func (g *Gate) Phase() models.Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.phase
}

// Capability returns the last capability snapshot. It is the zero
// capability until CheckCapability or Authenticate has run.
func (g *Gate) Capability() models.DeviceCapability {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.capability
}

// Route applies Decide to the current state.
func (g *Gate) Route() models.Route {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Decide(g.phase, g.state)
}

// CheckCapability queries hardware presence, enrollment, then supported
// modalities. Any failure yields a snapshot with no biometrics.
func (g *Gate) CheckCapability(ctx context.Context) models.DeviceCapability {
	capability, err := g.detect(ctx)
	if err != nil {
		capabilityErrorsTotal.Inc()
		g.logger.Warn().Err(err).Msg("capability detection failed, assuming no biometrics")
		capability = models.DeviceCapability{Kind: models.ModalityNone, CheckedAt: time.Now().UTC()}
	}

	g.mu.Lock()
	g.capability = capability
	g.capChecked = true
	g.mu.Unlock()

	g.logger.Debug().
		Bool("hardware", capability.HardwarePresent).
		Bool("enrolled", capability.Enrolled).
		Str("kind", string(capability.Kind)).
		Msg("capability checked")

	detail := "biometrics unavailable"
	if capability.Usable() {
		detail = "biometrics usable: " + string(capability.Kind)
	}
	g.record(ctx, models.OpCheckCapability, g.State(), detail)
	return capability
}

func (g *Gate) detect(ctx context.Context) (models.DeviceCapability, error) {
	capability := models.DeviceCapability{Kind: models.ModalityNone, CheckedAt: time.Now().UTC()}

	var hw bool
	if err := guard(func() (err error) {
		hw, err = g.auth.HasHardware(ctx)
		return err
	}); err != nil {
		return capability, err
	}
	if !hw {
		return capability, nil
	}

	var enrolled bool
	if err := guard(func() (err error) {
		enrolled, err = g.auth.IsEnrolled(ctx)
		return err
	}); err != nil {
		return capability, err
	}

	var mods []models.Modality
	if err := guard(func() (err error) {
		mods, err = g.auth.SupportedModalities(ctx)
		return err
	}); err != nil {
		return capability, err
	}

	capability.HardwarePresent = true
	capability.Enrolled = enrolled
	capability.Kind = models.BestModality(mods)
	return capability, nil
}

// Authenticate runs the lock screen challenge and reports whether the user
// is now authenticated. It never returns collaborator errors.
//
// Concurrent calls share one platform prompt; callers that join an
// in-flight challenge get its result. A caller whose context ends first
// gets false, and the challenge it started settles as cancelled.
func (g *Gate) Authenticate(ctx context.Context) bool {
	g.mu.Lock()
	g.state.HasAttempted = true
	g.mu.Unlock()
	g.notify()

	ch := g.flight.DoChan(flightKey, func() (any, error) {
		return g.authenticate(ctx), nil
	})
	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

func (g *Gate) authenticate(ctx context.Context) bool {
	g.setLoading(true)
	defer g.setLoading(false)

	g.mu.RLock()
	capability, checked := g.capability, g.capChecked
	g.mu.RUnlock()
	if !checked {
		capability = g.CheckCapability(ctx)
	}

	if err := ctx.Err(); err != nil {
		g.settle(ctx, models.ResultCancelled, "context done: "+err.Error())
		return false
	}

	if !capability.Usable() {
		g.logger.Info().Msg("biometrics not supported or not enrolled, allowing access")
		g.settle(ctx, models.ResultSuccess, "biometrics unavailable")
		return true
	}

	req := models.ChallengeRequest{
		PromptText:          g.cfg.PromptText,
		FallbackLabel:       g.cfg.FallbackLabel,
		CancelLabel:         g.cfg.CancelLabel,
		AllowDeviceFallback: !g.cfg.DisableDeviceFallback,
	}

	start := time.Now()
	var outcome models.ChallengeOutcome
	err := guard(func() (err error) {
		outcome, err = g.auth.Challenge(ctx, req)
		return err
	})
	challengeDuration.Observe(time.Since(start).Seconds())

	switch {
	case ctx.Err() != nil:
		// The caller went away; never unlock on its behalf.
		g.logger.Info().Err(ctx.Err()).Msg("challenge abandoned")
		g.settle(ctx, models.ResultCancelled, "context done: "+ctx.Err().Error())
	case err != nil:
		g.logger.Error().Err(err).Msg("authentication error")
		g.settle(ctx, models.ResultError, err.Error())
	case outcome.Kind == models.OutcomeSuccess:
		g.settle(ctx, models.ResultSuccess, "challenge passed")
	case outcome.Kind == models.OutcomeCancelled:
		g.logger.Info().Msg("challenge cancelled by user")
		g.settle(ctx, models.ResultCancelled, "cancelled by user")
	case outcome.Kind == models.OutcomeFailed:
		g.logger.Info().Str("reason", outcome.Reason).Msg("authentication failed")
		g.settle(ctx, models.ResultFailure, outcome.Reason)
	default:
		g.logger.Error().Str("kind", string(outcome.Kind)).Msg("unrecognized challenge outcome")
		g.settle(ctx, models.ResultError, "unrecognized outcome "+string(outcome.Kind))
	}

	return g.State().Authenticated
}

// settle applies an authenticate outcome. Only success unlocks and persists.
func (g *Gate) settle(ctx context.Context, result models.Result, detail string) {
	unlocked := result == models.ResultSuccess

	g.mu.Lock()
	g.state.Authenticated = unlocked
	g.state.LastResult = result
	if unlocked {
		g.phase = models.PhaseUnlocked
	} else {
		g.phase = models.PhaseLocked
	}
	state := g.state
	g.mu.Unlock()

	authenticateTotal.WithLabelValues(string(result)).Inc()
	setUnlockedGauge(unlocked)

	if unlocked {
		if err := guard(func() error { return g.store.Set(ctx, g.cfg.SessionKey, SessionValue) }); err != nil {
			storageErrorsTotal.WithLabelValues("set").Inc()
			g.logger.Error().Err(err).Msg("failed to persist session flag")
			detail += "; flag not persisted"
		}
	}

	g.record(ctx, models.OpAuthenticate, state, detail)
	g.notify()
}

// Logout locks the session and erases the persisted flag. Erasure is best
// effort: a storage failure is logged, never returned.
func (g *Gate) Logout(ctx context.Context) {
	g.mu.Lock()
	g.state.Authenticated = false
	g.phase = models.PhaseLocked
	if g.cfg.ResetAttemptOnLogout {
		g.state.HasAttempted = false
		g.state.LastResult = models.ResultUnattempted
	}
	state := g.state
	g.mu.Unlock()
	setUnlockedGauge(false)

	detail := "logged out"
	if err := guard(func() error { return g.store.Delete(ctx, g.cfg.SessionKey) }); err != nil {
		storageErrorsTotal.WithLabelValues("delete").Inc()
		g.logger.Error().Err(err).Msg("error erasing session flag")
		detail += "; flag not erased"
	} else {
		g.logger.Info().Msg("logged out successfully")
	}

	g.record(ctx, models.OpLogout, state, detail)
	g.notify()
}

// RestoreSession trusts a previously persisted flag without prompting.
// A missing, unreadable or unexpected flag leaves the session locked.
func (g *Gate) RestoreSession(ctx context.Context) bool {
	var value string
	err := guard(func() (err error) {
		value, err = g.store.Get(ctx, g.cfg.SessionKey)
		return err
	})

	found := false
	detail := "no session flag"
	switch {
	case err == nil && value == SessionValue:
		found = true
		detail = "session flag present"
	case err == nil:
		g.logger.Warn().Msg("session flag has unexpected value, ignoring")
		detail = "unexpected session flag value"
	case errors.Is(err, storage.ErrNotFound):
	default:
		storageErrorsTotal.WithLabelValues("get").Inc()
		g.logger.Warn().Err(err).Msg("session flag unreadable, treating as absent")
		detail = "session flag unreadable"
	}

	g.mu.Lock()
	if found {
		g.state.Authenticated = true
	}
	if g.state.Authenticated {
		g.phase = models.PhaseUnlocked
	} else {
		g.phase = models.PhaseLocked
	}
	state := g.state
	g.mu.Unlock()
	setUnlockedGauge(state.Authenticated)

	g.logger.Info().Bool("authenticated", state.Authenticated).Msg("session restored")
	g.record(ctx, models.OpRestoreSession, state, detail)
	g.notify()
	return state.Authenticated
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers only ever see the most recent state. Call the
// returned function to unsubscribe.
func (g *Gate) Subscribe() (<-chan models.SessionState, func()) {
	ch := make(chan models.SessionState, 1)
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	ch <- g.state
	g.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
			close(ch)
		})
	}
}

func (g *Gate) notify() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ch := range g.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- g.state:
		default:
		}
	}
}

func (g *Gate) setLoading(loading bool) {
	g.mu.Lock()
	g.state.IsLoading = loading
	g.mu.Unlock()
	g.notify()
}

func (g *Gate) record(ctx context.Context, op string, state models.SessionState, detail string) {
	if g.recorder == nil {
		return
	}
	result := state.LastResult
	if op != models.OpAuthenticate {
		result = ""
	}
	g.recorder.Record(ctx, &models.GateEvent{
		Operation:     op,
		Result:        result,
		Authenticated: state.Authenticated,
		Detail:        detail,
	})
}
