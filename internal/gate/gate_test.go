package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
	"github.com/rs/zerolog"
)

// --- fakes ---

type fakeAuth struct {
	hardware    bool
	enrolled    bool
	modalities  []models.Modality
	hardwareErr error

	outcome      models.ChallengeOutcome
	challengeErr error
	panicMsg     string
	// block, when set, holds Challenge until closed or ctx is done.
	block chan struct{}

	calls   atomic.Int32
	lastReq models.ChallengeRequest
	mu      sync.Mutex
}

func (f *fakeAuth) HasHardware(ctx context.Context) (bool, error) {
	return f.hardware, f.hardwareErr
}

func (f *fakeAuth) IsEnrolled(ctx context.Context) (bool, error) {
	return f.enrolled, nil
}

func (f *fakeAuth) SupportedModalities(ctx context.Context) ([]models.Modality, error) {
	return f.modalities, nil
}

func (f *fakeAuth) Challenge(ctx context.Context, req models.ChallengeRequest) (models.ChallengeOutcome, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.ChallengeOutcome{}, ctx.Err()
		}
	}
	return f.outcome, f.challengeErr
}

func biometricDevice(outcome models.OutcomeKind) *fakeAuth {
	return &fakeAuth{
		hardware:   true,
		enrolled:   true,
		modalities: []models.Modality{models.ModalityFingerprint},
		outcome:    models.ChallengeOutcome{Kind: outcome},
	}
}

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*storage.MemoryStore
	failGet, failSet, failDelete bool
}

var errDisk = errors.New("secure storage unavailable")

func (s *failingStore) Get(ctx context.Context, key string) (string, error) {
	if s.failGet {
		return "", errDisk
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.failSet {
		return errDisk
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	if s.failDelete {
		return errDisk
	}
	return s.MemoryStore.Delete(ctx, key)
}

type recorder struct {
	mu     sync.Mutex
	events []*models.GateEvent
}

func (r *recorder) Record(ctx context.Context, e *models.GateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Operation)
	}
	return out
}

func newTestGate(auth Authenticator, store FlagStore, opts ...Option) *Gate {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(auth, store, Config{}, opts...)
}

func flag(t *testing.T, store FlagStore) (string, bool) {
	t.Helper()
	v, err := store.Get(context.Background(), DefaultSessionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("reading flag: %v", err)
	}
	return v, true
}

func waitIdle(t *testing.T, g *Gate) models.SessionState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := g.State()
		if !s.IsLoading && s.LastResult != models.ResultUnattempted {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("gate did not settle")
	return models.SessionState{}
}

// --- tests ---

func TestAuthenticateWithoutHardwareAutoPasses(t *testing.T) {
	cases := []struct {
		name string
		auth *fakeAuth
	}{
		{"no hardware", &fakeAuth{}},
		{"no hardware but enrolled flag", &fakeAuth{enrolled: true}},
		{"no hardware with modalities", &fakeAuth{modalities: []models.Modality{models.ModalityFace}}},
		{"hardware not enrolled", &fakeAuth{hardware: true}},
		{"detection error", &fakeAuth{hardware: true, enrolled: true, hardwareErr: errors.New("binding missing")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			g := newTestGate(tc.auth, store)

			if !g.Authenticate(context.Background()) {
				t.Fatal("expected authenticate to pass without usable biometrics")
			}
			s := g.State()
			if !s.Authenticated || s.LastResult != models.ResultSuccess {
				t.Errorf("expected (true, success), got (%v, %s)", s.Authenticated, s.LastResult)
			}
			if n := tc.auth.calls.Load(); n != 0 {
				t.Errorf("expected no challenge, got %d", n)
			}
			if v, ok := flag(t, store); !ok || v != SessionValue {
				t.Errorf("expected persisted flag, got %q (present=%v)", v, ok)
			}
			if g.Phase() != models.PhaseUnlocked {
				t.Errorf("expected unlocked phase, got %s", g.Phase())
			}
		})
	}
}

func TestAuthenticateCancelledByUser(t *testing.T) {
	store := storage.NewMemoryStore()
	auth := biometricDevice(models.OutcomeCancelled)
	g := newTestGate(auth, store)

	if g.Authenticate(context.Background()) {
		t.Fatal("expected false on cancel")
	}
	s := g.State()
	if s.Authenticated || s.LastResult != models.ResultCancelled {
		t.Errorf("expected (false, cancelled), got (%v, %s)", s.Authenticated, s.LastResult)
	}
	if _, ok := flag(t, store); ok {
		t.Error("flag must not be persisted after cancel")
	}
	if auth.calls.Load() != 1 {
		t.Errorf("expected one challenge, got %d", auth.calls.Load())
	}
}

func TestAuthenticateSuccessPersistsFlag(t *testing.T) {
	store := storage.NewMemoryStore()
	g := newTestGate(biometricDevice(models.OutcomeSuccess), store)

	if !g.Authenticate(context.Background()) {
		t.Fatal("expected success")
	}
	s := g.State()
	if !s.Authenticated || s.LastResult != models.ResultSuccess {
		t.Errorf("expected (true, success), got (%v, %s)", s.Authenticated, s.LastResult)
	}
	if v, _ := flag(t, store); v != "authenticated" {
		t.Errorf("expected flag %q, got %q", "authenticated", v)
	}
	if g.Route() != models.RouteMain {
		t.Errorf("expected main route, got %s", g.Route())
	}
}

func TestAuthenticateFailureStaysLocked(t *testing.T) {
	store := storage.NewMemoryStore()
	auth := biometricDevice(models.OutcomeFailed)
	auth.outcome.Reason = "lockout"
	g := newTestGate(auth, store)
	g.RestoreSession(context.Background())

	if g.Authenticate(context.Background()) {
		t.Fatal("expected failure")
	}
	s := g.State()
	if s.Authenticated || s.LastResult != models.ResultFailure {
		t.Errorf("expected (false, failure), got (%v, %s)", s.Authenticated, s.LastResult)
	}
	if g.Phase() != models.PhaseLocked || g.Route() != models.RouteLock {
		t.Errorf("expected locked/lock, got %s/%s", g.Phase(), g.Route())
	}

	// Retrying is allowed and reaches the platform again.
	auth.outcome = models.ChallengeOutcome{Kind: models.OutcomeSuccess}
	if !g.Authenticate(context.Background()) {
		t.Fatal("expected retry to succeed")
	}
	if auth.calls.Load() != 2 {
		t.Errorf("expected two challenges, got %d", auth.calls.Load())
	}
}

func TestAuthenticateTransportErrorFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		auth *fakeAuth
	}{
		{"error returned", &fakeAuth{hardware: true, enrolled: true, challengeErr: errors.New("prompt service died")}},
		{"error with success outcome", &fakeAuth{hardware: true, enrolled: true,
			outcome: models.ChallengeOutcome{Kind: models.OutcomeSuccess}, challengeErr: errors.New("ipc reset")}},
		{"panic", &fakeAuth{hardware: true, enrolled: true, panicMsg: "native crash"}},
		{"unknown outcome", &fakeAuth{hardware: true, enrolled: true, outcome: models.ChallengeOutcome{Kind: "maybe"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			g := newTestGate(tc.auth, store)

			if g.Authenticate(context.Background()) {
				t.Fatal("expected false")
			}
			s := g.State()
			if s.Authenticated {
				t.Error("ambiguous failure must leave the session locked")
			}
			if s.LastResult != models.ResultError {
				t.Errorf("expected error result, got %s", s.LastResult)
			}
			if _, ok := flag(t, store); ok {
				t.Error("flag must not be persisted after error")
			}
		})
	}
}

func TestChallengeRequestOptions(t *testing.T) {
	auth := biometricDevice(models.OutcomeSuccess)
	g := newTestGate(auth, storage.NewMemoryStore())
	g.Authenticate(context.Background())

	auth.mu.Lock()
	req := auth.lastReq
	auth.mu.Unlock()
	if req.PromptText != "Authenticate to access your Video Journal" {
		t.Errorf("unexpected prompt %q", req.PromptText)
	}
	if !req.AllowDeviceFallback {
		t.Error("device passcode fallback should be allowed by default")
	}
	if req.FallbackLabel != "Use Passcode" || req.CancelLabel != "Cancel" {
		t.Errorf("unexpected labels %q / %q", req.FallbackLabel, req.CancelLabel)
	}

	auth2 := biometricDevice(models.OutcomeSuccess)
	g2 := New(auth2, storage.NewMemoryStore(), Config{PromptText: "Unlock", DisableDeviceFallback: true},
		WithLogger(zerolog.Nop()))
	g2.Authenticate(context.Background())
	if auth2.lastReq.PromptText != "Unlock" || auth2.lastReq.AllowDeviceFallback {
		t.Errorf("config not applied: %+v", auth2.lastReq)
	}
}

func TestRestoreSessionTrustsFlag(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Set(context.Background(), DefaultSessionKey, "authenticated") //nolint:errcheck
	auth := biometricDevice(models.OutcomeFailed)
	g := newTestGate(auth, store)

	if g.Route() != models.RouteLoading {
		t.Errorf("expected loading route before restore, got %s", g.Route())
	}
	if !g.RestoreSession(context.Background()) {
		t.Fatal("expected restored session")
	}
	if !g.State().Authenticated {
		t.Error("expected authenticated after restore")
	}
	if auth.calls.Load() != 0 {
		t.Errorf("restore must not prompt, got %d challenges", auth.calls.Load())
	}
	if g.Route() != models.RouteMain {
		t.Errorf("expected main route, got %s", g.Route())
	}
}

func TestRestoreSessionIsIdempotent(t *testing.T) {
	for _, present := range []bool{true, false} {
		store := storage.NewMemoryStore()
		if present {
			store.Set(context.Background(), DefaultSessionKey, SessionValue) //nolint:errcheck
		}
		g := newTestGate(biometricDevice(models.OutcomeSuccess), store)
		first := g.RestoreSession(context.Background())
		second := g.RestoreSession(context.Background())
		if first != second || first != present {
			t.Errorf("present=%v: restore returned %v then %v", present, first, second)
		}
	}
}

func TestRestoreSessionTreatsBadFlagAsAbsent(t *testing.T) {
	cases := []struct {
		name  string
		store FlagStore
	}{
		{"unexpected value", func() FlagStore {
			s := storage.NewMemoryStore()
			s.Set(context.Background(), DefaultSessionKey, "true") //nolint:errcheck
			return s
		}()},
		{"read failure", &failingStore{MemoryStore: storage.NewMemoryStore(), failGet: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGate(biometricDevice(models.OutcomeSuccess), tc.store)
			if g.RestoreSession(context.Background()) {
				t.Error("expected locked session")
			}
			if g.Phase() != models.PhaseLocked {
				t.Errorf("expected locked phase, got %s", g.Phase())
			}
		})
	}
}

func TestLogoutClearsPersistence(t *testing.T) {
	store := storage.NewMemoryStore()
	g := newTestGate(biometricDevice(models.OutcomeSuccess), store)
	if !g.Authenticate(context.Background()) {
		t.Fatal("expected success")
	}

	g.Logout(context.Background())
	if g.State().Authenticated {
		t.Error("expected locked after logout")
	}
	if !g.State().HasAttempted {
		t.Error("HasAttempted should survive logout by default")
	}
	if _, ok := flag(t, store); ok {
		t.Error("flag should be erased by logout")
	}

	fresh := newTestGate(biometricDevice(models.OutcomeSuccess), store)
	if fresh.RestoreSession(context.Background()) {
		t.Error("fresh gate must not restore after logout")
	}
}

func TestLogoutSwallowsStorageFailure(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore()}
	g := newTestGate(biometricDevice(models.OutcomeSuccess), store)
	g.Authenticate(context.Background())

	store.failDelete = true
	g.Logout(context.Background())
	if g.State().Authenticated || g.Phase() != models.PhaseLocked {
		t.Error("logout must lock even when erasure fails")
	}
}

func TestLogoutCanResetAttempt(t *testing.T) {
	g := New(biometricDevice(models.OutcomeSuccess), storage.NewMemoryStore(),
		Config{ResetAttemptOnLogout: true}, WithLogger(zerolog.Nop()))
	g.Authenticate(context.Background())
	g.Logout(context.Background())

	s := g.State()
	if s.HasAttempted || s.LastResult != models.ResultUnattempted {
		t.Errorf("expected attempt reset, got %+v", s)
	}
	if !ShouldAutoPrompt(s) {
		t.Error("lock screen should auto-prompt again after reset")
	}
}

func TestHasAttemptedSetOnInvocation(t *testing.T) {
	auth := biometricDevice(models.OutcomeFailed)
	auth.block = make(chan struct{})
	g := newTestGate(auth, storage.NewMemoryStore())

	if g.State().HasAttempted {
		t.Fatal("HasAttempted must start false")
	}

	done := make(chan bool)
	go func() { done <- g.Authenticate(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for auth.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s := g.State()
	if !s.HasAttempted {
		t.Error("HasAttempted must be set while the challenge is pending")
	}
	if !s.IsLoading {
		t.Error("IsLoading must be set while the challenge is pending")
	}

	close(auth.block)
	if <-done {
		t.Error("expected failure")
	}
	if s := g.State(); !s.HasAttempted || s.IsLoading {
		t.Errorf("unexpected settled state %+v", s)
	}
}

func TestPersistFailureDoesNotSurviveRestart(t *testing.T) {
	store := &failingStore{MemoryStore: storage.NewMemoryStore(), failSet: true}
	g := newTestGate(biometricDevice(models.OutcomeSuccess), store)

	if !g.Authenticate(context.Background()) {
		t.Fatal("authenticate should still succeed in memory")
	}
	if !g.State().Authenticated {
		t.Error("expected in-memory authenticated state")
	}

	fresh := newTestGate(biometricDevice(models.OutcomeSuccess), store)
	if fresh.RestoreSession(context.Background()) {
		t.Error("unpersisted success must not be trusted after restart")
	}
}

func TestConcurrentAuthenticateSharesChallenge(t *testing.T) {
	auth := biometricDevice(models.OutcomeSuccess)
	auth.block = make(chan struct{})
	g := newTestGate(auth, storage.NewMemoryStore())

	const callers = 5
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		go func() { results <- g.Authenticate(context.Background()) }()
	}

	deadline := time.Now().Add(2 * time.Second)
	for auth.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Give the other callers time to join the in-flight challenge.
	time.Sleep(50 * time.Millisecond)
	close(auth.block)

	for i := 0; i < callers; i++ {
		if !<-results {
			t.Error("every caller should see the shared success")
		}
	}
	if n := auth.calls.Load(); n != 1 {
		t.Errorf("expected a single native prompt, got %d", n)
	}
}

func TestAuthenticateContextCancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	auth := biometricDevice(models.OutcomeSuccess)
	auth.block = make(chan struct{})
	g := newTestGate(auth, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- g.Authenticate(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for auth.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if <-done {
		t.Error("cancelled caller must get false")
	}
	s := waitIdle(t, g)
	if s.Authenticated || s.LastResult != models.ResultCancelled {
		t.Errorf("expected (false, cancelled), got (%v, %s)", s.Authenticated, s.LastResult)
	}
	if _, ok := flag(t, store); ok {
		t.Error("flag must not be persisted after cancellation")
	}
}

func TestAuthenticateAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auth := &fakeAuth{}
	g := newTestGate(auth, storage.NewMemoryStore())

	if g.Authenticate(ctx) {
		t.Error("expected false for a dead context")
	}
	s := waitIdle(t, g)
	if s.Authenticated {
		t.Error("a dead context must not auto-pass")
	}
}

func TestCheckCapability(t *testing.T) {
	auth := &fakeAuth{hardware: true, enrolled: true,
		modalities: []models.Modality{models.ModalityFingerprint, models.ModalityFace}}
	g := newTestGate(auth, storage.NewMemoryStore())

	c := g.CheckCapability(context.Background())
	if !c.Usable() || c.Kind != models.ModalityFace {
		t.Errorf("unexpected capability %+v", c)
	}
	if g.Capability() != c {
		t.Error("snapshot should be retained")
	}

	failing := newTestGate(&fakeAuth{hardwareErr: errors.New("boom")}, storage.NewMemoryStore())
	c = failing.CheckCapability(context.Background())
	if c.HardwarePresent || c.Enrolled || c.Kind != models.ModalityNone {
		t.Errorf("detection failure should degrade to no biometrics, got %+v", c)
	}
}

func TestEventsRecorded(t *testing.T) {
	rec := &recorder{}
	g := newTestGate(biometricDevice(models.OutcomeSuccess), storage.NewMemoryStore(), WithRecorder(rec))
	ctx := context.Background()
	g.RestoreSession(ctx)
	g.Authenticate(ctx)
	g.Logout(ctx)

	want := []string{models.OpRestoreSession, models.OpCheckCapability, models.OpAuthenticate, models.OpLogout}
	got := rec.ops()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if rec.events[2].Result != models.ResultSuccess || !rec.events[2].Authenticated {
		t.Errorf("unexpected authenticate event %+v", rec.events[2])
	}
}

func TestSubscribe(t *testing.T) {
	g := newTestGate(biometricDevice(models.OutcomeSuccess), storage.NewMemoryStore())
	ch, unsubscribe := g.Subscribe()

	initial := <-ch
	if initial.Authenticated {
		t.Fatal("initial state should be locked")
	}

	g.Authenticate(context.Background())
	select {
	case s := <-ch:
		if !s.Authenticated {
			t.Errorf("expected latest state to be authenticated, got %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no state change delivered")
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	g.Logout(context.Background())
}
