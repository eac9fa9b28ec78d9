package biometric

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/org/journalgate/pkg/models"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const (
	defaultMaxAttempts = 5
	defaultLockout     = 30 * time.Second
)

// ErrNotTerminal is returned when the passcode prompt has no terminal to read from.
var ErrNotTerminal = errors.New("stdin is not a terminal")

// HashPasscode returns the bcrypt hash stored in config for a passcode.
func HashPasscode(passcode string) (string, error) {
	if passcode == "" {
		return "", errors.New("passcode must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing passcode: %w", err)
	}
	return string(h), nil
}

// PasscodeConfig configures the terminal passcode authenticator.
type PasscodeConfig struct {
	Hash        string        `yaml:"passcode_hash"`
	MaxAttempts int           `yaml:"max_attempts"`
	Lockout     time.Duration `yaml:"lockout"`
}

// Passcode stands in for the device passcode on a terminal. A configured
// hash counts as an enrolled credential. After MaxAttempts consecutive
// mismatches it refuses to prompt until the lockout elapses.
type Passcode struct {
	hash        []byte
	maxAttempts int
	lockout     time.Duration

	out  io.Writer
	read func() ([]byte, error)
	now  func() time.Time

	mu          sync.Mutex
	failures    int
	lockedUntil time.Time
}

// NewPasscode returns a Passcode that prompts on stderr and reads stdin without echo.
func NewPasscode(cfg PasscodeConfig) *Passcode {
	p := &Passcode{
		hash:        []byte(cfg.Hash),
		maxAttempts: cfg.MaxAttempts,
		lockout:     cfg.Lockout,
		out:         os.Stderr,
		read:        readTerminal,
		now:         time.Now,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.lockout <= 0 {
		p.lockout = defaultLockout
	}
	return p
}

func readTerminal() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	return term.ReadPassword(fd)
}

func (p *Passcode) HasHardware(ctx context.Context) (bool, error) {
	return len(p.hash) > 0, nil
}

func (p *Passcode) IsEnrolled(ctx context.Context) (bool, error) {
	return len(p.hash) > 0, nil
}

func (p *Passcode) SupportedModalities(ctx context.Context) ([]models.Modality, error) {
	if len(p.hash) == 0 {
		return nil, nil
	}
	return []models.Modality{models.ModalityOther}, nil
}

// Challenge prompts for the passcode. An empty entry cancels.
func (p *Passcode) Challenge(ctx context.Context, req models.ChallengeRequest) (models.ChallengeOutcome, error) {
	if !req.AllowDeviceFallback {
		return models.ChallengeOutcome{Kind: models.OutcomeFailed, Reason: "device_fallback_disabled"}, nil
	}

	p.mu.Lock()
	locked := p.now().Before(p.lockedUntil)
	p.mu.Unlock()
	if locked {
		return models.ChallengeOutcome{Kind: models.OutcomeFailed, Reason: "lockout"}, nil
	}

	fmt.Fprintf(p.out, "%s\n%s (leave empty to %s): ", req.PromptText, req.FallbackLabel, strings.ToLower(req.CancelLabel))

	type readResult struct {
		data []byte
		err  error
	}
	// The read cannot be interrupted; on cancellation the goroutine ends
	// with the next line of input.
	ch := make(chan readResult, 1)
	go func() {
		data, err := p.read()
		ch <- readResult{data, err}
	}()

	var res readResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return models.ChallengeOutcome{}, ctx.Err()
	}
	fmt.Fprintln(p.out)
	if res.err != nil {
		return models.ChallengeOutcome{}, fmt.Errorf("reading passcode: %w", res.err)
	}

	entered := strings.TrimSpace(string(res.data))
	if entered == "" {
		return models.ChallengeOutcome{Kind: models.OutcomeCancelled}, nil
	}

	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(entered)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return models.ChallengeOutcome{}, fmt.Errorf("checking passcode: %w", err)
		}
		return p.recordFailure(), nil
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
	return models.ChallengeOutcome{Kind: models.OutcomeSuccess}, nil
}

func (p *Passcode) recordFailure() models.ChallengeOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	if p.failures >= p.maxAttempts {
		p.failures = 0
		p.lockedUntil = p.now().Add(p.lockout)
		return models.ChallengeOutcome{Kind: models.OutcomeFailed, Reason: "lockout"}
	}
	return models.ChallengeOutcome{Kind: models.OutcomeFailed, Reason: "not_recognized"}
}
