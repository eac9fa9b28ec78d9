package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/org/journalgate/internal/biometric"
	"github.com/org/journalgate/internal/gate"
	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newLocalGate builds a gate on this machine: the terminal passcode stands in
// for the device prompt and the session flag lives in the configured file.
func newLocalGate() (*gate.Gate, error) {
	var flags storage.FlagStore = storage.NewFileStore(cfg.FlagFile)
	if cfg.EncryptionSecret != "" {
		enc, err := storage.NewEncryptedStore(flags, []byte(cfg.EncryptionSecret))
		if err != nil {
			return nil, err
		}
		flags = enc
	}

	device := biometric.NewPasscode(biometric.PasscodeConfig{
		Hash:        cfg.PasscodeHash,
		MaxAttempts: cfg.MaxAttempts,
		Lockout:     cfg.Lockout,
	})

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return gate.New(device, flags, gate.Config{SessionKey: cfg.SessionKey}, gate.WithLogger(logger)), nil
}

func localStatus(g *gate.Gate) map[string]any {
	state := g.State()
	c := g.Capability()
	return map[string]any{
		"authenticated": state.Authenticated,
		"has_attempted": state.HasAttempted,
		"last_result":   string(state.LastResult),
		"phase":         string(g.Phase()),
		"route":         string(g.Route()),
		"biometrics":    c.Usable(),
		"kind":          string(c.Kind),
		"flag_file":     cfg.FlagFile,
	}
}

func localCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "local", Short: "Run the session gate on this terminal"}

	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Restore the session, prompting for the passcode if locked",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newLocalGate()
			if err != nil {
				printError(err.Error())
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			g.CheckCapability(ctx)
			if !g.RestoreSession(ctx) && gate.ShouldAutoPrompt(g.State()) {
				g.Authenticate(ctx)
			}
			printResult(localStatus(g))
			if g.Route() != models.RouteMain {
				return fmt.Errorf("session locked (%s)", g.State().LastResult)
			}
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the local session without prompting",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newLocalGate()
			if err != nil {
				printError(err.Error())
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			g.CheckCapability(ctx)
			g.RestoreSession(ctx)
			printResult(localStatus(g))
			return nil
		},
	}

	lock := &cobra.Command{
		Use:   "lock",
		Short: "Clear the local session flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := newLocalGate()
			if err != nil {
				printError(err.Error())
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			g.RestoreSession(ctx)
			g.Logout(ctx)
			printSuccess("Session locked.")
			return nil
		},
	}

	cmd.AddCommand(unlock, status, lock)
	return cmd
}

func passcodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "passcode", Short: "Manage the local passcode"}

	hash := &cobra.Command{
		Use:   "hash",
		Short: "Print a bcrypt hash for a passcode",
		RunE: func(cmd *cobra.Command, args []string) error {
			passcode, err := readNewPasscode()
			if err != nil {
				printError(err.Error())
				return err
			}
			h, err := biometric.HashPasscode(passcode)
			if err != nil {
				printError(err.Error())
				return err
			}
			fmt.Println(h)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Hash a passcode and save it to the CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			passcode, err := readNewPasscode()
			if err != nil {
				printError(err.Error())
				return err
			}
			h, err := biometric.HashPasscode(passcode)
			if err != nil {
				printError(err.Error())
				return err
			}
			cfg.PasscodeHash = h
			if err := saveConfig(); err != nil {
				printError(fmt.Sprintf("saving config: %v", err))
				return err
			}
			printSuccess(fmt.Sprintf("Passcode saved to %s", configPath()))
			return nil
		},
	}

	cmd.AddCommand(hash, set)
	return cmd
}

// readNewPasscode reads a passcode twice without echo.
func readNewPasscode() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", biometric.ErrNotTerminal
	}
	fmt.Fprint(os.Stderr, "New passcode: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm passcode: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passcodes do not match")
	}
	return string(first), nil
}
