package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/journalgate/internal/api"
	"github.com/org/journalgate/internal/audit"
	"github.com/org/journalgate/internal/biometric"
	"github.com/org/journalgate/internal/gate"
	"github.com/org/journalgate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type gateConfig struct {
	SessionKey            string `yaml:"session_key"`
	PromptText            string `yaml:"prompt_text"`
	FallbackLabel         string `yaml:"fallback_label"`
	CancelLabel           string `yaml:"cancel_label"`
	DisableDeviceFallback bool   `yaml:"disable_device_fallback"`
	ResetAttemptOnLogout  bool   `yaml:"reset_attempt_on_logout"`
}

type config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TLSCertFile string `yaml:"tls_cert"`
	TLSKeyFile  string `yaml:"tls_key"`
	LogLevel    string `yaml:"log_level"`

	// Storage is one of memory, file or postgres.
	Storage       string `yaml:"storage"`
	FlagFile      string `yaml:"flag_file"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	// EncryptionSecret, when set, encrypts flag values at rest.
	EncryptionSecret string `yaml:"encryption_secret"`

	AuthRate  int `yaml:"auth_rate"`
	AuthBurst int `yaml:"auth_burst"`

	Gate   gateConfig                `yaml:"gate"`
	Device biometric.SimulatedConfig `yaml:"device"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("GATE_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		LogLevel:      "info",
		Storage:       "memory",
		FlagFile:      "data/flags.json",
		MigrationsDir: "migrations",
		AuthRate:      1,
		AuthBurst:     5,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("GATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GATE_STORAGE"); v != "" {
		cfg.Storage = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("GATE_ENCRYPTION_SECRET"); v != "" {
		cfg.EncryptionSecret = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	flags, events, closeStore := openStorage(ctx, cfg)
	defer closeStore()

	if cfg.EncryptionSecret != "" {
		enc, err := storage.NewEncryptedStore(flags, []byte(cfg.EncryptionSecret))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up flag encryption")
		}
		flags = enc
		log.Info().Msg("flag encryption enabled")
	}

	device, err := biometric.NewSimulated(cfg.Device)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid device config")
	}

	auditor := audit.NewLogger(events)
	g := gate.New(device, flags, gate.Config{
		SessionKey:            cfg.Gate.SessionKey,
		PromptText:            cfg.Gate.PromptText,
		FallbackLabel:         cfg.Gate.FallbackLabel,
		CancelLabel:           cfg.Gate.CancelLabel,
		DisableDeviceFallback: cfg.Gate.DisableDeviceFallback,
		ResetAttemptOnLogout:  cfg.Gate.ResetAttemptOnLogout,
	}, gate.WithRecorder(auditor))

	// Capability is computed once per cold start, and the session is
	// restored before any client can ask for a route.
	capability := g.CheckCapability(ctx)
	restored := g.RestoreSession(ctx)
	log.Info().
		Bool("biometrics_usable", capability.Usable()).
		Bool("restored", restored).
		Str("route", string(g.Route())).
		Msg("session gate ready")

	srv := api.NewServer(g, auditor, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		AuthRate:    cfg.AuthRate,
		AuthBurst:   cfg.AuthBurst,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// openStorage returns the flag store, the event store and a close func for
// the configured backend.
func openStorage(ctx context.Context, cfg config) (storage.FlagStore, storage.EventStore, func()) {
	switch cfg.Storage {
	case "postgres":
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		store, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		version, err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir)
		if err != nil {
			store.Close()
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Uint("version", version).Msg("migrations applied")
		return store, store, store.Close

	case "file":
		mem := storage.NewMemoryStore()
		log.Info().Str("path", cfg.FlagFile).Msg("using file flag storage")
		return storage.NewFileStore(cfg.FlagFile), mem, mem.Close

	case "memory", "":
		log.Warn().Msg("using in-memory storage, sessions will not survive a restart")
		mem := storage.NewMemoryStore()
		return mem, mem, mem.Close
	}

	log.Fatal().Str("storage", cfg.Storage).Msg("unknown storage backend")
	return nil, nil, nil
}
