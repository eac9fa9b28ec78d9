package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/journalgate/internal/storage"
	"github.com/org/journalgate/pkg/models"
	"github.com/rs/zerolog/log"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	// AuthRate and AuthBurst bound authenticate calls per client.
	AuthRate  int
	AuthBurst int
}

// SessionGate is what the server needs from the session gate.
type SessionGate interface {
	State() models.SessionState
	Phase() models.Phase
	Route() models.Route
	Capability() models.DeviceCapability
	CheckCapability(ctx context.Context) models.DeviceCapability
	Authenticate(ctx context.Context) bool
	Logout(ctx context.Context)
	RestoreSession(ctx context.Context) bool
}

// AuditLogger is the interface the server needs from an audit logger.
type AuditLogger interface {
	Query(ctx context.Context, filter storage.EventFilter) ([]*models.GateEvent, error)
}

// Server exposes the session gate to route navigators over HTTP.
type Server struct {
	gate    SessionGate
	auditor AuditLogger
	cfg     Config
	httpSrv *http.Server
}

// NewServer creates a Server. auditor may be nil, which disables the audit log endpoint.
func NewServer(g SessionGate, auditor AuditLogger, cfg Config) *Server {
	if cfg.AuthRate <= 0 {
		cfg.AuthRate = 1
	}
	if cfg.AuthBurst <= 0 {
		cfg.AuthBurst = 5
	}
	return &Server{gate: g, auditor: auditor, cfg: cfg}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger)
	r.Use(metricsMiddleware)

	r.Handle("/metrics", MetricsHandler())

	r.Get("/v1/sys/health", s.HealthHandler)
	r.Get("/v1/sys/audit-log", s.AuditLogHandler)

	r.Get("/v1/capability", s.CapabilityHandler)
	r.Post("/v1/capability/refresh", s.CapabilityRefreshHandler)

	r.Route("/v1/session", func(r chi.Router) {
		r.Get("/", s.SessionHandler)
		r.Post("/restore", s.RestoreHandler)
		r.Post("/logout", s.LogoutHandler)
		r.With(newRateLimiter(s.cfg.AuthRate, s.cfg.AuthBurst).middleware).
			Post("/authenticate", s.AuthenticateHandler)
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.BuildRouter(),
		ReadTimeout: 30 * time.Second,
		// Authenticate holds the request open while the prompt is shown.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
