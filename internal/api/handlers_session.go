package api

import (
	"net/http"
	"time"

	"github.com/org/journalgate/internal/gate"
	"github.com/org/journalgate/pkg/models"
)

func sessionBody(state models.SessionState, phase models.Phase) map[string]any {
	return map[string]any{
		"authenticated": state.Authenticated,
		"has_attempted": state.HasAttempted,
		"is_loading":    state.IsLoading,
		"last_result":   string(state.LastResult),
		"phase":         string(phase),
		"route":         string(gate.Decide(phase, state)),
		"auto_prompt":   gate.ShouldAutoPrompt(state),
	}
}

func capabilityBody(c models.DeviceCapability) map[string]any {
	body := map[string]any{
		"hardware_present": c.HardwarePresent,
		"enrolled":         c.Enrolled,
		"usable":           c.Usable(),
		"kind":             string(c.Kind),
	}
	if !c.CheckedAt.IsZero() {
		body["checked_at"] = c.CheckedAt.Format(time.RFC3339)
	}
	return body
}

// SessionHandler handles GET /v1/session
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	body := sessionBody(s.gate.State(), s.gate.Phase())
	body["capability"] = capabilityBody(s.gate.Capability())
	writeJSON(w, http.StatusOK, body)
}

// AuthenticateHandler handles POST /v1/session/authenticate. The request
// stays open while the prompt is shown; a client disconnect cancels it.
func (s *Server) AuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	ok := s.gate.Authenticate(r.Context())
	state := s.gate.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": ok,
		"last_result":   string(state.LastResult),
		"route":         string(s.gate.Route()),
	})
}

// LogoutHandler handles POST /v1/session/logout
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	s.gate.Logout(r.Context())
	writeJSON(w, http.StatusOK, sessionBody(s.gate.State(), s.gate.Phase()))
}

// RestoreHandler handles POST /v1/session/restore
func (s *Server) RestoreHandler(w http.ResponseWriter, r *http.Request) {
	s.gate.RestoreSession(r.Context())
	writeJSON(w, http.StatusOK, sessionBody(s.gate.State(), s.gate.Phase()))
}

// CapabilityHandler handles GET /v1/capability
func (s *Server) CapabilityHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capabilityBody(s.gate.Capability()))
}

// CapabilityRefreshHandler handles POST /v1/capability/refresh
func (s *Server) CapabilityRefreshHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, capabilityBody(s.gate.CheckCapability(r.Context())))
}
