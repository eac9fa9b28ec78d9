package gate

import "github.com/org/journalgate/pkg/models"

// Decide maps gate state to the screen a navigator should show.
//
// Devices without usable biometrics still land on the lock screen while
// locked: the lock screen's Authenticate call passes them through without a
// prompt. There is no separate credential login route.
func Decide(phase models.Phase, state models.SessionState) models.Route {
	if phase == models.PhaseUnknown {
		return models.RouteLoading
	}
	if state.Authenticated {
		return models.RouteMain
	}
	return models.RouteLock
}

// ShouldAutoPrompt reports whether the lock screen should trigger
// Authenticate on its own. It fires once per process lifetime; after an
// attempt the user has to ask again.
func ShouldAutoPrompt(state models.SessionState) bool {
	return !state.IsLoading && !state.Authenticated && !state.HasAttempted
}
