package models

import "time"

// Gate operations recorded in the audit log.
const (
	OpCheckCapability = "check_capability"
	OpAuthenticate    = "authenticate"
	OpLogout          = "logout"
	OpRestoreSession  = "restore_session"
)

// GateEvent is one audit log entry describing a gate operation.
// It never carries passcodes or biometric data, only outcomes.
type GateEvent struct {
	ID            string
	Operation     string
	Result        Result
	Authenticated bool
	Detail        string
	RequestID     string
	Timestamp     time.Time
}
