package audit

import "time"

// Actions recorded in the audit log.
const (
	ActionCheckIn     = "checkin"
	ActionCheckOut    = "checkout"
	ActionOrientation = "orientation"
	ActionImport      = "import"
	ActionPurge       = "purge"
)

// Outcomes recorded in the audit log.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one durable audit entry. It is append-only.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	VisitorID string    `json:"visitor_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
}
