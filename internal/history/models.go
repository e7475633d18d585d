package history

import (
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
)

// Record is an immutable call detail record, written once when a session
// ends. Usage charges reference the session ID in the wallet ledger; this
// record carries the lifecycle facts.
type Record struct {
	SessionID    string   `json:"session_id" db:"session_id"`
	PayerID      string   `json:"payer_id" db:"payer_id"`
	Participants []string `json:"participants" db:"participants"`

	CallType string `json:"call_type" db:"call_type"`

	// Reason is the termination reason string (user_hangup, low_balance,
	// timeout, disconnect, peer_offline).
	Reason string `json:"reason" db:"reason"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     time.Time  `json:"ended_at" db:"ended_at"`

	DurationSeconds int64          `json:"duration_seconds" db:"duration_seconds"`
	TotalCharged    billing.Amount `json:"total_charged" db:"total_charged"`
}

// Connected reports whether the call ever reached the connected state.
func (r Record) Connected() bool { return r.ConnectedAt != nil }

// Summary aggregates a user's call records over a time range.
type Summary struct {
	UserID string `json:"user_id"`

	TotalCalls     int `json:"total_calls"`
	ConnectedCalls int `json:"connected_calls"`
	MissedCalls    int `json:"missed_calls"` // ring timeout, never connected

	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`

	TotalChargedAsPayer billing.Amount `json:"total_charged_as_payer"`

	ByReason map[string]int `json:"by_reason"`
}
