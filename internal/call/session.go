package call

import (
	"sync"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
)

// State is the call session lifecycle state.
// Ringing (initial) → Connected → Ended (terminal). No state is ever
// re-entered and no transition skips Ringing.
type State string

const (
	StateRinging   State = "ringing"
	StateConnected State = "connected"
	StateEnded     State = "ended"
)

// EndReason explains why a session ended. Set exactly once, at Ended.
type EndReason string

const (
	ReasonUserHangup  EndReason = "user_hangup"
	ReasonLowBalance  EndReason = "low_balance"
	ReasonTimeout     EndReason = "timeout"
	ReasonDisconnect  EndReason = "disconnect"
	ReasonPeerOffline EndReason = "peer_offline"
)

// Type is the call media type. Billing may price types differently; the
// lifecycle does not care.
type Type string

const (
	TypeVoice Type = "voice"
	TypeVideo Type = "video"
)

// Session is one call attempt from initiation to termination.
//
// Concurrency: all mutable fields are guarded by mu. Every transition
// (accept, tick, end, ring timeout) runs inside this per-session critical
// section, so transitions for one session are totally ordered while
// different sessions proceed in parallel.
type Session struct {
	// Immutable after creation.
	ID           string
	PayerID      string
	Participants []string
	Type         Type
	CreatedAt    time.Time

	mu sync.Mutex

	State       State
	ConnectedAt *time.Time
	EndedAt     *time.Time

	// AccumulatedIntervals counts whole billing intervals fully charged
	// while Connected. Monotonically non-decreasing.
	AccumulatedIntervals int64

	// TotalCharged is everything actually deducted for this session,
	// including a final clamped partial deduction at low balance.
	TotalCharged billing.Amount

	Reason EndReason

	// ledgerFailures counts consecutive failed billing ticks.
	ledgerFailures int

	// guardHeld records whether the cross-instance payer guard was actually
	// acquired for this session; only then may it be released at the end.
	guardHeld bool

	ringTimer *time.Timer
	meter     *meter
}

// HasParticipant reports whether userID is party to the call.
func (s *Session) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Snapshot is a read-only JSON view of a session.
type Snapshot struct {
	SessionID            string         `json:"session_id"`
	PayerID              string         `json:"payer_id"`
	Participants         []string       `json:"participants"`
	Type                 Type           `json:"call_type"`
	State                State          `json:"state"`
	CreatedAt            time.Time      `json:"created_at"`
	ConnectedAt          *time.Time     `json:"connected_at,omitempty"`
	EndedAt              *time.Time     `json:"ended_at,omitempty"`
	AccumulatedIntervals int64          `json:"accumulated_intervals"`
	TotalCharged         billing.Amount `json:"total_charged"`
	Reason               EndReason      `json:"termination_reason,omitempty"`
}

// Snapshot returns a consistent copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	parts := make([]string, len(s.Participants))
	copy(parts, s.Participants)
	return Snapshot{
		SessionID:            s.ID,
		PayerID:              s.PayerID,
		Participants:         parts,
		Type:                 s.Type,
		State:                s.State,
		CreatedAt:            s.CreatedAt,
		ConnectedAt:          s.ConnectedAt,
		EndedAt:              s.EndedAt,
		AccumulatedIntervals: s.AccumulatedIntervals,
		TotalCharged:         s.TotalCharged,
		Reason:               s.Reason,
	}
}

// durationSecondsLocked is the connected duration in whole seconds; zero if
// the call never connected.
func (s *Session) durationSecondsLocked() int64 {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	return int64(s.EndedAt.Sub(*s.ConnectedAt).Round(time.Second) / time.Second)
}
