package signaling

// Relay delivers call state-change events to participants.
//
// Delivery is fire-and-forget, at-most-once. The call engine never depends
// on a notification being acknowledged or even sent; a participant with no
// live connection simply misses the event.
type Relay interface {
	Notify(userID string, event Event, payload any)
}

// Event names carried to clients. Keep these stable; they are part of the
// client contract.
type Event string

const (
	EventIncomingCall  Event = "incoming_call"
	EventCallRinging   Event = "call_ringing"
	EventCallConnected Event = "call_connected"
	EventCallEnded     Event = "call_ended"
)

// NopRelay discards all notifications. Used in tests and as a safe default
// when no transport is wired.
type NopRelay struct{}

func (NopRelay) Notify(string, Event, any) {}
