package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// ErrBackpressure is returned when a connection's send buffer is full.
// The event is dropped rather than queued; the relay is best-effort.
var ErrBackpressure = errors.New("signaling: connection backpressure")

// ErrConnClosed is returned when an event races a connection teardown.
var ErrConnClosed = errors.New("signaling: connection closed")

// Conn is a single client transport endpoint. Owned by the adapter that
// created it; the adapter must Close() it.
type Conn interface {
	TrySend(data []byte) error
	Close()
}

// envelope is the wire shape of a relayed event.
type envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// Hub fans events out to the live connections of each user. One user may
// hold several connections (multiple devices); all of them get the event.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{}

	// onDetach fires after a user's last connection is removed. The engine
	// hooks this to end an active call with reason "disconnect".
	onDetach func(userID string)

	log *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns: make(map[string]map[Conn]struct{}),
		log:   log,
	}
}

// OnDetach registers the last-connection-gone callback. Must be called
// before the hub starts accepting connections.
func (h *Hub) OnDetach(fn func(userID string)) { h.onDetach = fn }

// Attach registers a connection for a user.
func (h *Hub) Attach(userID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
}

// Detach removes a connection; closes it and fires onDetach if it was the
// user's last one. Idempotent.
func (h *Hub) Detach(userID string, c Conn) {
	h.mu.Lock()
	set, ok := h.conns[userID]
	if ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	last := ok && len(set) == 0
	h.mu.Unlock()

	if ok {
		c.Close()
	}
	if last && h.onDetach != nil {
		h.onDetach(userID)
	}
}

// Connected reports whether the user has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Notify implements Relay. Marshals once and fans out; slow consumers are
// dropped for this event, never waited on.
func (h *Hub) Notify(userID string, event Event, payload any) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		h.log.Error("signaling marshal failed", "event", string(event), "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.TrySend(data); err != nil {
			h.log.Warn("signaling send dropped", "user_id", userID, "event", string(event), "err", err)
		}
	}
}
