package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/history"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/ledger"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/signaling"
)

// tickLedgerTimeout bounds a single tick's ledger round-trips so one stuck
// write cannot hold a session's critical section indefinitely.
const tickLedgerTimeout = 5 * time.Second

// Options configures the call engine.
type Options struct {
	Policy billing.Policy

	// BillingInterval is the metering tick period. Default 1s.
	BillingInterval time.Duration

	// MinimumStartBalance is the least a payer must hold to initiate a
	// call. Default 0.50.
	MinimumStartBalance billing.Amount

	// RingTimeout ends an unanswered session with reason "timeout".
	// Default 30s.
	RingTimeout time.Duration

	// MaxLedgerFailures is the number of consecutive failed billing ticks
	// tolerated before the session is force-ended. Default 3.
	MaxLedgerFailures int
}

func (o Options) withDefaults() Options {
	out := o
	if out.Policy.RatePerSecond <= 0 {
		out.Policy.RatePerSecond = 33 // 0.0033 per second
	}
	if out.BillingInterval <= 0 {
		out.BillingInterval = time.Second
	}
	if out.MinimumStartBalance <= 0 {
		out.MinimumStartBalance = 5000 // 0.50
	}
	if out.RingTimeout <= 0 {
		out.RingTimeout = 30 * time.Second
	}
	if out.MaxLedgerFailures <= 0 {
		out.MaxLedgerFailures = 3
	}
	return out
}

// Guard enforces at most one active call per payer across instances. The
// in-process registry stays authoritative; the guard only closes the
// multi-instance race. Optional.
type Guard interface {
	Acquire(ctx context.Context, payerID string) (bool, error)
	Release(ctx context.Context, payerID string)
}

// StateChangeFunc observes session transitions. Invoked inline after each
// transition commits; implementations must not block.
type StateChangeFunc func(sessionID string, state State, reason EndReason)

// Receipt summarizes an ended session for the caller.
type Receipt struct {
	SessionID       string         `json:"session_id"`
	DurationSeconds int64          `json:"duration_seconds"`
	TotalCharged    billing.Amount `json:"total_charged"`
	Reason          EndReason      `json:"reason,omitempty"`
}

// Engine is the call state machine. It owns every transition of every
// session: registration, ring timeout, acceptance, per-interval billing
// ticks, and termination. All transitions for one session run inside that
// session's critical section; sessions never share state except the
// payer's ledger balance, which is only mutated via the store's atomic
// adjustment.
type Engine struct {
	opts  Options
	reg   *Registry
	store ledger.Store
	relay signaling.Relay

	guard         Guard
	recorder      history.Recorder
	onStateChange StateChangeFunc

	log *slog.Logger
}

func NewEngine(opts Options, reg *Registry, store ledger.Store, relay signaling.Relay, log *slog.Logger) *Engine {
	if relay == nil {
		relay = signaling.NopRelay{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		opts:  opts.withDefaults(),
		reg:   reg,
		store: store,
		relay: relay,
		log:   log,
	}
}

// SetGuard wires the optional cross-instance payer guard.
func (e *Engine) SetGuard(g Guard) { e.guard = g }

// SetRecorder wires the optional call-history recorder.
func (e *Engine) SetRecorder(r history.Recorder) { e.recorder = r }

// OnStateChange registers the transition observer.
func (e *Engine) OnStateChange(fn StateChangeFunc) { e.onStateChange = fn }

// Registry exposes the session registry for read-side collaborators
// (introspection, disconnect routing).
func (e *Engine) Registry() *Registry { return e.reg }

// Initiate creates a session in Ringing and starts the ring timeout.
//
// The payer's balance is checked first; on ErrInsufficientBalance or
// ErrLedgerUnavailable no session exists and no ledger mutation happened.
func (e *Engine) Initiate(ctx context.Context, payerID string, calleeIDs []string, callType Type) (*Session, error) {
	if payerID == "" || len(calleeIDs) == 0 {
		return nil, ErrInvalidArgument
	}
	if callType == "" {
		callType = TypeVoice
	}

	bal, err := e.store.GetBalance(ctx, payerID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			bal = 0
		} else {
			return nil, fmt.Errorf("%w: balance check: %v", ErrLedgerUnavailable, err)
		}
	}
	if bal < e.opts.MinimumStartBalance {
		return nil, fmt.Errorf("%w: balance %s below minimum %s",
			ErrInsufficientBalance, bal, e.opts.MinimumStartBalance)
	}

	guardHeld := false
	if e.guard != nil {
		ok, err := e.guard.Acquire(ctx, payerID)
		switch {
		case err != nil:
			// Guard is an optimization; the registry below still rejects
			// in-process duplicates. Log and continue without a slot.
			e.log.Warn("payer guard unavailable", "payer_id", payerID, "err", err)
		case !ok:
			return nil, fmt.Errorf("%w: payer %s has an active call", ErrDuplicateSession, payerID)
		default:
			guardHeld = true
		}
	}

	s, err := e.reg.Create(payerID, calleeIDs, callType)
	if err != nil {
		if guardHeld {
			e.guard.Release(ctx, payerID)
		}
		return nil, err
	}

	s.mu.Lock()
	s.guardHeld = guardHeld
	s.ringTimer = time.AfterFunc(e.opts.RingTimeout, func() { e.ringTimeout(s.ID) })
	s.mu.Unlock()

	e.relay.Notify(payerID, signaling.EventCallRinging, ringingPayload{
		SessionID: s.ID,
		Callees:   append([]string(nil), s.Participants[1:]...),
	})
	for _, callee := range s.Participants[1:] {
		e.relay.Notify(callee, signaling.EventIncomingCall, incomingPayload{
			SessionID: s.ID,
			From:      payerID,
			CallType:  string(callType),
		})
	}
	e.emit(s.ID, StateRinging, "")

	e.log.Info("call initiated",
		"session_id", s.ID, "payer_id", payerID, "call_type", string(callType))
	return s, nil
}

// Accept transitions Ringing → Connected and starts the metering clock.
func (e *Engine) Accept(ctx context.Context, sessionID string) error {
	s, err := e.reg.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateRinging {
		return fmt.Errorf("%w: accept in state %s", ErrInvalidTransition, s.State)
	}

	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}

	now := time.Now().UTC()
	s.ConnectedAt = &now
	s.State = StateConnected
	s.meter = startMeter(e.opts.BillingInterval, func() { e.tick(s.ID) })

	for _, p := range s.Participants {
		e.relay.Notify(p, signaling.EventCallConnected, connectedPayload{SessionID: s.ID})
	}
	e.emit(s.ID, StateConnected, "")

	e.log.Info("call connected", "session_id", s.ID)
	return nil
}

// End terminates the session from Ringing or Connected, stops the metering
// clock, emits final notifications, records history, and removes the
// session from the registry.
//
// Idempotent: ending an already-ended or unknown session is a benign no-op
// and never overwrites the first termination reason.
func (e *Engine) End(ctx context.Context, sessionID string, reason EndReason) (Receipt, error) {
	if reason == "" {
		reason = ReasonUserHangup
	}

	s, err := e.reg.Get(sessionID)
	if err != nil {
		return Receipt{SessionID: sessionID}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateEnded {
		e.endLocked(s, reason)
	}
	return receiptLocked(s), nil
}

// PeerUnreachable ends the session with reason "peer_offline". Used when
// the signaling layer reports the remote party cannot be located.
func (e *Engine) PeerUnreachable(ctx context.Context, sessionID string) (Receipt, error) {
	return e.End(ctx, sessionID, ReasonPeerOffline)
}

// EndForParticipant ends whichever active session the user is party to.
// Used by the signaling hub when a participant's last connection drops.
func (e *Engine) EndForParticipant(ctx context.Context, userID string, reason EndReason) {
	s, ok := e.reg.FindByParticipant(userID)
	if !ok {
		return
	}
	if _, err := e.End(ctx, s.ID, reason); err != nil {
		e.log.Warn("end for participant failed", "user_id", userID, "err", err)
	}
}

// ringTimeout fires when no accept arrived in time. It must re-check state
// under the session lock: the timer may lose the race with a concurrent
// Accept, in which case the call proceeds untouched.
func (e *Engine) ringTimeout(sessionID string) {
	s, err := e.reg.Get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateRinging {
		return
	}
	e.log.Info("ring timeout", "session_id", s.ID)
	e.endLocked(s, ReasonTimeout)
}

// tick runs once per billing interval while Connected. It re-reads the
// payer's balance, deducts one interval's charge (or the clamped remainder
// at low balance), and advances the chargeable counter.
//
// A tick that lost the race with a concurrent End sees a non-Connected
// state after acquiring the session lock and discards its deduction: a
// dead call is never billed.
func (e *Engine) tick(sessionID string) {
	s, err := e.reg.Get(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateConnected {
		return
	}

	charge := e.opts.Policy.IntervalCharge(string(s.Type), e.opts.BillingInterval)
	if charge <= 0 {
		s.AccumulatedIntervals++
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickLedgerTimeout)
	defer cancel()

	bal, err := e.store.GetBalance(ctx, s.PayerID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		e.tickFailureLocked(s, err)
		return
	}

	if bal < charge {
		// Deduct only what the payer can afford, clamped at a zero floor,
		// then force termination.
		if debit := bal.Min(charge); debit > 0 {
			if _, err := e.store.AdjustBalance(ctx, s.PayerID, debit.Neg(), ledger.EntryTypeUsage, s.ID); err != nil {
				e.tickFailureLocked(s, err)
				return
			}
			s.TotalCharged += debit
		}
		e.log.Info("low balance termination",
			"session_id", s.ID, "payer_id", s.PayerID, "balance", bal.String())
		e.endLocked(s, ReasonLowBalance)
		return
	}

	if _, err := e.store.AdjustBalance(ctx, s.PayerID, charge.Neg(), ledger.EntryTypeUsage, s.ID); err != nil {
		e.tickFailureLocked(s, err)
		return
	}

	s.ledgerFailures = 0
	s.AccumulatedIntervals++
	s.TotalCharged += charge
}

// tickFailureLocked handles a failed ledger round-trip during a tick. The
// tick's deduction is skipped and retried next interval; after
// MaxLedgerFailures consecutive failures the session is force-ended so an
// unreachable ledger cannot grant unbounded free talk time.
func (e *Engine) tickFailureLocked(s *Session, err error) {
	s.ledgerFailures++
	e.log.Warn("billing tick skipped",
		"session_id", s.ID, "consecutive_failures", s.ledgerFailures, "err", err)
	if s.ledgerFailures >= e.opts.MaxLedgerFailures {
		e.log.Error("ledger unreachable, force-ending call",
			"session_id", s.ID, "consecutive_failures", s.ledgerFailures)
		e.endLocked(s, ReasonTimeout)
	}
}

// endLocked commits the terminal transition. Caller holds s.mu and has
// verified the session is not already Ended.
//
// Cancellation contract: the metering clock is stopped here, before the
// state flips, so no new tick starts once the session is Ended. A tick
// already blocked on s.mu will observe StateEnded and discard its work.
func (e *Engine) endLocked(s *Session, reason EndReason) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if s.meter != nil {
		s.meter.Stop()
		s.meter = nil
	}

	now := time.Now().UTC()
	s.EndedAt = &now
	s.State = StateEnded
	s.Reason = reason

	payload := endedPayload{
		SessionID:       s.ID,
		Reason:          string(reason),
		DurationSeconds: s.durationSecondsLocked(),
		TotalCharged:    s.TotalCharged.String(),
	}
	for _, p := range s.Participants {
		e.relay.Notify(p, signaling.EventCallEnded, payload)
	}

	e.reg.Remove(s.ID)

	// Guard release and history write involve I/O; keep them off the
	// session's critical section.
	rec := history.Record{
		SessionID:       s.ID,
		PayerID:         s.PayerID,
		Participants:    append([]string(nil), s.Participants...),
		CallType:        string(s.Type),
		Reason:          string(reason),
		CreatedAt:       s.CreatedAt,
		ConnectedAt:     s.ConnectedAt,
		EndedAt:         now,
		DurationSeconds: s.durationSecondsLocked(),
		TotalCharged:    s.TotalCharged,
	}
	go e.finalize(s.PayerID, s.guardHeld, rec)

	e.emit(s.ID, StateEnded, reason)

	e.log.Info("call ended",
		"session_id", s.ID,
		"reason", string(reason),
		"duration_seconds", rec.DurationSeconds,
		"total_charged", s.TotalCharged.String(),
		"intervals", s.AccumulatedIntervals)
}

func (e *Engine) finalize(payerID string, guardHeld bool, rec history.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Releasing a slot this session never acquired would free one held by
	// the payer's call on another instance.
	if e.guard != nil && guardHeld {
		e.guard.Release(ctx, payerID)
	}
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, rec); err != nil {
			e.log.Warn("call record write failed", "session_id", rec.SessionID, "err", err)
		}
	}
}

func (e *Engine) emit(sessionID string, state State, reason EndReason) {
	if e.onStateChange != nil {
		e.onStateChange(sessionID, state, reason)
	}
}

func receiptLocked(s *Session) Receipt {
	return Receipt{
		SessionID:       s.ID,
		DurationSeconds: s.durationSecondsLocked(),
		TotalCharged:    s.TotalCharged,
		Reason:          s.Reason,
	}
}

type ringingPayload struct {
	SessionID string   `json:"session_id"`
	Callees   []string `json:"callees"`
}

type incomingPayload struct {
	SessionID string `json:"session_id"`
	From      string `json:"from"`
	CallType  string `json:"call_type"`
}

type connectedPayload struct {
	SessionID string `json:"session_id"`
}

type endedPayload struct {
	SessionID       string `json:"session_id"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
	TotalCharged    string `json:"total_charged"`
}
