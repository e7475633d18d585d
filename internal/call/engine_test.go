package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/history"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/ledger"
	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/signaling"
)

// captureRelay records every notification per user.
type captureRelay struct {
	mu     sync.Mutex
	events map[string][]signaling.Event
}

func newCaptureRelay() *captureRelay {
	return &captureRelay{events: map[string][]signaling.Event{}}
}

func (r *captureRelay) Notify(userID string, event signaling.Event, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[userID] = append(r.events[userID], event)
}

func (r *captureRelay) last(userID string) signaling.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evts := r.events[userID]
	if len(evts) == 0 {
		return ""
	}
	return evts[len(evts)-1]
}

type fakeGuard struct {
	mu       sync.Mutex
	deny     bool
	failErr  error
	acquired int
	released int
}

func (g *fakeGuard) Acquire(ctx context.Context, payerID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return false, g.failErr
	}
	if g.deny {
		return false, nil
	}
	g.acquired++
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, payerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released++
}

// newTestEngine wires an engine over the in-memory ledger with a 1s billing
// interval. Tests drive ticks directly; the real meter's first tick is a
// full second away and never fires within a test run.
func newTestEngine(t *testing.T, store *ledger.MemoryStore) (*Engine, *captureRelay) {
	t.Helper()
	relay := newCaptureRelay()
	e := NewEngine(Options{
		Policy:              billing.Policy{RatePerSecond: 33},
		BillingInterval:     time.Second,
		MinimumStartBalance: 5000, // 0.50
		RingTimeout:         time.Minute,
		MaxLedgerFailures:   3,
	}, NewRegistry(), store, relay, nil)
	return e, relay
}

func TestInitiate_InsufficientBalance(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 1000) // $0.10 < $0.50 minimum
	e, _ := newTestEngine(t, store)

	_, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if e.Registry().Len() != 0 {
		t.Fatalf("session created despite insufficient balance")
	}
	if bal, _ := store.GetBalance(context.Background(), "alice"); bal != 1000 {
		t.Fatalf("ledger mutated: %d", bal)
	}
}

func TestInitiate_UnknownPayerHasZeroBalance(t *testing.T) {
	e, _ := newTestEngine(t, ledger.NewMemoryStore())
	_, err := e.Initiate(context.Background(), "ghost", []string{"bob"}, TypeVoice)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestInitiate_LedgerUnavailable(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	store.FailNext(1, errors.New("connection refused"))
	e, _ := newTestEngine(t, store)

	_, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if e.Registry().Len() != 0 {
		t.Fatalf("session created despite ledger failure")
	}
}

func TestInitiate_SecondCallBySamePayerRejected(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	if _, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	_, err := e.Initiate(context.Background(), "alice", []string{"carol"}, TypeVoice)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
	if e.Registry().Len() != 1 {
		t.Fatalf("first session should proceed normally")
	}
}

func TestInitiate_NotifiesParties(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, relay := newTestEngine(t, store)

	if _, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVideo); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if got := relay.last("alice"); got != signaling.EventCallRinging {
		t.Fatalf("payer event = %q", got)
	}
	if got := relay.last("bob"); got != signaling.EventIncomingCall {
		t.Fatalf("callee event = %q", got)
	}
}

func TestAccept_TransitionsAndGuardsState(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, relay := newTestEngine(t, store)

	s, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	snap := s.Snapshot()
	if snap.State != StateConnected || snap.ConnectedAt == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := relay.last("bob"); got != signaling.EventCallConnected {
		t.Fatalf("callee event = %q", got)
	}

	// Accept is valid only from Ringing.
	if err := e.Accept(context.Background(), s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := e.Accept(context.Background(), "unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := e.End(context.Background(), s.ID, ReasonUserHangup); err != nil {
		t.Fatalf("end: %v", err)
	}
}

func TestRingTimeout_EndsUnansweredCall(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	relay := newCaptureRelay()
	e := NewEngine(Options{
		Policy:              billing.Policy{RatePerSecond: 33},
		MinimumStartBalance: 5000,
		RingTimeout:         20 * time.Millisecond,
	}, NewRegistry(), store, relay, nil)

	var mu sync.Mutex
	var gotState State
	var gotReason EndReason
	e.OnStateChange(func(_ string, st State, reason EndReason) {
		mu.Lock()
		defer mu.Unlock()
		gotState, gotReason = st, reason
	})

	if _, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		done := gotState == StateEnded
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ring timeout never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotReason != ReasonTimeout {
		t.Fatalf("reason = %q, want timeout", gotReason)
	}
	if e.Registry().Len() != 0 {
		t.Fatalf("session not removed after timeout")
	}
	// Ringing never accrues charges.
	if bal, _ := store.GetBalance(context.Background(), "alice"); bal != 10000 {
		t.Fatalf("balance mutated during ringing: %d", bal)
	}
}

func TestTick_DeductsOneInterval(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	e.tick(s.ID)

	if bal, _ := store.GetBalance(context.Background(), "alice"); bal != 9967 {
		t.Fatalf("balance = %d, want 9967", bal)
	}
	snap := s.Snapshot()
	if snap.AccumulatedIntervals != 1 || snap.TotalCharged != 33 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// Scenario from the billing requirements: $1.00 balance at $0.0033/s.
// 303 whole intervals fit; the 304th tick can only claim the $0.0001
// remainder, which is clamped and forces low-balance termination.
func TestLowBalance_ForcesTerminationClampedAtZero(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000) // $1.00
	e, relay := newTestEngine(t, store)

	var mu sync.Mutex
	var endReason EndReason
	e.OnStateChange(func(_ string, st State, reason EndReason) {
		if st == StateEnded {
			mu.Lock()
			endReason = reason
			mu.Unlock()
		}
	})

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for i := 0; i < 400; i++ {
		e.tick(s.ID)
		if s.Snapshot().State == StateEnded {
			break
		}
	}

	snap := s.Snapshot()
	if snap.State != StateEnded {
		t.Fatalf("session never ended")
	}
	mu.Lock()
	if endReason != ReasonLowBalance {
		t.Fatalf("reason = %q, want low_balance", endReason)
	}
	mu.Unlock()

	if snap.AccumulatedIntervals != 303 {
		t.Fatalf("intervals = %d, want 303", snap.AccumulatedIntervals)
	}
	if snap.TotalCharged > 10000 {
		t.Fatalf("charged %d, exceeds starting balance", snap.TotalCharged)
	}
	// No over-counting: fully charged intervals never exceed the total
	// actually deducted.
	if billing.Amount(snap.AccumulatedIntervals)*33 > snap.TotalCharged {
		t.Fatalf("intervals*charge %d > deducted %d",
			snap.AccumulatedIntervals*33, snap.TotalCharged)
	}

	bal, _ := store.GetBalance(context.Background(), "alice")
	if bal < 0 {
		t.Fatalf("balance went negative: %d", bal)
	}
	if bal != 0 {
		t.Fatalf("balance = %d, want 0 (clamped final deduction)", bal)
	}

	if got := relay.last("bob"); got != signaling.EventCallEnded {
		t.Fatalf("callee event = %q", got)
	}
}

func TestTick_AfterEndIsDiscarded(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.End(context.Background(), s.ID, ReasonUserHangup); err != nil {
		t.Fatalf("end: %v", err)
	}

	balBefore, _ := store.GetBalance(context.Background(), "alice")
	e.tick(s.ID) // dead call: must not bill
	balAfter, _ := store.GetBalance(context.Background(), "alice")
	if balBefore != balAfter {
		t.Fatalf("dead call billed: %d -> %d", balBefore, balAfter)
	}
}

func TestEnd_ConcurrentWithTicks(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			e.tick(s.ID)
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = e.End(context.Background(), s.ID, ReasonUserHangup)
	}()
	wg.Wait()

	// Total deducted always matches what the session accounted for, no
	// matter how the race resolved.
	bal, _ := store.GetBalance(context.Background(), "alice")
	snap := s.Snapshot()
	if billing.Amount(10000)-snap.TotalCharged != bal {
		t.Fatalf("deducted %d but session accounted %d", 10000-int64(bal), snap.TotalCharged)
	}
	if snap.State != StateEnded {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestEnd_IdempotentKeepsFirstReason(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)
	rec := history.NewMemoryRepo()
	e.SetRecorder(rec)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	r1, err := e.End(context.Background(), s.ID, ReasonUserHangup)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if r1.Reason != ReasonUserHangup {
		t.Fatalf("reason = %q", r1.Reason)
	}

	// Second end with a different reason: benign no-op, first reason wins.
	if _, err := e.End(context.Background(), s.ID, ReasonDisconnect); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if got := s.Snapshot().Reason; got != ReasonUserHangup {
		t.Fatalf("termination reason overwritten: %q", got)
	}

	// End on a completely unknown session is also a no-op.
	if _, err := e.End(context.Background(), "no-such-session", ReasonUserHangup); err != nil {
		t.Fatalf("end unknown: %v", err)
	}
}

func TestPeerUnreachable(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	r, err := e.PeerUnreachable(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("peerUnreachable: %v", err)
	}
	if r.Reason != ReasonPeerOffline {
		t.Fatalf("reason = %q, want peer_offline", r.Reason)
	}
}

func TestTickFailures_SkipThenEscalate(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Two transient failures: ticks are skipped, the call survives.
	store.FailNext(2, errors.New("ledger flake"))
	e.tick(s.ID)
	e.tick(s.ID)
	if s.Snapshot().State != StateConnected {
		t.Fatalf("call ended before the failure threshold")
	}
	if bal, _ := store.GetBalance(context.Background(), "alice"); bal != 10000 {
		t.Fatalf("skipped ticks still billed: %d", bal)
	}

	// A successful tick resets the counter.
	e.tick(s.ID)
	if s.Snapshot().AccumulatedIntervals != 1 {
		t.Fatalf("recovered tick not billed")
	}

	// Three consecutive failures force defensive termination.
	store.FailNext(3, errors.New("ledger down"))
	e.tick(s.ID)
	e.tick(s.ID)
	e.tick(s.ID)
	snap := s.Snapshot()
	if snap.State != StateEnded || snap.Reason != ReasonTimeout {
		t.Fatalf("snapshot = %+v, want ended/timeout", snap)
	}
}

func TestGuard_DenyAndRelease(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	g := &fakeGuard{deny: true}
	e.SetGuard(g)
	if _, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession from guard, got %v", err)
	}

	g.mu.Lock()
	g.deny = false
	g.mu.Unlock()
	s, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := e.End(context.Background(), s.ID, ReasonUserHangup); err != nil {
		t.Fatalf("end: %v", err)
	}

	// Release happens off the critical section.
	deadline := time.Now().Add(time.Second)
	for {
		g.mu.Lock()
		released := g.released
		g.mu.Unlock()
		if released == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("guard never released")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGuard_UnavailableAcquireIsNeverReleased(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)

	g := &fakeGuard{failErr: errors.New("redis down")}
	e.SetGuard(g)

	// The guard error is tolerated and the call proceeds without a slot.
	s, err := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := e.End(context.Background(), s.ID, ReasonUserHangup); err != nil {
		t.Fatalf("end: %v", err)
	}

	// A slot this session never acquired must not be freed: it could belong
	// to the payer's call on another instance.
	time.Sleep(50 * time.Millisecond)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.acquired != 0 || g.released != 0 {
		t.Fatalf("acquired=%d released=%d, want 0/0", g.acquired, g.released)
	}
}

func TestEnd_WritesHistoryRecord(t *testing.T) {
	store := ledger.NewMemoryStore()
	store.SetBalance("alice", 10000)
	e, _ := newTestEngine(t, store)
	repo := history.NewMemoryRepo()
	e.SetRecorder(repo)

	s, _ := e.Initiate(context.Background(), "alice", []string{"bob"}, TypeVoice)
	if err := e.Accept(context.Background(), s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	e.tick(s.ID)
	if _, err := e.End(context.Background(), s.ID, ReasonUserHangup); err != nil {
		t.Fatalf("end: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		recs, err := repo.ListByParticipant(context.Background(), "bob",
			time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(recs) == 1 {
			if recs[0].SessionID != s.ID || recs[0].TotalCharged != 33 {
				t.Fatalf("record = %+v", recs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history record never written")
		}
		time.Sleep(time.Millisecond)
	}
}
