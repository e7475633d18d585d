package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// It honors the same atomicity contract as the Postgres store: balance
// adjustments are applied under one lock, never read-modify-write by
// callers.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]billing.Amount
	entries  []Entry
	byKey    map[string]Entry // userID+"\x00"+idempotencyKey

	// FailNext, when set, makes the next N balance operations return the
	// given error. Used to exercise transient-failure paths in tests.
	failNext int
	failErr  error

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]billing.Amount),
		byKey:    make(map[string]Entry),
		clock:    time.Now,
	}
}

// FailNext arms the store to fail the next n operations with err.
func (s *MemoryStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

func (s *MemoryStore) takeFailure() error {
	if s.failNext > 0 {
		s.failNext--
		return s.failErr
	}
	return nil
}

// SetBalance seeds a user balance directly (tests only; writes no entry).
func (s *MemoryStore) SetBalance(userID string, bal billing.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = bal
}

func (s *MemoryStore) GetBalance(ctx context.Context, userID string) (billing.Amount, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}
	bal, ok := s.balances[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return bal, nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, userID string, delta billing.Amount, entryType EntryType, ref string) (billing.Amount, error) {
	if userID == "" || delta == 0 {
		return 0, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return 0, err
	}

	bal := s.balances[userID] + delta
	s.balances[userID] = bal
	s.entries = append(s.entries, Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        entryType,
		Amount:      delta,
		ExternalRef: ref,
		CreatedAt:   s.clock().UTC(),
	})
	return bal, nil
}

func (s *MemoryStore) Credit(ctx context.Context, userID string, amount billing.Amount, idempotencyKey, ref string) (Entry, billing.Amount, error) {
	if userID == "" || idempotencyKey == "" || amount <= 0 {
		return Entry{}, 0, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return Entry{}, 0, err
	}

	key := userID + "\x00" + idempotencyKey
	if existing, ok := s.byKey[key]; ok {
		return existing, s.balances[userID], nil
	}

	entry := Entry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeTopUp,
		Amount:         amount,
		ExternalRef:    ref,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.clock().UTC(),
	}
	s.entries = append(s.entries, entry)
	s.byKey[key] = entry
	bal := s.balances[userID] + amount
	s.balances[userID] = bal
	return entry, bal, nil
}

func (s *MemoryStore) Entries(ctx context.Context, userID string, from, to time.Time) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.UserID != userID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
