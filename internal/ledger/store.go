package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
)

// Store is the durable per-user balance collaborator.
//
// Money invariants:
// - No balance change without a corresponding ledger entry.
// - Entries are append-only (immutable).
// - AdjustBalance is atomic at the storage layer; it returns the actual
//   signed result. Clamping a deduction so the balance never goes negative
//   is the caller's job; the engine decides the clamped delta beforehand.
type Store interface {
	// GetBalance returns the user's current balance. ErrNotFound if the
	// user has no balance row yet.
	GetBalance(ctx context.Context, userID string) (billing.Amount, error)

	// AdjustBalance atomically applies delta (negative for a debit) and
	// returns the new balance. ref ties the entry to its cause, e.g. a
	// call session ID.
	AdjustBalance(ctx context.Context, userID string, delta billing.Amount, entryType EntryType, ref string) (billing.Amount, error)

	// Credit applies a positive top-up with an idempotency key for safe
	// retries. Replayed keys return the original entry without re-crediting.
	Credit(ctx context.Context, userID string, amount billing.Amount, idempotencyKey, ref string) (Entry, billing.Amount, error)

	// Entries lists a user's ledger entries in a time range, newest first.
	Entries(ctx context.Context, userID string, from, to time.Time) ([]Entry, error)
}

// Entry is an immutable append-only ledger row.
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type EntryType `json:"type" db:"type"`

	// Amount is signed in billing fixed-point units. Credits are positive,
	// debits are negative.
	Amount billing.Amount `json:"amount" db:"amount"`

	// ExternalRef is optional: session_id, payment reference, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is set for credit operations only.
	IdempotencyKey string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeTopUp EntryType = "top_up"
	EntryTypeUsage EntryType = "usage" // per-interval call charge
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)
