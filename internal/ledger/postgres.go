package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
	"github.com/Adeloyejoshual/Smart-talk-sub001/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists balances and ledger entries in Postgres.
//
// Assumed tables:
// - ledger_entries (immutable append-only)
// - ledger_balances (projection, one row per user)
//
// Idempotency constraint for credits:
// UNIQUE (user_id, idempotency_key) WHERE idempotency_key <> ''
//
// Balance strategy: the balance is a projection row updated atomically in
// the same transaction as the entry insert, so concurrent debits for the
// same user serialize at the row and never read-modify-write in memory.
type PostgresStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (billing.Amount, error) {
	if userID == "" {
		return 0, ErrInvalidArgument
	}
	const q = `
SELECT balance
FROM ledger_balances
WHERE user_id = $1
`
	var bal int64
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return billing.Amount(bal), nil
}

func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta billing.Amount, entryType EntryType, ref string) (billing.Amount, error) {
	if userID == "" || delta == 0 {
		return 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	entry := Entry{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        entryType,
		Amount:      delta,
		ExternalRef: ref,
		CreatedAt:   now,
	}

	var newBal billing.Amount
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, userID, delta, now)
		if err != nil {
			return err
		}
		newBal = b
		return nil
	})
	return newBal, err
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount billing.Amount, idempotencyKey, ref string) (Entry, billing.Amount, error) {
	if userID == "" || idempotencyKey == "" {
		return Entry{}, 0, ErrInvalidArgument
	}
	if amount <= 0 {
		return Entry{}, 0, ErrInvalidArgument
	}

	now := s.clock().UTC()
	entry := Entry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           EntryTypeTopUp,
		Amount:         amount,
		ExternalRef:    ref,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}

	var outEntry Entry
	var outBal billing.Amount
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Idempotency: replayed key returns the original entry and the
		// current balance, without posting again.
		if existing, ok, err := findEntryByIdempotency(ctx, tx, userID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outEntry = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		b, err := applyBalanceDelta(ctx, tx, userID, amount, now)
		if err != nil {
			return err
		}
		outEntry = entry
		outBal = b
		return nil
	})
	return outEntry, outBal, err
}

func (s *PostgresStore) Entries(ctx context.Context, userID string, from, to time.Time) ([]Entry, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT id, user_id, type, amount, external_ref, idempotency_key, created_at
FROM ledger_entries
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var amount int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &amount, &e.ExternalRef, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount = billing.Amount(amount)
		out = append(out, e)
	}
	return out, rows.Err()
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (billing.Amount, error) {
	const q = `
SELECT balance
FROM ledger_balances
WHERE user_id = $1
`
	var bal int64
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return billing.Amount(bal), nil
}

func findEntryByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (Entry, bool, error) {
	const q = `
SELECT id, user_id, type, amount, external_ref, idempotency_key, created_at
FROM ledger_entries
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e Entry
	var amount int64
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&amount,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e.Amount = billing.Amount(amount)
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	const q = `
INSERT INTO ledger_entries (
  id, user_id, type, amount, external_ref, idempotency_key, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		int64(e.Amount),
		e.ExternalRef,
		e.IdempotencyKey,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, delta billing.Amount, now time.Time) (billing.Amount, error) {
	// Upsert the projection row; the delta is applied inside the database
	// so concurrent adjustments for the same user never lose updates.
	const q = `
INSERT INTO ledger_balances (user_id, balance, updated_at)
VALUES ($1,$2,$3)
ON CONFLICT (user_id)
DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance,
              updated_at = EXCLUDED.updated_at
RETURNING balance
`
	var bal int64
	if err := tx.QueryRowContext(ctx, q, userID, int64(delta), now).Scan(&bal); err != nil {
		return 0, err
	}
	return billing.Amount(bal), nil
}
