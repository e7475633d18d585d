package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Adeloyejoshual/Smart-talk-sub001/internal/billing"
)

// PostgresRepo persists call records in Postgres.
//
// Assumed table: call_records, with participants stored as a comma-joined
// text column and an index on (payer_id, ended_at). Participant lookups go
// through a membership LIKE match; a proper join table can replace it once
// read volume warrants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Record(ctx context.Context, rec Record) error {
	if rec.SessionID == "" || rec.PayerID == "" {
		return ErrInvalidRequest
	}
	const q = `
INSERT INTO call_records (
  session_id, payer_id, participants, call_type, reason,
  created_at, connected_at, ended_at, duration_seconds, total_charged
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (session_id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q,
		rec.SessionID,
		rec.PayerID,
		joinParticipants(rec.Participants),
		rec.CallType,
		rec.Reason,
		rec.CreatedAt,
		rec.ConnectedAt,
		rec.EndedAt,
		rec.DurationSeconds,
		int64(rec.TotalCharged),
	)
	return err
}

func (r *PostgresRepo) ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	const q = `
SELECT session_id, payer_id, participants, call_type, reason,
       created_at, connected_at, ended_at, duration_seconds, total_charged
FROM call_records
WHERE (',' || participants || ',') LIKE '%,' || $1 || ',%'
  AND ended_at >= $2 AND ended_at < $3
ORDER BY ended_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var participants string
		var charged int64
		if err := rows.Scan(
			&rec.SessionID,
			&rec.PayerID,
			&participants,
			&rec.CallType,
			&rec.Reason,
			&rec.CreatedAt,
			&rec.ConnectedAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&charged,
		); err != nil {
			return nil, err
		}
		rec.Participants = splitParticipants(participants)
		rec.TotalCharged = billing.Amount(charged)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func joinParticipants(ids []string) string { return strings.Join(ids, ",") }

func splitParticipants(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
