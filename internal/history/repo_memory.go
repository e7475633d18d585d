package history

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory history repository for tests and early
// development.
type MemoryRepo struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Record(ctx context.Context, rec Record) error {
	if rec.SessionID == "" || rec.PayerID == "" {
		return ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.EndedAt.Before(from) || !rec.EndedAt.Before(to) {
			continue
		}
		for _, p := range rec.Participants {
			if p == userID {
				out = append(out, rec)
				break
			}
		}
	}
	return out, nil
}
