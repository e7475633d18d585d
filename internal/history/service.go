package history

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRequest = errors.New("history: invalid request")

// Recorder is the write side: the call engine hands it one Record per ended
// session. Implementations must treat records as append-only.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Repository abstracts data access for call history queries.
type Repository interface {
	Recorder

	// ListByParticipant returns records where the user was party to the
	// call, newest first.
	ListByParticipant(ctx context.Context, userID string, from, to time.Time) ([]Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) List(ctx context.Context, userID string, from, to time.Time) ([]Record, error) {
	if userID == "" {
		return nil, ErrInvalidRequest
	}
	if from.IsZero() || to.IsZero() || !to.After(from) {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("history: repository not configured")
	}
	return s.repo.ListByParticipant(ctx, userID, from, to)
}

// Summarize aggregates the user's records over a range.
func (s *Service) Summarize(ctx context.Context, userID string, from, to time.Time) (Summary, error) {
	rows, err := s.List(ctx, userID, from, to)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{UserID: userID, ByReason: map[string]int{}}
	for _, r := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		if r.Connected() {
			out.ConnectedCalls++
		} else {
			out.MissedCalls++
		}
		if r.Reason != "" {
			out.ByReason[r.Reason]++
		}
		if r.PayerID == userID {
			out.TotalChargedAsPayer += r.TotalCharged
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.TotalCalls)
	}
	return out, nil
}
