package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustRecord(t *testing.T, repo *MemoryRepo, rec Record) {
	t.Helper()
	if err := repo.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func TestService_ListFiltersByParticipantAndRange(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	connected := base.Add(-50 * time.Second)
	mustRecord(t, repo, Record{
		SessionID: "s1", PayerID: "alice", Participants: []string{"alice", "bob"},
		CallType: "voice", Reason: "user_hangup",
		CreatedAt: base.Add(-time.Minute), ConnectedAt: &connected, EndedAt: base,
		DurationSeconds: 50, TotalCharged: 1650,
	})
	mustRecord(t, repo, Record{
		SessionID: "s2", PayerID: "carol", Participants: []string{"carol", "dave"},
		CallType: "voice", Reason: "timeout",
		CreatedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour),
	})
	mustRecord(t, repo, Record{
		SessionID: "s3", PayerID: "bob", Participants: []string{"bob", "alice"},
		CallType: "video", Reason: "timeout",
		CreatedAt: base.Add(2 * time.Hour), EndedAt: base.Add(2 * time.Hour),
	})

	got, err := svc.List(context.Background(), "alice", base.Add(-time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for alice, got %d", len(got))
	}
	// Newest first.
	if got[0].SessionID != "s3" || got[1].SessionID != "s1" {
		t.Fatalf("unexpected order: %s, %s", got[0].SessionID, got[1].SessionID)
	}

	// Range excludes s3.
	got, err = svc.List(context.Background(), "alice", base.Add(-time.Hour), base.Add(time.Second))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("expected only s1 in narrow range, got %d records", len(got))
	}
}

func TestService_ListRejectsBadInput(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()

	if _, err := svc.List(context.Background(), "", now.Add(-time.Hour), now); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty user, got %v", err)
	}
	if _, err := svc.List(context.Background(), "alice", now, now); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty range, got %v", err)
	}
}

func TestService_SummarizeAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	c1 := base.Add(-100 * time.Second)
	mustRecord(t, repo, Record{
		SessionID: "s1", PayerID: "alice", Participants: []string{"alice", "bob"},
		Reason: "user_hangup", CreatedAt: c1, ConnectedAt: &c1, EndedAt: base,
		DurationSeconds: 100, TotalCharged: 3300,
	})
	c2 := base.Add(50 * time.Second)
	mustRecord(t, repo, Record{
		SessionID: "s2", PayerID: "bob", Participants: []string{"bob", "alice"},
		Reason: "low_balance", CreatedAt: c2, ConnectedAt: &c2, EndedAt: base.Add(110 * time.Second),
		DurationSeconds: 60, TotalCharged: 1980,
	})
	mustRecord(t, repo, Record{
		SessionID: "s3", PayerID: "alice", Participants: []string{"alice", "bob"},
		Reason: "timeout", CreatedAt: base.Add(time.Hour), EndedAt: base.Add(time.Hour),
	})

	sum, err := svc.Summarize(context.Background(), "alice", base.Add(-time.Hour), base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalCalls != 3 || sum.ConnectedCalls != 2 || sum.MissedCalls != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.TotalDurationSeconds != 160 {
		t.Fatalf("expected 160s total, got %d", sum.TotalDurationSeconds)
	}
	if sum.AverageDurationSeconds != 53 {
		t.Fatalf("expected 53s average, got %d", sum.AverageDurationSeconds)
	}
	// Only s1 and s3 were paid by alice.
	if sum.TotalChargedAsPayer != 3300 {
		t.Fatalf("expected 0.3300 charged as payer, got %s", sum.TotalChargedAsPayer)
	}
	if sum.ByReason["timeout"] != 1 || sum.ByReason["user_hangup"] != 1 || sum.ByReason["low_balance"] != 1 {
		t.Fatalf("unexpected reason counts: %v", sum.ByReason)
	}
}
