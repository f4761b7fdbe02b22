package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/utils"
)

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	h := NewHistory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		id, err := h.Insert(ctx, &models.SessionSummary{UserID: "u1", SessionID: string(rune('a' + i)), EndTime: base.Add(time.Duration(i) * time.Hour)})
		if err != nil || id == "" {
			t.Fatalf("insert: id=%q err=%v", id, err)
		}
	}
	_, _ = h.Insert(ctx, &models.SessionSummary{UserID: "u2", EndTime: base})

	got, _ := h.ListByUser(ctx, "u1", 0)
	if len(got) != 5 {
		t.Fatalf("default limit: got %d", len(got))
	}
	if got[0].SessionID != "g" || got[4].SessionID != "c" {
		t.Fatalf("order: %s..%s", got[0].SessionID, got[4].SessionID)
	}
}

func TestSessionsComplete(t *testing.T) {
	ctx := context.Background()
	r := NewSessions()
	if err := r.Complete(ctx, "missing", time.Now()); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	_ = r.Upsert(ctx, &models.SessionRecord{SessionID: "s1", Status: models.SessionMonitoring})
	if err := r.Complete(ctx, "s1", time.Now()); err != nil {
		t.Fatal(err)
	}
	rec, _ := r.GetBySessionID(ctx, "s1")
	if rec.Status != models.SessionCompleted || rec.EndTime == nil {
		t.Fatalf("not completed: %+v", rec)
	}
}

func TestFrameLogListByUser(t *testing.T) {
	ctx := context.Background()
	r := NewFrameLog()
	now := time.Now()
	for i := 0; i < 4; i++ {
		_ = r.Insert(ctx, &models.FrameLog{UserID: "u1", Position: i + 1, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}
	got, _ := r.ListByUser(ctx, "u1", now.Add(time.Second), 2)
	if len(got) != 2 || got[0].Position != 4 {
		t.Fatalf("got %+v", got)
	}
}
