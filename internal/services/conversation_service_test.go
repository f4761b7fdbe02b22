package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/models"
	"github.com/dawos/agent/internal/storage"
	"github.com/dawos/agent/internal/utils"
)

func sampleResult() *agent.Result {
	return &agent.Result{
		Question:    "What is 2+2?",
		FinalAnswer: "4",
		Trace: []models.TraceEntry{
			{Kind: models.TraceUserQuestion, Content: "What is 2+2?"},
			{Kind: models.TraceFinalAnswer, Turn: 1, Content: "Answer: 4"},
		},
		TurnsUsed: 1,
		Success:   true,
	}
}

func TestRunRecordAndArchive(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	store := storage.NewMemoryStore()
	svc := NewRunService(repo, NewArchiveService(store, store, "traces/"), quietLogger())

	row, err := svc.Record(ctx, "u1", "s1", RunChat, sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if row.Answer != "4" || row.TotalTurns != 1 || !row.Success || row.Kind != RunChat {
		t.Fatalf("row: %+v", row)
	}
	var trace []models.TraceEntry
	if err := json.Unmarshal(row.Trace, &trace); err != nil || len(trace) != 2 {
		t.Fatalf("trace: %v %v", trace, err)
	}

	want := "traces/u1/" + row.ID + ".json"
	if row.Archive != "mem://"+want {
		t.Fatalf("archive path = %q", row.Archive)
	}
	body, ctype, ok := store.Object(want)
	if !ok || ctype != "application/json" || !strings.Contains(string(body), `"final_answer": "4"`) {
		t.Fatalf("archived object: ok=%v type=%s body=%s", ok, ctype, body)
	}

	url, err := svc.ArchiveURL(ctx, "u1", row.ID)
	if err != nil || !strings.HasPrefix(url, "mem://"+want) {
		t.Fatalf("archive url %q, err %v", url, err)
	}
}

func TestRunGetChecksOwner(t *testing.T) {
	ctx := context.Background()
	svc := NewRunService(newFakeRunRepo(), nil, quietLogger())

	row, err := svc.Record(ctx, "u1", "", RunAnalyzeAndDecide, sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, "u1", row.ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := svc.Get(ctx, "u2", row.ID); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("foreign get: want NOT_FOUND, got %v", err)
	}
	if _, err := svc.Get(ctx, "u1", "missing"); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("missing: want NOT_FOUND, got %v", err)
	}
	if _, err := svc.ArchiveURL(ctx, "u1", row.ID); !utils.IsCode(err, utils.CodeNotFound) {
		t.Fatalf("no archive: want NOT_FOUND, got %v", err)
	}
}

func TestRunRecordValidation(t *testing.T) {
	svc := NewRunService(newFakeRunRepo(), nil, quietLogger())
	if _, err := svc.Record(context.Background(), "", "", RunChat, sampleResult()); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("want INVALID_ARGUMENT, got %v", err)
	}
	if _, err := svc.List(context.Background(), " ", 5); !utils.IsCode(err, utils.CodeInvalidArgument) {
		t.Fatalf("want INVALID_ARGUMENT, got %v", err)
	}
}

func TestArchiveDownloadWithoutSigner(t *testing.T) {
	svc := NewArchiveService(storage.NewMemoryStore(), nil, "")
	if _, err := svc.DownloadURL(context.Background(), "u1", "r1", 0); !utils.IsCode(err, utils.CodePrecondition) {
		t.Fatalf("want FAILED_PRECONDITION, got %v", err)
	}
}
