package ledger

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestUpsertPendingIsIdempotent(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("tdm_q1_fin", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.UpsertPending("tdm_q1_fin", StageSubPrompt); err != nil {
		t.Fatalf("Second UpsertPending failed: %v", err)
	}

	status, ok, err := l.GetStatus("tdm_q1_fin")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if !ok {
		t.Fatal("Work item not found after upsert")
	}
	if status != StatusPending {
		t.Errorf("Status = %s, want %s", status, StatusPending)
	}

	summary, err := l.GetSummary("")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Total != 1 {
		t.Errorf("Total = %d, want 1 (duplicate upsert created a row)", summary.Total)
	}
}

func TestUpsertPendingDoesNotResetStatus(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.MarkComplete("x", "/out/x.json"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("Redundant UpsertPending failed: %v", err)
	}

	status, _, err := l.GetStatus("x")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status != StatusComplete {
		t.Errorf("Status = %s, want %s after redundant upsert", status, StatusComplete)
	}
}

func TestAttemptsAreMonotonic(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", StageStarAnswer); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := l.SetStatus("x", StatusInProgress, Update{IncrementAttempt: true}); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		attempts, err := l.GetAttempts("x")
		if err != nil {
			t.Fatalf("GetAttempts failed: %v", err)
		}
		if attempts != i {
			t.Errorf("After %d increments, attempts = %d", i, attempts)
		}
	}

	// Transitions without increment leave the counter alone.
	if err := l.SetStatus("x", StatusComplete, Update{OutputPath: "/out/x.json"}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	attempts, err := l.GetAttempts("x")
	if err != nil {
		t.Fatalf("GetAttempts failed: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Attempts = %d after non-incrementing update, want 3", attempts)
	}
}

func TestSetStatusObservesLastWrite(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", StageConversation); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}

	sequence := []Status{StatusInProgress, StatusFailed, StatusInProgress, StatusComplete}
	for _, st := range sequence {
		if err := l.SetStatus("x", st, Update{IncrementAttempt: true}); err != nil {
			t.Fatalf("SetStatus(%s) failed: %v", st, err)
		}
		got, ok, err := l.GetStatus("x")
		if err != nil || !ok {
			t.Fatalf("GetStatus failed: ok=%v err=%v", ok, err)
		}
		if got != st {
			t.Errorf("GetStatus = %s, want %s", got, st)
		}
	}
}

func TestSetStatusUnknownItem(t *testing.T) {
	l := newTestLedger(t)
	if err := l.SetStatus("missing", StatusComplete, Update{}); err == nil {
		t.Error("SetStatus on missing item should fail")
	}
}

func TestCompleteClearsErrorMessage(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.MarkFailed("x", "timeout"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	msg, err := l.GetErrorMessage("x")
	if err != nil {
		t.Fatalf("GetErrorMessage failed: %v", err)
	}
	if msg != "timeout" {
		t.Errorf("Error message = %q, want %q", msg, "timeout")
	}

	if err := l.MarkComplete("x", "/out/x.json"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	msg, err = l.GetErrorMessage("x")
	if err != nil {
		t.Fatalf("GetErrorMessage failed: %v", err)
	}
	if msg != "" {
		t.Errorf("Error message = %q after completion, want empty", msg)
	}
}

func TestQueryRetryableRespectsAttemptCap(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.SetStatus("x", StatusFailed, Update{ErrorMessage: "timeout", IncrementAttempt: true}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	ids, err := l.QueryRetryable("", 3, 0)
	if err != nil {
		t.Fatalf("QueryRetryable failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "x" {
		t.Fatalf("QueryRetryable = %v, want [x]", ids)
	}

	// Two more failed attempts reach the cap of 3.
	for i := 0; i < 2; i++ {
		if err := l.SetStatus("x", StatusFailed, Update{ErrorMessage: "timeout", IncrementAttempt: true}); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
	}

	ids, err = l.QueryRetryable("", 3, 0)
	if err != nil {
		t.Fatalf("QueryRetryable failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("QueryRetryable = %v after hitting attempt cap, want empty", ids)
	}
}

func TestQueryRetryableOrdersByLastAttempt(t *testing.T) {
	l := newTestLedger(t)

	for _, id := range []string{"b", "a"} {
		if err := l.UpsertPending(id, StageSubPrompt); err != nil {
			t.Fatalf("UpsertPending failed: %v", err)
		}
	}
	if err := l.SetStatus("b", StatusFailed, Update{IncrementAttempt: true}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := l.SetStatus("a", StatusFailed, Update{IncrementAttempt: true}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	ids, err := l.QueryRetryable("", 3, 0)
	if err != nil {
		t.Fatalf("QueryRetryable failed: %v", err)
	}
	want := []string{"b", "a"}
	if len(ids) != 2 || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("QueryRetryable = %v, want %v", ids, want)
	}
}

func TestQueryPendingOrdersByCreation(t *testing.T) {
	l := newTestLedger(t)

	for _, id := range []string{"first", "second", "third"} {
		if err := l.UpsertPending(id, StageSubPrompt); err != nil {
			t.Fatalf("UpsertPending failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	// A pending item from another stage is excluded by the stage filter.
	if err := l.UpsertPending("other", StageStarAnswer); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}

	ids, err := l.QueryPending(StageSubPrompt, 0)
	if err != nil {
		t.Fatalf("QueryPending failed: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(ids) != len(want) {
		t.Fatalf("QueryPending = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("QueryPending[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	limited, err := l.QueryPending(StageSubPrompt, 2)
	if err != nil {
		t.Fatalf("QueryPending with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("QueryPending limit=2 returned %d ids", len(limited))
	}
}

func TestGetSummary(t *testing.T) {
	l := newTestLedger(t)

	items := map[string]Status{
		"a": StatusComplete,
		"b": StatusComplete,
		"c": StatusFailed,
		"d": StatusPending,
	}
	for id := range items {
		if err := l.UpsertPending(id, StageSubPrompt); err != nil {
			t.Fatalf("UpsertPending failed: %v", err)
		}
	}
	for id, st := range items {
		if st == StatusPending {
			continue
		}
		if err := l.SetStatus(id, st, Update{IncrementAttempt: true}); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
	}
	if err := l.UpsertPending("e", StageStarAnswer); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}

	summary, err := l.GetSummary(StageSubPrompt)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Counts[StatusComplete] != 2 {
		t.Errorf("complete = %d, want 2", summary.Counts[StatusComplete])
	}
	if summary.Counts[StatusFailed] != 1 {
		t.Errorf("failed = %d, want 1", summary.Counts[StatusFailed])
	}
	if summary.Counts[StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", summary.Counts[StatusPending])
	}
	if summary.Total != 4 {
		t.Errorf("total = %d, want 4", summary.Total)
	}

	all, err := l.GetSummary("")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if all.Total != 5 {
		t.Errorf("unfiltered total = %d, want 5", all.Total)
	}
}

func TestGetOutputPath(t *testing.T) {
	l := newTestLedger(t)

	if _, ok, err := l.GetOutputPath("missing"); err != nil || ok {
		t.Errorf("GetOutputPath(missing) = ok=%v err=%v, want absent", ok, err)
	}

	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if _, ok, err := l.GetOutputPath("x"); err != nil || ok {
		t.Errorf("GetOutputPath before completion = ok=%v err=%v, want absent", ok, err)
	}

	if err := l.MarkComplete("x", "/out/x.json"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	path, ok, err := l.GetOutputPath("x")
	if err != nil || !ok {
		t.Fatalf("GetOutputPath failed: ok=%v err=%v", ok, err)
	}
	if path != "/out/x.json" {
		t.Errorf("GetOutputPath = %q, want /out/x.json", path)
	}
}

func TestQueryCompleted(t *testing.T) {
	l := newTestLedger(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := l.UpsertPending(id, StageSubPrompt); err != nil {
			t.Fatalf("UpsertPending failed: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := l.MarkComplete("a", "/out/a.json"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}
	if err := l.MarkComplete("c", "/out/c.json"); err != nil {
		t.Fatalf("MarkComplete failed: %v", err)
	}

	items, err := l.QueryCompleted(StageSubPrompt)
	if err != nil {
		t.Fatalf("QueryCompleted failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("QueryCompleted returned %d items, want 2", len(items))
	}
	if items[0].ID != "a" || items[0].OutputPath != "/out/a.json" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[1].ID != "c" || items[1].OutputPath != "/out/c.json" {
		t.Errorf("items[1] = %+v", items[1])
	}
}

func TestResetStage(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("a", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.UpsertPending("b", StageStarAnswer); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}

	n, err := l.ResetStage(StageSubPrompt)
	if err != nil {
		t.Fatalf("ResetStage failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetStage deleted %d rows, want 1", n)
	}

	summary, err := l.GetSummary("")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Total != 1 {
		t.Errorf("total = %d after stage reset, want 1", summary.Total)
	}

	n, err = l.ResetAll()
	if err != nil {
		t.Fatalf("ResetAll failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ResetAll deleted %d rows, want 1", n)
	}
}

func TestStatusValidation(t *testing.T) {
	l := newTestLedger(t)

	if err := l.UpsertPending("x", Stage("bogus")); err == nil {
		t.Error("UpsertPending with invalid stage should fail")
	}
	if err := l.UpsertPending("x", StageSubPrompt); err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if err := l.SetStatus("x", Status("bogus"), Update{}); err == nil {
		t.Error("SetStatus with invalid status should fail")
	}
}
