package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newTestLedger(t *testing.T, size int, now *time.Time) *OperationLedger {
	t.Helper()
	ledger, err := NewOperationLedger(size)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ledger.now = func() time.Time { return *now }
	return ledger
}

func TestOperationLedger_ClaimApplyDuplicate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, 10, &now)

	if err := ledger.Claim("op-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := ledger.Claim("op-1", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}

	if err := ledger.MarkApplied("op-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("mark applied failed: %v", err)
	}
	if err := ledger.Claim("op-1", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationAlreadyApplied) {
		t.Fatalf("expected ErrOperationAlreadyApplied, got %v", err)
	}

	record, err := ledger.Get("op-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != domain.OperationStatusApplied {
		t.Fatalf("expected applied status, got %s", record.Status)
	}
}

func TestOperationLedger_StaleLeaseCanBeTakenOver(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, 10, &now)

	if err := ledger.Claim("op-1", now.Add(time.Second)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	now = now.Add(2 * time.Second)
	if err := ledger.Claim("op-1", now.Add(time.Second)); err != nil {
		t.Fatalf("expected takeover of stale lease, got %v", err)
	}
}

func TestOperationLedger_ReleaseKeepsApplied(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, 10, &now)

	if err := ledger.Claim("op-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := ledger.Release("op-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := ledger.Claim("op-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("expected claim after release, got %v", err)
	}

	if err := ledger.MarkApplied("op-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("mark applied failed: %v", err)
	}
	if err := ledger.Release("op-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := ledger.Get("op-1"); err != nil {
		t.Fatalf("applied record must survive release: %v", err)
	}

	if err := ledger.Release("missing"); !errors.Is(err, domain.ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
	if err := ledger.Claim("  ", now); !errors.Is(err, domain.ErrOperationIDRequired) {
		t.Fatalf("expected ErrOperationIDRequired, got %v", err)
	}
}

func TestOperationLedger_DeleteExpiredAndEviction(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, 3, &now)

	for _, id := range []string{"a", "b", "c"} {
		if err := ledger.Claim(id, now.Add(time.Minute)); err != nil {
			t.Fatalf("claim %s failed: %v", id, err)
		}
	}
	if err := ledger.MarkApplied("c", now.Add(time.Hour)); err != nil {
		t.Fatalf("mark applied failed: %v", err)
	}

	removed, err := ledger.DeleteExpired(now.Add(2*time.Minute), 1)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected limit of 1, removed %d", removed)
	}
	removed, _ = ledger.DeleteExpired(now.Add(2*time.Minute), 0)
	if removed != 1 {
		t.Fatalf("expected 1 more expired record, removed %d", removed)
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected only applied record left, got %d", ledger.Len())
	}

	// Переполнение вытесняет самые старые записи.
	for _, id := range []string{"d", "e", "f"} {
		if err := ledger.Claim(id, now.Add(time.Minute)); err != nil {
			t.Fatalf("claim %s failed: %v", id, err)
		}
	}
	if _, err := ledger.Get("c"); !errors.Is(err, domain.ErrOperationNotFound) {
		t.Fatalf("expected evicted record, got %v", err)
	}
}
