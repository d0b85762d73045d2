package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOperationLedger_PostgresClaimApplyRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewOperationLedger(store)
	now := time.Now().UTC()

	if err := ledger.Claim(" ", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationIDRequired) {
		t.Fatalf("expected ErrOperationIDRequired, got %v", err)
	}

	if err := ledger.Claim("op-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := ledger.Claim("op-1", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}

	if err := ledger.MarkApplied("op-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("mark applied: %v", err)
	}
	if err := ledger.Claim("op-1", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationAlreadyApplied) {
		t.Fatalf("expected ErrOperationAlreadyApplied, got %v", err)
	}
	// Release не трогает применённую операцию.
	if err := ledger.Release("op-1"); err != nil {
		t.Fatalf("release applied: %v", err)
	}
	record, err := ledger.Get("op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != domain.OperationStatusApplied {
		t.Fatalf("expected applied, got %s", record.Status)
	}

	if err := ledger.Claim("op-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim op-2: %v", err)
	}
	if err := ledger.Release("op-2"); err != nil {
		t.Fatalf("release op-2: %v", err)
	}
	if err := ledger.Claim("op-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim after release: %v", err)
	}

	if err := ledger.Release("missing"); !errors.Is(err, domain.ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
	if err := ledger.MarkApplied("missing", now); !errors.Is(err, domain.ErrOperationNotFound) {
		t.Fatalf("expected ErrOperationNotFound, got %v", err)
	}
}

func TestOperationLedger_PostgresExpiredLeaseTakeover(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewOperationLedger(store)
	now := time.Now().UTC()

	if err := ledger.Claim("op-lease", now.Add(-time.Second)); err != nil {
		t.Fatalf("claim with expired lease: %v", err)
	}
	if err := ledger.Claim("op-lease", now.Add(time.Minute)); err != nil {
		t.Fatalf("expected takeover of expired lease, got %v", err)
	}
	if err := ledger.Claim("op-lease", now.Add(time.Minute)); !errors.Is(err, domain.ErrOperationInProgress) {
		t.Fatalf("expected ErrOperationInProgress, got %v", err)
	}
}

func TestOperationLedger_PostgresDeleteExpired(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewOperationLedger(store)
	now := time.Now().UTC()

	for _, id := range []string{"old-1", "old-2", "old-3"} {
		if err := ledger.Claim(id, now.Add(-time.Minute)); err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
	}
	if err := ledger.Claim("fresh", now.Add(time.Hour)); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}

	removed, err := ledger.DeleteExpired(now, 2)
	if err != nil {
		t.Fatalf("delete expired limited: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	removed, err = ledger.DeleteExpired(now, 0)
	if err != nil {
		t.Fatalf("delete expired all: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	if _, err := ledger.Get("fresh"); err != nil {
		t.Fatalf("fresh record should remain: %v", err)
	}
}
