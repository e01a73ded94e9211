package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voice_scribe_bot/internal/config"
	"voice_scribe_bot/internal/domain"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()

	ledger, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "payments.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = ledger.Close(context.Background())
	})
	return ledger
}

func TestSQLiteLedgerBalanceSumsPayments(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	balance, err := ledger.GetUserBalance(ctx, 5)
	if err != nil {
		t.Fatalf("GetUserBalance returned error: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0 for user without payments, got %d", balance)
	}

	if err := ledger.RecordPayment(ctx, 5, "c1", 100, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}
	if err := ledger.RecordPayment(ctx, 5, "c2", 250, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}
	if err := ledger.RecordPayment(ctx, 6, "c3", 999, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}

	balance, err = ledger.GetUserBalance(ctx, 5)
	if err != nil {
		t.Fatalf("GetUserBalance returned error: %v", err)
	}
	if balance != 350 {
		t.Fatalf("expected 350, got %d", balance)
	}
}

func TestSQLiteLedgerRejectsDuplicateCharge(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.RecordPayment(ctx, 7, "dup", 100, domain.CurrencyStars); err != nil {
		t.Fatalf("first RecordPayment returned error: %v", err)
	}

	err := ledger.RecordPayment(ctx, 7, "dup", 100, domain.CurrencyStars)
	if !errors.Is(err, domain.ErrDuplicateCharge) {
		t.Fatalf("expected ErrDuplicateCharge, got %v", err)
	}

	balance, err := ledger.GetUserBalance(ctx, 7)
	if err != nil {
		t.Fatalf("GetUserBalance returned error: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected balance 100 after duplicate, got %d", balance)
	}
}

func TestSQLiteLedgerConcurrentDuplicatesRecordOnce(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.RecordPayment(ctx, 9, "race", 10, domain.CurrencyStars); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one successful insert, got %d", success)
	}

	balance, err := ledger.GetUserBalance(ctx, 9)
	if err != nil {
		t.Fatalf("GetUserBalance returned error: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}
}

func TestSQLiteLedgerGetPayment(t *testing.T) {
	ledger := newTestLedger(t)
	fixed := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }
	ctx := context.Background()

	if _, err := ledger.GetPayment(ctx, "missing"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}

	if err := ledger.RecordPayment(ctx, 42, "ch_1", 1, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}
	if err := ledger.RecordPayment(ctx, 42, "ch_2", 1, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}

	first, err := ledger.GetPayment(ctx, "ch_1")
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}
	second, err := ledger.GetPayment(ctx, "ch_2")
	if err != nil {
		t.Fatalf("GetPayment returned error: %v", err)
	}

	if first.UserID != 42 || first.Amount != 1 || first.Currency != domain.CurrencyStars {
		t.Fatalf("unexpected payment: %+v", first)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected monotonic ids, got %d then %d", first.ID, second.ID)
	}
	if !first.Timestamp.Equal(fixed) {
		t.Fatalf("expected timestamp %v, got %v", fixed, first.Timestamp)
	}
}

func TestSQLiteLedgerPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "payments.db")
	ctx := context.Background()

	ledger, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if err := ledger.RecordPayment(ctx, 1, "persist", 5, domain.CurrencyStars); err != nil {
		t.Fatalf("RecordPayment returned error: %v", err)
	}
	if err := ledger.Close(ctx); err != nil {
		t.Fatalf("close ledger: %v", err)
	}

	reopened, err := Open(ctx, config.Config{LedgerDriver: config.LedgerSQLite, LedgerPath: path})
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close(ctx) })

	if err := reopened.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	balance, err := reopened.GetUserBalance(ctx, 1)
	if err != nil {
		t.Fatalf("GetUserBalance returned error: %v", err)
	}
	if balance != 5 {
		t.Fatalf("expected persisted balance 5, got %d", balance)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{LedgerDriver: "postgres"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
