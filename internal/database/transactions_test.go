package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"
)

// setupTestDb opens a file-backed database so every pooled connection sees
// the same data.
func setupTestDb(t *testing.T) (*Service, func()) {
	t.Helper()
	cfg := models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
		BusyTimeout:     5 * time.Second,
	}

	service, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	cleanup := func() {
		service.Close()
	}

	return service, cleanup
}

func createAccount(t *testing.T, service *Service, externalId string) *models.Account {
	t.Helper()
	account, err := service.GetOrCreateAccount(context.Background(), externalId, models.Profile{Username: "user" + externalId})
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	return account
}

func TestApplyTransaction_Credit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	result, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{
		AccountId: account.Id,
		Amount:    100,
		Reason:    models.ReasonWelcomeBonus,
	})
	if err != nil {
		t.Fatalf("ApplyTransaction failed: %v", err)
	}

	if result.AccountId != account.Id {
		t.Errorf("Expected account %s, got %s", account.Id, result.AccountId)
	}
	if result.Amount != 100 || result.BalanceAfter != 100 {
		t.Errorf("Expected amount 100 and balance 100, got %d / %d", result.Amount, result.BalanceAfter)
	}

	balance, err := service.subledger.GetBalance(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 100 {
		t.Errorf("Expected balance 100, got %d", balance)
	}
}

func TestApplyTransaction_DebitInsufficientFunds(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	_, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{
		AccountId: account.Id,
		Amount:    -1,
		Reason:    models.ReasonUsageDebit,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
	}

	count, err := service.CountTransactions(ctx, account.Id)
	if err != nil {
		t.Fatalf("CountTransactions failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no transactions after rejected debit, got %d", count)
	}
}

func TestApplyTransaction_UnknownAccount(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, err := service.ApplyTransaction(context.Background(), store.ApplyTransactionParams{
		AccountId: "missing",
		Amount:    5,
		Reason:    models.ReasonAdminCredit,
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestApplyTransaction_OnlyIfUninitialized(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	params := store.ApplyTransactionParams{
		AccountId:           account.Id,
		Amount:              100,
		Reason:              models.ReasonWelcomeBonus,
		OnlyIfUninitialized: true,
	}
	if _, err := service.ApplyTransaction(ctx, params); err != nil {
		t.Fatalf("First bonus failed: %v", err)
	}
	if _, err := service.ApplyTransaction(ctx, params); !errors.Is(err, store.ErrAlreadyInitialized) {
		t.Fatalf("Expected ErrAlreadyInitialized, got %v", err)
	}

	got, err := service.GetAccountById(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccountById failed: %v", err)
	}
	if got.Balance != 100 {
		t.Errorf("Expected balance 100, got %d", got.Balance)
	}
}

func TestApplyTransaction_HoldLifecycle(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")
	if _, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: 10, Reason: models.ReasonAdminCredit}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	debit, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{
		AccountId:  account.Id,
		Amount:     -1,
		Reason:     models.ReasonUsageDebit,
		RecordHold: true,
	})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	hold, err := service.GetPendingCharge(ctx, debit.Id)
	if err != nil {
		t.Fatalf("GetPendingCharge failed: %v", err)
	}
	if hold.Amount != 1 || hold.AccountId != account.Id {
		t.Errorf("Unexpected hold: %+v", hold)
	}

	stale, err := service.ListStalePendingCharges(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStalePendingCharges failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("Expected 1 stale hold, got %d", len(stale))
	}
	fresh, err := service.ListStalePendingCharges(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStalePendingCharges failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("Expected no holds older than an hour ago, got %d", len(fresh))
	}

	// Refund and release together
	refund := store.ApplyTransactionParams{
		AccountId:   account.Id,
		Amount:      1,
		Reason:      models.ReasonRefund,
		ReleaseHold: debit.Id,
	}
	if _, err := service.ApplyTransaction(ctx, refund); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	// A second refund against the same hold must not apply
	if _, err := service.ApplyTransaction(ctx, refund); !errors.Is(err, store.ErrHoldNotFound) {
		t.Fatalf("Expected ErrHoldNotFound, got %v", err)
	}

	got, err := service.GetAccountById(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccountById failed: %v", err)
	}
	if got.Balance != 10 {
		t.Errorf("Expected balance restored to 10, got %d", got.Balance)
	}
	if err := service.ReconcileBalance(ctx, account.Id); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}

func TestReleasePendingCharge(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")
	if _, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: 1, Reason: models.ReasonAdminCredit}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	debit, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: -1, Reason: models.ReasonUsageDebit, RecordHold: true})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	if err := service.ReleasePendingCharge(ctx, debit.Id); err != nil {
		t.Fatalf("ReleasePendingCharge failed: %v", err)
	}
	if err := service.ReleasePendingCharge(ctx, debit.Id); !errors.Is(err, store.ErrHoldNotFound) {
		t.Fatalf("Expected ErrHoldNotFound on second release, got %v", err)
	}
	if _, err := service.GetPendingCharge(ctx, debit.Id); !errors.Is(err, store.ErrHoldNotFound) {
		t.Fatalf("Expected hold gone, got %v", err)
	}
}

func TestApplyTransaction_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")
	if _, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: 5, Reason: models.ReasonAdminCredit}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{
				AccountId: account.Id,
				Amount:    -1,
				Reason:    models.ReasonUsageDebit,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 || rejected != workers-5 {
		t.Errorf("Expected 5 successes and %d rejections, got %d / %d", workers-5, succeeded, rejected)
	}

	got, err := service.GetAccountById(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetAccountById failed: %v", err)
	}
	if got.Balance != 0 {
		t.Errorf("Expected balance 0, got %d", got.Balance)
	}
	if err := service.ReconcileBalance(ctx, account.Id); err != nil {
		t.Errorf("ReconcileBalance failed: %v", err)
	}
}

func TestGetTransactionHistory(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	for _, p := range []store.ApplyTransactionParams{
		{AccountId: account.Id, Amount: 100, Reason: models.ReasonWelcomeBonus},
		{AccountId: account.Id, Amount: -1, Reason: models.ReasonUsageDebit},
		{AccountId: account.Id, Amount: 5, Reason: models.ReasonAdminCredit, Description: "promo"},
	} {
		if _, err := service.ApplyTransaction(ctx, p); err != nil {
			t.Fatalf("ApplyTransaction failed: %v", err)
		}
	}

	history, err := service.GetTransactionHistory(ctx, account.Id, 10, 0)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(history))
	}
	if history[0].Reason != models.ReasonAdminCredit || history[0].BalanceAfter != 104 {
		t.Errorf("Expected newest admin credit with balance 104, got %+v", history[0])
	}
	if history[0].Description != "promo" {
		t.Errorf("Expected description 'promo', got %q", history[0].Description)
	}

	page, err := service.GetTransactionHistory(ctx, account.Id, 1, 2)
	if err != nil {
		t.Fatalf("GetTransactionHistory failed: %v", err)
	}
	if len(page) != 1 || page[0].Reason != models.ReasonWelcomeBonus {
		t.Errorf("Expected oldest row on last page, got %+v", page)
	}
}
