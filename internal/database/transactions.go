package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApplyTransaction atomically updates balance and records transaction
func (s *SubledgerService) ApplyTransaction(ctx context.Context, params store.ApplyTransactionParams) (*models.Transaction, error) {
	if params.Amount == 0 {
		return nil, fmt.Errorf("transaction amount cannot be zero")
	}
	if params.RecordHold && params.Amount > 0 {
		return nil, fmt.Errorf("only debits can record a pending charge")
	}

	zap.L().Debug("Applying transaction",
		zap.String("account_id", params.AccountId),
		zap.String("reason", params.Reason),
		zap.Int64("amount", params.Amount))

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentBalance, version int64
	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.AccountId).Scan(&currentBalance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, params.AccountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	if params.OnlyIfUninitialized {
		var count int
		if err := tx.QueryRowContext(ctx, queryCountTransactions, params.AccountId).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count transactions: %w", err)
		}
		if count > 0 {
			return nil, store.ErrAlreadyInitialized
		}
	}

	// Calculate new balance
	newBalance := currentBalance + params.Amount
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", store.ErrInsufficientFunds, currentBalance, -params.Amount)
	}

	if params.ReleaseHold != "" {
		if err := deletePendingCharge(ctx, tx, params.ReleaseHold); err != nil {
			return nil, err
		}
	}

	// Create transaction record
	transaction := &models.Transaction{
		Id:           uuid.New().String(),
		AccountId:    params.AccountId,
		Amount:       params.Amount,
		Reason:       params.Reason,
		Description:  params.Description,
		BalanceAfter: newBalance,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.AccountId, transaction.Amount, transaction.Reason,
		transaction.Description, currentBalance, newBalance, transaction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance, transaction.Id, transaction.CreatedAt, params.AccountId, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if params.RecordHold {
		_, err = tx.ExecContext(ctx, queryInsertPendingCharge,
			transaction.Id, params.AccountId, -params.Amount, transaction.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to record pending charge: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Transaction applied successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("account_id", params.AccountId),
		zap.String("reason", params.Reason),
		zap.Int64("old_balance", currentBalance),
		zap.Int64("new_balance", newBalance))

	return transaction, nil
}

func deletePendingCharge(ctx context.Context, tx *sql.Tx, transactionId string) error {
	result, err := tx.ExecContext(ctx, queryDeletePendingCharge, transactionId)
	if err != nil {
		return fmt.Errorf("failed to delete pending charge: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrHoldNotFound, transactionId)
	}
	return nil
}

func (s *SubledgerService) CountTransactions(ctx context.Context, accountId string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryCountTransactions, accountId).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// GetTransactionHistory returns paginated transaction history for an account, newest first
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("account_id", accountId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		err := rows.Scan(&tx.Id, &tx.AccountId, &tx.Amount, &tx.Reason,
			&tx.Description, &tx.BalanceAfter, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

func (s *SubledgerService) GetPendingCharge(ctx context.Context, transactionId string) (*models.PendingCharge, error) {
	var pc models.PendingCharge
	err := s.db.QueryRowContext(ctx, queryGetPendingCharge, transactionId).Scan(
		&pc.TransactionId, &pc.AccountId, &pc.Amount, &pc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrHoldNotFound, transactionId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending charge: %w", err)
	}
	return &pc, nil
}

// ReleasePendingCharge settles a usage debit: the charge stands and the
// marker is removed.
func (s *SubledgerService) ReleasePendingCharge(ctx context.Context, transactionId string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deletePendingCharge(ctx, tx, transactionId); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListStalePendingCharges returns holds created before olderThan, oldest first
func (s *SubledgerService) ListStalePendingCharges(ctx context.Context, olderThan time.Time) ([]models.PendingCharge, error) {
	rows, err := s.db.QueryContext(ctx, queryListStalePendingCharges, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending charges: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var charges []models.PendingCharge
	for rows.Next() {
		var pc models.PendingCharge
		if err := rows.Scan(&pc.TransactionId, &pc.AccountId, &pc.Amount, &pc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending charge: %w", err)
		}
		charges = append(charges, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending charge rows: %w", err)
	}
	return charges, nil
}
