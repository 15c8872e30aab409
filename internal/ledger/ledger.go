/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ledger owns every balance change of the prepaid credit system.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"go.uber.org/zap"
)

const (
	maxApplyAttempts = 3
	mirrorTimeout    = 5 * time.Second
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrHoldReleased means the pending charge was already settled or refunded.
	ErrHoldReleased = errors.New("pending charge already released")
)

// Mirror receives every committed transaction. Publishing is best-effort.
type Mirror interface {
	Publish(ctx context.Context, txn models.Transaction) error
}

// Store is the subset of persistence the ledger needs.
type Store interface {
	store.LedgerStore
	GetAccountById(ctx context.Context, accountId string) (*models.Account, error)
}

type Config struct {
	WelcomeBonus int64
	Mirror       Mirror
}

// Hold is an in-flight usage debit awaiting settlement or refund.
type Hold struct {
	TransactionId string
	AccountId     string
	Amount        int64
}

type Service struct {
	store        Store
	welcomeBonus int64
	mirror       Mirror
}

func NewService(s Store, cfg Config) *Service {
	return &Service{
		store:        s,
		welcomeBonus: cfg.WelcomeBonus,
		mirror:       cfg.Mirror,
	}
}

// EnsureInitialized grants the welcome bonus to an account with no ledger
// rows. Concurrent callers produce a single bonus.
func (s *Service) EnsureInitialized(ctx context.Context, accountId string) error {
	if s.welcomeBonus <= 0 {
		return nil
	}

	_, err := s.apply(ctx, store.ApplyTransactionParams{
		AccountId:           accountId,
		Amount:              s.welcomeBonus,
		Reason:              models.ReasonWelcomeBonus,
		Description:         "welcome bonus",
		OnlyIfUninitialized: true,
	})
	if errors.Is(err, store.ErrAlreadyInitialized) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to initialize account %s: %w", accountId, err)
	}

	zap.L().Info("Welcome bonus granted",
		zap.String("account_id", accountId),
		zap.Int64("amount", s.welcomeBonus))
	return nil
}

func (s *Service) Credit(ctx context.Context, accountId string, amount int64, reason, description string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return s.apply(ctx, store.ApplyTransactionParams{
		AccountId:   accountId,
		Amount:      amount,
		Reason:      reason,
		Description: description,
	})
}

// Debit returns false without mutating anything when the balance cannot
// cover amount.
func (s *Service) Debit(ctx context.Context, accountId string, amount int64, reason, description string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	_, err := s.apply(ctx, store.ApplyTransactionParams{
		AccountId:   accountId,
		Amount:      -amount,
		Reason:      reason,
		Description: description,
	})
	if errors.Is(err, store.ErrInsufficientFunds) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Refund(ctx context.Context, accountId string, amount int64, linkedReason string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return s.apply(ctx, store.ApplyTransactionParams{
		AccountId:   accountId,
		Amount:      amount,
		Reason:      models.ReasonRefund,
		Description: refundDescription(linkedReason),
	})
}

// Reserve debits amount as usage and records a pending charge for it in the
// same unit of work. ok is false when funds are insufficient.
func (s *Service) Reserve(ctx context.Context, accountId string, amount int64, description string) (*Hold, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	txn, err := s.apply(ctx, store.ApplyTransactionParams{
		AccountId:   accountId,
		Amount:      -amount,
		Reason:      models.ReasonUsageDebit,
		Description: description,
		RecordHold:  true,
	})
	if errors.Is(err, store.ErrInsufficientFunds) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &Hold{TransactionId: txn.Id, AccountId: accountId, Amount: amount}, true, nil
}

// Settle makes the charge final.
func (s *Service) Settle(ctx context.Context, hold Hold) error {
	err := s.store.ReleasePendingCharge(ctx, hold.TransactionId)
	if errors.Is(err, store.ErrHoldNotFound) {
		return fmt.Errorf("%w: %s", ErrHoldReleased, hold.TransactionId)
	}
	if err != nil {
		return fmt.Errorf("failed to settle hold %s: %w", hold.TransactionId, err)
	}
	return nil
}

// RefundHold returns the held amount and removes the pending charge
// atomically. A hold that is already gone is never refunded twice.
func (s *Service) RefundHold(ctx context.Context, hold Hold, linkedReason string) (*models.Transaction, error) {
	txn, err := s.apply(ctx, store.ApplyTransactionParams{
		AccountId:   hold.AccountId,
		Amount:      hold.Amount,
		Reason:      models.ReasonRefund,
		Description: refundDescription(linkedReason),
		ReleaseHold: hold.TransactionId,
	})
	if errors.Is(err, store.ErrHoldNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrHoldReleased, hold.TransactionId)
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) Balance(ctx context.Context, accountId string) (int64, error) {
	account, err := s.store.GetAccountById(ctx, accountId)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *Service) History(ctx context.Context, accountId string, limit, offset int) ([]models.Transaction, error) {
	return s.store.GetTransactionHistory(ctx, accountId, limit, offset)
}

// Reconcile checks the stored balance against the sum of the account's rows.
func (s *Service) Reconcile(ctx context.Context, accountId string) error {
	return s.store.ReconcileBalance(ctx, accountId)
}

func (s *Service) apply(ctx context.Context, params store.ApplyTransactionParams) (*models.Transaction, error) {
	var txn *models.Transaction
	var err error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		txn, err = s.store.ApplyTransaction(ctx, params)
		if !errors.Is(err, store.ErrConcurrentModification) {
			break
		}
		zap.L().Warn("Balance version conflict, retrying",
			zap.String("account_id", params.AccountId),
			zap.String("reason", params.Reason),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}

	s.publish(ctx, *txn)
	return txn, nil
}

func (s *Service) publish(ctx context.Context, txn models.Transaction) {
	if s.mirror == nil {
		return
	}
	mirrorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorTimeout)
	defer cancel()
	if err := s.mirror.Publish(mirrorCtx, txn); err != nil {
		zap.L().Warn("Failed to mirror transaction",
			zap.String("transaction_id", txn.Id),
			zap.String("account_id", txn.AccountId),
			zap.Error(err))
	}
}

func refundDescription(linkedReason string) string {
	return "refund: " + linkedReason
}
