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

// Package reconciler refunds usage charges whose request never resolved,
// for example after a crash between the debit and the reply.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"metered-assistant-go/internal/ledger"
	"metered-assistant-go/internal/models"

	"go.uber.org/zap"
)

const staleHoldReason = "stale hold"

type HoldSource interface {
	ListStalePendingCharges(ctx context.Context, olderThan time.Time) ([]models.PendingCharge, error)
}

type Refunder interface {
	RefundHold(ctx context.Context, hold ledger.Hold, linkedReason string) (*models.Transaction, error)
}

// HoldReconcilerConfig contains configuration for HoldReconciler
type HoldReconcilerConfig struct {
	Holds         HoldSource
	Ledger        Refunder
	HoldTimeout   time.Duration
	SweepInterval time.Duration
	// Now is overridable in tests.
	Now func() time.Time
}

// HoldReconciler periodically refunds pending charges older than HoldTimeout
type HoldReconciler struct {
	holds         HoldSource
	ledger        Refunder
	holdTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewHoldReconciler(cfg HoldReconcilerConfig) *HoldReconciler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &HoldReconciler{
		holds:         cfg.Holds,
		ledger:        cfg.Ledger,
		holdTimeout:   cfg.HoldTimeout,
		sweepInterval: cfg.SweepInterval,
		now:           now,
		stopChan:      make(chan struct{}),
		doneChan:      make(chan struct{}),
	}
}

// Start runs a recovery sweep for holds left by a previous process, then
// keeps sweeping in the background until Stop or ctx is done.
func (r *HoldReconciler) Start(ctx context.Context) error {
	if r.holdTimeout <= 0 || r.sweepInterval <= 0 {
		return fmt.Errorf("hold timeout and sweep interval must be positive")
	}

	zap.L().Info("Starting hold reconciler")

	if _, err := r.Sweep(ctx); err != nil {
		zap.L().Error("Startup recovery failed", zap.Error(err))
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	r.started.Store(true)
	go r.sweepLoop(ctx)

	zap.L().Info("Hold reconciler started successfully",
		zap.Duration("hold_timeout", r.holdTimeout),
		zap.Duration("sweep_interval", r.sweepInterval))
	return nil
}

// Stop gracefully stops the reconciler
func (r *HoldReconciler) Stop() {
	r.stopOnce.Do(func() {
		zap.L().Info("Stopping hold reconciler")
		close(r.stopChan)
		if r.started.Load() {
			<-r.doneChan
		}
		zap.L().Info("Hold reconciler stopped")
	})
}

func (r *HoldReconciler) sweepLoop(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				zap.L().Error("Hold sweep failed", zap.Error(err))
			}
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep refunds every stale hold once and returns how many it refunded.
func (r *HoldReconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.holdTimeout)
	charges, err := r.holds.ListStalePendingCharges(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale holds: %w", err)
	}

	refunded := 0
	for _, charge := range charges {
		hold := ledger.Hold{
			TransactionId: charge.TransactionId,
			AccountId:     charge.AccountId,
			Amount:        charge.Amount,
		}

		_, err := r.ledger.RefundHold(ctx, hold, staleHoldReason)
		switch {
		case err == nil:
			refunded++
			zap.L().Info("Refunded stale hold",
				zap.String("transaction_id", charge.TransactionId),
				zap.String("account_id", charge.AccountId),
				zap.Time("held_since", charge.CreatedAt))
		case errors.Is(err, ledger.ErrHoldReleased):
			// Resolved by the request between listing and refunding.
		default:
			zap.L().Error("Failed to refund stale hold",
				zap.String("transaction_id", charge.TransactionId),
				zap.String("account_id", charge.AccountId),
				zap.Error(err))
		}
	}

	if len(charges) > 0 {
		zap.L().Info("Hold sweep complete",
			zap.Int("stale", len(charges)),
			zap.Int("refunded", refunded))
	}
	return refunded, nil
}
