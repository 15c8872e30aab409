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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"metered-assistant-go/internal/common"
	"metered-assistant-go/internal/config"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts int
	totalCredits  int64
	mismatches    int
	mirrorDrift   int
}

func processAccount(ctx context.Context, report *common.Report, account common.AccountInfo, core *common.Core, historyLimit int, stats *balanceStats) error {
	var errs error

	// Reconcile compares the cached balance with the sum of ledger rows.
	if err := core.Ledger.Reconcile(ctx, account.Id); err != nil {
		stats.mismatches++
		errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", account.ExternalId, err))
	}

	progress, err := core.DbService.GetProgress(ctx, account.Id)
	errs = multierr.Append(errs, err)

	history, err := core.Ledger.History(ctx, account.Id, historyLimit, 0)
	errs = multierr.Append(errs, err)

	report.AccountHeader(account, progress)
	for i, txn := range history {
		report.Transaction(txn, i == len(history)-1)
	}

	if core.Mirror != nil {
		mirrored, err := core.Mirror.AccountBalance(ctx, account.Id)
		switch {
		case err != nil:
			errs = multierr.Append(errs, err)
		case mirrored != account.Balance:
			stats.mirrorDrift++
			report.Warning("mirror balance %d differs from ledger %d", mirrored, account.Balance)
		}
	}
	return errs
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	accountFlag := flag.String("account", "", "Filter by specific account external id (optional)")
	historyFlag := flag.Int("history", 5, "Number of recent transactions to show per account")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	core, err := common.InitializeCore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer core.Close()

	accounts, err := common.InitializeAccounts(ctx, core.DbService, *accountFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize accounts", zap.Error(err))
	}

	report := common.NewReport(os.Stdout, common.DefaultWidth)
	report.Header("ACCOUNT BALANCE REPORT")

	stats := balanceStats{}
	for _, account := range accounts {
		stats.totalAccounts++
		stats.totalCredits += account.Balance
		if err := processAccount(ctx, report, account, core, *historyFlag, &stats); err != nil {
			for _, e := range multierr.Errors(err) {
				logger.Error("Account check failed",
					zap.String("external_id", account.ExternalId),
					zap.Error(e))
			}
		}
	}

	summary := fmt.Sprintf("SUMMARY: %d accounts, %d credits outstanding, %d reconcile mismatches, %d mirror drifts",
		stats.totalAccounts, stats.totalCredits, stats.mismatches, stats.mirrorDrift)
	report.Footer(summary)

	logger.Info("Balance query completed",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int64("credits", stats.totalCredits),
		zap.Int("mismatches", stats.mismatches))
}
