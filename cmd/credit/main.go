package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"metered-assistant-go/internal/admin"
	"metered-assistant-go/internal/common"
	"metered-assistant-go/internal/config"

	"go.uber.org/zap"
)

func validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	actorFlag := flag.String("actor", "", "External id of the administrator issuing the credit (required)")
	accountFlag := flag.String("account", "", "External id of the account to credit (required)")
	amountFlag := flag.Int64("amount", 0, "Number of credits to add (required)")
	descriptionFlag := flag.String("description", "", "Optional description stored on the transaction")
	flag.Parse()

	if *actorFlag == "" || *accountFlag == "" {
		fmt.Fprintln(os.Stderr, "Usage: credit --actor <admin id> --account <account id> --amount <n> [--description <text>]")
		os.Exit(2)
	}
	if err := validateAmount(*amountFlag); err != nil {
		logger.Fatal("Invalid amount", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	core, err := common.InitializeCore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer core.Close()

	svc := admin.NewService(core.DbService, core.Ledger, cfg.Billing.AdminIds)
	txn, err := svc.CreditAccount(ctx, *actorFlag, *accountFlag, *amountFlag, *descriptionFlag)
	if err != nil {
		logger.Fatal("Credit failed",
			zap.String("account", *accountFlag),
			zap.Int64("amount", *amountFlag),
			zap.Error(err))
	}

	report := common.NewReport(os.Stdout, common.DefaultWidth)
	report.Header("CREDIT APPLIED")
	report.Field("Account", *accountFlag)
	report.Field("Amount", fmt.Sprintf("%+d", txn.Amount))
	report.Field("New balance", txn.BalanceAfter)
	report.Field("Transaction", txn.Id)
	report.Footer("Done")
}
