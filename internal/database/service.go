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

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.AssistantStore.
var _ store.AssistantStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	subledger *SubledgerService
}

// dsn builds the connection string. Write transactions start with
// BEGIN IMMEDIATE so concurrent read-modify-write cycles on a balance
// serialize on the database lock instead of failing at commit.
func dsn(cfg models.DatabaseConfig) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service, err := NewServiceFromDB(db)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			zap.L().Warn("Failed to close database after schema failure", zap.Error(closeErr))
		}
		return nil, err
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceFromDB wraps an already-open handle and ensures the schema exists.
func NewServiceFromDB(db *sql.DB) (*Service, error) {
	subledger := NewSubledgerService(db)
	service := &Service{db: db, subledger: subledger}

	// Subledger first: the conversation tables reference accounts
	if err := subledger.InitSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize subledger schema: %w", err)
	}
	if err := service.initSchema(); err != nil {
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *Service) initSchema() error {
	schema := `
	-- Conversation turns, ordered by id for recency
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		user_message TEXT NOT NULL,
		assistant_response TEXT NOT NULL,
		model_used TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0 CHECK (tokens_used >= 0),
		role_used TEXT NOT NULL DEFAULT '',
		estimated_cost TEXT NOT NULL DEFAULT '0',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_account_id ON conversation_turns(account_id, id);

	-- Per-account role prompt, materialized lazily from the configured default
	CREATE TABLE IF NOT EXISTS role_prompts (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		role_name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Learning analytics extracted from assistant replies
	CREATE TABLE IF NOT EXISTS correction_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		original_text TEXT NOT NULL,
		corrected_text TEXT NOT NULL,
		correction_type TEXT NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 0,
		detected_language TEXT,
		errors_grammar INTEGER NOT NULL DEFAULT 0,
		errors_spelling INTEGER NOT NULL DEFAULT 0,
		errors_vocabulary INTEGER NOT NULL DEFAULT 0,
		errors_style INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_account_id ON correction_history(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Subledger convenience methods

func (s *Service) ApplyTransaction(ctx context.Context, params store.ApplyTransactionParams) (*models.Transaction, error) {
	return s.subledger.ApplyTransaction(ctx, params)
}

func (s *Service) CountTransactions(ctx context.Context, accountId string) (int, error) {
	return s.subledger.CountTransactions(ctx, accountId)
}

func (s *Service) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.Transaction, error) {
	return s.subledger.GetTransactionHistory(ctx, accountId, limit, offset)
}

func (s *Service) ReconcileBalance(ctx context.Context, accountId string) error {
	return s.subledger.ReconcileBalance(ctx, accountId)
}

func (s *Service) GetPendingCharge(ctx context.Context, transactionId string) (*models.PendingCharge, error) {
	return s.subledger.GetPendingCharge(ctx, transactionId)
}

func (s *Service) ReleasePendingCharge(ctx context.Context, transactionId string) error {
	return s.subledger.ReleasePendingCharge(ctx, transactionId)
}

func (s *Service) ListStalePendingCharges(ctx context.Context, olderThan time.Time) ([]models.PendingCharge, error) {
	return s.subledger.ListStalePendingCharges(ctx, olderThan)
}
