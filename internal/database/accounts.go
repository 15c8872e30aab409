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
	"errors"
	"fmt"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, account *models.Account) error {
	return row.Scan(&account.Id, &account.ExternalId, &account.Username, &account.FirstName,
		&account.LastName, &account.LanguageCode, &account.Balance, &account.Version,
		&account.CreatedAt, &account.UpdatedAt)
}

// GetOrCreateAccount creates the account with a zero balance on first contact
// and refreshes its display metadata on every later one.
func (s *Service) GetOrCreateAccount(ctx context.Context, externalId string, profile models.Profile) (*models.Account, error) {
	if externalId == "" {
		return nil, fmt.Errorf("external id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, queryUpsertAccount, uuid.New().String(), externalId,
		profile.Username, profile.FirstName, profile.LastName, profile.LanguageCode, now, now)
	if err != nil {
		zap.L().Error("Failed to upsert account", zap.String("external_id", externalId), zap.Error(err))
		return nil, fmt.Errorf("unable to upsert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryInsertAccountBalance, now, externalId); err != nil {
		return nil, fmt.Errorf("unable to create account balance: %w", err)
	}

	var account models.Account
	if err := scanAccount(tx.QueryRowContext(ctx, queryGetAccountByExternalId, externalId), &account); err != nil {
		return nil, fmt.Errorf("unable to read account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Debug("Resolved account",
		zap.String("account_id", account.Id),
		zap.String("external_id", externalId),
		zap.String("name", account.DisplayName()))
	return &account, nil
}

func (s *Service) GetAccountById(ctx context.Context, accountId string) (*models.Account, error) {
	zap.L().Debug("Querying account by ID", zap.String("account_id", accountId))

	var account models.Account
	err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccountById, accountId), &account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
		}
		zap.L().Error("Failed to query account by ID", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by ID: %w", err)
	}
	return &account, nil
}

func (s *Service) GetAccountByExternalId(ctx context.Context, externalId string) (*models.Account, error) {
	zap.L().Debug("Querying account by external ID", zap.String("external_id", externalId))

	var account models.Account
	err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccountByExternalId, externalId), &account)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, externalId)
		}
		zap.L().Error("Failed to query account by external ID", zap.String("external_id", externalId), zap.Error(err))
		return nil, fmt.Errorf("unable to query account by external ID: %w", err)
	}
	return &account, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccounts)
	if err != nil {
		zap.L().Error("Failed to query accounts", zap.Error(err))
		return nil, fmt.Errorf("unable to query accounts: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := scanAccount(rows, &account); err != nil {
			zap.L().Error("Failed to scan account row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during account row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	zap.L().Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}
