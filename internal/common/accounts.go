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

package common

import (
	"context"
	"fmt"

	"metered-assistant-go/internal/models"

	"go.uber.org/zap"
)

type AccountLister interface {
	GetAccountByExternalId(ctx context.Context, externalId string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// AccountInfo represents simplified account information for command-line utilities
type AccountInfo struct {
	Id          string
	ExternalId  string
	DisplayName string
	Balance     int64
}

// InitializeAccounts retrieves accounts based on an optional external id filter.
// If externalFilter is provided, returns that single account.
// If externalFilter is empty, returns all accounts.
func InitializeAccounts(ctx context.Context, lister AccountLister, externalFilter string, logger *zap.Logger) ([]AccountInfo, error) {
	var accounts []AccountInfo

	if externalFilter != "" {
		logger.Info("Looking up account", zap.String("external_id", externalFilter))
		account, err := lister.GetAccountByExternalId(ctx, externalFilter)
		if err != nil {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		accounts = append(accounts, toAccountInfo(*account))
	} else {
		all, err := lister.ListAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		for _, a := range all {
			accounts = append(accounts, toAccountInfo(a))
		}
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

func toAccountInfo(a models.Account) AccountInfo {
	return AccountInfo{
		Id:          a.Id,
		ExternalId:  a.ExternalId,
		DisplayName: a.DisplayName(),
		Balance:     a.Balance,
	}
}
