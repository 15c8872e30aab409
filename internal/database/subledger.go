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
	"database/sql"
)

// SubledgerService handles credit ledger operations
type SubledgerService struct {
	db *sql.DB
}

func NewSubledgerService(db *sql.DB) *SubledgerService {
	return &SubledgerService{
		db: db,
	}
}

func (s *SubledgerService) InitSchema() error {
	schema := `
	-- Accounts Table (Identity)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		language_code TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Account Balances Table (Current State - Hot Data)
	CREATE TABLE IF NOT EXISTS account_balances (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		last_transaction_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);

	-- Transactions Table (Audit Trail - Cold Data)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL CHECK (amount != 0),
		reason TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		created_at TIMESTAMP NOT NULL
	);

	-- Pending Charges Table (usage debits awaiting settle or refund)
	CREATE TABLE IF NOT EXISTS pending_charges (
		transaction_id TEXT PRIMARY KEY REFERENCES transactions(id),
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL CHECK (amount > 0),
		created_at TIMESTAMP NOT NULL
	);

	-- Performance Indexes for Transactions
	CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reason ON transactions(reason);

	-- Performance Indexes for Pending Charges
	CREATE INDEX IF NOT EXISTS idx_pending_charges_created_at ON pending_charges(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
