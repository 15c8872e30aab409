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

const (
	// Account queries
	queryUpsertAccount = `
		INSERT INTO accounts (id, external_id, username, first_name, last_name, language_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			language_code = excluded.language_code,
			updated_at = excluded.updated_at`

	queryInsertAccountBalance = `
		INSERT OR IGNORE INTO account_balances (account_id, balance, version, updated_at)
		SELECT id, 0, 1, ? FROM accounts WHERE external_id = ?`

	queryAccountColumns = `
		SELECT a.id, a.external_id, a.username, a.first_name, a.last_name, a.language_code,
		       b.balance, b.version, a.created_at, a.updated_at
		FROM accounts a
		JOIN account_balances b ON b.account_id = a.id`

	queryGetAccountByExternalId = queryAccountColumns + `
		WHERE a.external_id = ?`

	queryGetAccountById = queryAccountColumns + `
		WHERE a.id = ?`

	queryListAccounts = queryAccountColumns + `
		ORDER BY a.created_at, a.id`

	// Balance queries
	queryGetAccountBalance = `
		SELECT balance, version
		FROM account_balances
		WHERE account_id = ?`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = ?
		WHERE account_id = ? AND version = ?`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0) AS calculated_balance
		FROM transactions
		WHERE account_id = ?`

	// Transaction queries
	queryCountTransactions = `
		SELECT COUNT(*) FROM transactions WHERE account_id = ?`

	queryInsertTransaction = `
		INSERT INTO transactions (id, account_id, amount, reason, description, balance_before, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, account_id, amount, reason, description, balance_after, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Pending charge queries
	queryInsertPendingCharge = `
		INSERT INTO pending_charges (transaction_id, account_id, amount, created_at)
		VALUES (?, ?, ?, ?)`

	queryGetPendingCharge = `
		SELECT transaction_id, account_id, amount, created_at
		FROM pending_charges
		WHERE transaction_id = ?`

	queryDeletePendingCharge = `
		DELETE FROM pending_charges WHERE transaction_id = ?`

	queryListStalePendingCharges = `
		SELECT transaction_id, account_id, amount, created_at
		FROM pending_charges
		WHERE created_at < ?
		ORDER BY created_at`

	// Conversation queries
	queryInsertTurn = `
		INSERT INTO conversation_turns (account_id, user_message, assistant_response, model_used, tokens_used, role_used, estimated_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetRecentTurns = `
		SELECT id, account_id, user_message, assistant_response, model_used, tokens_used, role_used, estimated_cost, created_at
		FROM conversation_turns
		WHERE account_id = ?
		ORDER BY id DESC
		LIMIT ?`

	// Role queries
	queryInsertRoleIfMissing = `
		INSERT OR IGNORE INTO role_prompts (account_id, role_name, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	queryUpsertRole = `
		INSERT INTO role_prompts (account_id, role_name, prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			role_name = excluded.role_name,
			prompt = excluded.prompt,
			updated_at = excluded.updated_at`

	queryGetRole = `
		SELECT account_id, role_name, prompt, created_at, updated_at
		FROM role_prompts
		WHERE account_id = ?`

	// Correction analytics queries
	queryInsertCorrection = `
		INSERT INTO correction_history (
			account_id, original_text, corrected_text, correction_type, error_count, detected_language,
			errors_grammar, errors_spelling, errors_vocabulary, errors_style, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetProgress = `
		SELECT
			COALESCE(SUM(CASE WHEN correction_type = 'correction' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN correction_type = 'translation' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(error_count), 0),
			COALESCE(SUM(errors_grammar), 0),
			COALESCE(SUM(errors_spelling), 0),
			COALESCE(SUM(errors_vocabulary), 0),
			COALESCE(SUM(errors_style), 0)
		FROM correction_history
		WHERE account_id = ?`
)
