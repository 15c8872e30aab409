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

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction reasons recorded in the ledger
const (
	ReasonWelcomeBonus = "welcome_bonus"
	ReasonUsageDebit   = "usage_debit"
	ReasonAdminCredit  = "admin_credit"
	ReasonRefund       = "refund"
)

// Correction types recorded by the learning analytics
const (
	CorrectionTypeCorrection  = "correction"
	CorrectionTypeTranslation = "translation"
)

// Profile is the display metadata supplied by the transport with every message
type Profile struct {
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Account represents a metered end user (hot data)
type Account struct {
	Id         string    `db:"id"`
	ExternalId string    `db:"external_id"`
	Profile              // display metadata, refreshed on every interaction
	Balance    int64     `db:"balance"`
	Version    int64     `db:"version"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// DisplayName returns the best human-readable name for the account
func (a *Account) DisplayName() string {
	if a.Username != "" {
		return a.Username
	}
	full := strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
	if full != "" {
		return full
	}
	return fmt.Sprintf("User%s", a.ExternalId)
}

// Transaction represents an immutable ledger entry (cold data)
type Transaction struct {
	Id           string    `db:"id"`
	AccountId    string    `db:"account_id"`
	Amount       int64     `db:"amount"`
	Reason       string    `db:"reason"`
	Description  string    `db:"description"`
	BalanceAfter int64     `db:"balance_after"`
	CreatedAt    time.Time `db:"created_at"`
}

// PendingCharge marks a usage debit whose outcome is not yet known
type PendingCharge struct {
	TransactionId string    `db:"transaction_id"`
	AccountId     string    `db:"account_id"`
	Amount        int64     `db:"amount"`
	CreatedAt     time.Time `db:"created_at"`
}

// ConversationTurn is one persisted user/assistant exchange
type ConversationTurn struct {
	Id                int64           `db:"id"`
	AccountId         string          `db:"account_id"`
	UserMessage       string          `db:"user_message"`
	AssistantResponse string          `db:"assistant_response"`
	ModelUsed         string          `db:"model_used"`
	TokensUsed        int             `db:"tokens_used"`
	RoleUsed          string          `db:"role_used"`
	EstimatedCost     decimal.Decimal `db:"estimated_cost"`
	CreatedAt         time.Time       `db:"created_at"`
}

// RolePrompt is the per-account system instruction
type RolePrompt struct {
	AccountId string    `db:"account_id"`
	RoleName  string    `db:"role_name"`
	Prompt    string    `db:"prompt"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CorrectionRecord stores the analytics extracted from one assistant reply
type CorrectionRecord struct {
	Id               int64     `db:"id"`
	AccountId        string    `db:"account_id"`
	OriginalText     string    `db:"original_text"`
	CorrectedText    string    `db:"corrected_text"`
	CorrectionType   string    `db:"correction_type"`
	ErrorCount       int       `db:"error_count"`
	DetectedLanguage string    `db:"detected_language"`
	ErrorsGrammar    int       `db:"errors_grammar"`
	ErrorsSpelling   int       `db:"errors_spelling"`
	ErrorsVocabulary int       `db:"errors_vocabulary"`
	ErrorsStyle      int       `db:"errors_style"`
	CreatedAt        time.Time `db:"created_at"`
}

// Progress aggregates an account's correction history
type Progress struct {
	TotalCorrections  int `json:"total_corrections"`
	TotalTranslations int `json:"total_translations"`
	TotalErrors       int `json:"total_errors"`
	GrammarErrors     int `json:"grammar_errors"`
	SpellingErrors    int `json:"spelling_errors"`
	VocabularyErrors  int `json:"vocabulary_errors"`
	StyleErrors       int `json:"style_errors"`
}
