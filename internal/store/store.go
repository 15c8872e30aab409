package store

import (
	"context"
	"errors"
	"time"

	"metered-assistant-go/internal/models"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAlreadyInitialized     = errors.New("account already initialized")
	ErrHoldNotFound           = errors.New("pending charge not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// ApplyTransactionParams describes one balance change and its ledger row.
// Amount is signed: positive for credits, negative for debits.
type ApplyTransactionParams struct {
	AccountId   string
	Amount      int64
	Reason      string
	Description string

	// OnlyIfUninitialized rejects the change with ErrAlreadyInitialized when
	// the account already has ledger rows.
	OnlyIfUninitialized bool

	// RecordHold writes a PendingCharge for the new transaction in the same
	// unit of work. Only valid for debits.
	RecordHold bool

	// ReleaseHold deletes the named PendingCharge in the same unit of work and
	// fails with ErrHoldNotFound when it is already gone.
	ReleaseHold string
}

// SaveTurnParams persists a conversation turn, optionally settling the hold
// for the debit that paid for it.
type SaveTurnParams struct {
	Turn       models.ConversationTurn
	SettleHold string
}

// AccountStore covers account identity and display metadata.
type AccountStore interface {
	GetOrCreateAccount(ctx context.Context, externalId string, profile models.Profile) (*models.Account, error)
	GetAccountById(ctx context.Context, accountId string) (*models.Account, error)
	GetAccountByExternalId(ctx context.Context, externalId string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
}

// LedgerStore is the persistence contract of the credit ledger.
type LedgerStore interface {
	// ApplyTransaction updates the balance and appends the transaction row
	// atomically. Debits that would make the balance negative fail with
	// ErrInsufficientFunds and mutate nothing.
	ApplyTransaction(ctx context.Context, params ApplyTransactionParams) (*models.Transaction, error)
	CountTransactions(ctx context.Context, accountId string) (int, error)
	GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.Transaction, error)
	ReconcileBalance(ctx context.Context, accountId string) error

	GetPendingCharge(ctx context.Context, transactionId string) (*models.PendingCharge, error)
	ReleasePendingCharge(ctx context.Context, transactionId string) error
	ListStalePendingCharges(ctx context.Context, olderThan time.Time) ([]models.PendingCharge, error)
}

// ConversationStore covers turns, role prompts and learning analytics.
type ConversationStore interface {
	SaveTurn(ctx context.Context, params SaveTurnParams) (*models.ConversationTurn, error)
	GetRecentTurns(ctx context.Context, accountId string, limit int) ([]models.ConversationTurn, error)

	GetRolePrompt(ctx context.Context, accountId string) (*models.RolePrompt, error)
	UpsertRolePrompt(ctx context.Context, role models.RolePrompt) (*models.RolePrompt, error)
	// GetOrCreateRolePrompt stores def for the account on first access.
	GetOrCreateRolePrompt(ctx context.Context, accountId string, def models.RolePrompt) (*models.RolePrompt, error)

	SaveCorrection(ctx context.Context, record models.CorrectionRecord) error
	GetProgress(ctx context.Context, accountId string) (*models.Progress, error)
}

// AssistantStore is the full persistence boundary used by the service.
type AssistantStore interface {
	AccountStore
	LedgerStore
	ConversationStore

	Ping(ctx context.Context) error
	Close()
}
