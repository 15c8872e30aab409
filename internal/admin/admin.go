// Package admin is the operator surface for topping up balances.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"metered-assistant-go/internal/models"

	"go.uber.org/zap"
)

var ErrNotAuthorized = errors.New("actor is not an administrator")

type Accounts interface {
	GetAccountByExternalId(ctx context.Context, externalId string) (*models.Account, error)
}

type Ledger interface {
	EnsureInitialized(ctx context.Context, accountId string) error
	Credit(ctx context.Context, accountId string, amount int64, reason, description string) (*models.Transaction, error)
}

type Service struct {
	accounts Accounts
	ledger   Ledger
	admins   map[string]struct{}
}

func NewService(accounts Accounts, ledger Ledger, adminIds []string) *Service {
	admins := make(map[string]struct{}, len(adminIds))
	for _, id := range adminIds {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Service{accounts: accounts, ledger: ledger, admins: admins}
}

func (s *Service) IsAdmin(externalId string) bool {
	_, ok := s.admins[externalId]
	return ok
}

// CreditAccount tops up an existing account on behalf of an allow-listed
// actor. The welcome bonus is granted first if the account never had one.
func (s *Service) CreditAccount(ctx context.Context, actorExternalId, targetExternalId string, amount int64, description string) (*models.Transaction, error) {
	if !s.IsAdmin(actorExternalId) {
		zap.L().Warn("Rejected admin credit from non-admin",
			zap.String("actor", actorExternalId),
			zap.String("target", targetExternalId))
		return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, actorExternalId)
	}

	account, err := s.accounts.GetAccountByExternalId(ctx, targetExternalId)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.EnsureInitialized(ctx, account.Id); err != nil {
		return nil, err
	}

	if description == "" {
		description = "credited by " + actorExternalId
	}
	txn, err := s.ledger.Credit(ctx, account.Id, amount, models.ReasonAdminCredit, description)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Admin credit applied",
		zap.String("actor", actorExternalId),
		zap.String("account_id", account.Id),
		zap.Int64("amount", amount),
		zap.Int64("balance", txn.BalanceAfter))
	return txn, nil
}
