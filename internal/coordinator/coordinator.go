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

// Package coordinator runs the metered request pipeline: debit, assemble,
// budget, complete, persist, and refund when anything before persistence
// fails.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"metered-assistant-go/internal/analysis"
	"metered-assistant-go/internal/completion"
	"metered-assistant-go/internal/config"
	"metered-assistant-go/internal/ledger"
	"metered-assistant-go/internal/llm"
	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"
	"metered-assistant-go/internal/tokens"

	"go.uber.org/zap"
)

const defaultRefundTimeout = 10 * time.Second

const lateSettleDescription = "late settle"

const usageHint = "Please send me some text. I will correct your English or translate it."

// Inbound is one message from the transport.
type Inbound struct {
	ExternalId string
	Profile    models.Profile
	Text       string
}

type Reply struct {
	Text   string
	Render string
}

type Accounts interface {
	GetOrCreateAccount(ctx context.Context, externalId string, profile models.Profile) (*models.Account, error)
}

type Conversations interface {
	GetOrCreateRolePrompt(ctx context.Context, accountId string, def models.RolePrompt) (*models.RolePrompt, error)
	SaveTurn(ctx context.Context, params store.SaveTurnParams) (*models.ConversationTurn, error)
	SaveCorrection(ctx context.Context, record models.CorrectionRecord) error
	GetProgress(ctx context.Context, accountId string) (*models.Progress, error)
}

type Ledger interface {
	EnsureInitialized(ctx context.Context, accountId string) error
	Reserve(ctx context.Context, accountId string, amount int64, description string) (*ledger.Hold, bool, error)
	Settle(ctx context.Context, hold ledger.Hold) error
	Debit(ctx context.Context, accountId string, amount int64, reason, description string) (bool, error)
	RefundHold(ctx context.Context, hold ledger.Hold, linkedReason string) (*models.Transaction, error)
	Balance(ctx context.Context, accountId string) (int64, error)
}

type ContextBuilder interface {
	BuildContext(ctx context.Context, accountId string, maxTurns int) ([]llm.Message, error)
}

type Budgeter interface {
	FitBudget(messages []llm.Message, model string, limit, desired int) (int, error)
}

type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

type Config struct {
	ProjectName   string
	AI            models.AIConfig
	UsageCost     int64
	DefaultRole   models.RolePrompt
	Responses     []config.PredefinedResponse
	RenderMode    string
	Catalog       *config.ModelCatalog
	RefundTimeout time.Duration
}

type Dependencies struct {
	Accounts      Accounts
	Conversations Conversations
	Ledger        Ledger
	Context       ContextBuilder
	Budgeter      Budgeter
	Completer     Completer
}

type Coordinator struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Coordinator {
	if cfg.UsageCost <= 0 {
		cfg.UsageCost = 1
	}
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = defaultRefundTimeout
	}
	if cfg.Catalog == nil {
		cfg.Catalog = config.DefaultModels()
	}
	if cfg.RenderMode == "" {
		cfg.RenderMode = config.RenderPlain
	}
	return &Coordinator{cfg: cfg, deps: deps}
}

// Handle answers one free-text message. The account is charged exactly once
// when a reply is produced and its turn persisted; every failure before that
// point refunds the charge.
func (c *Coordinator) Handle(ctx context.Context, in Inbound) (*Reply, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return &Reply{Text: usageHint, Render: config.RenderPlain}, nil
	}

	if predefined, ok := config.MatchResponse(text, c.cfg.Responses); ok {
		zap.L().Info("Sent predefined response",
			zap.String("external_id", in.ExternalId),
			zap.String("response", predefined.Name))
		return &Reply{Text: predefined.Text, Render: predefined.Render}, nil
	}

	account, role, err := c.prepareAccount(ctx, in)
	if err != nil {
		return nil, err
	}

	// Idle
	hold, ok, err := c.deps.Ledger.Reserve(ctx, account.Id, c.cfg.UsageCost, "ai request")
	if err != nil {
		return nil, fail(StageIdle, KindInternal, err)
	}
	if !ok {
		zap.L().Info("Request rejected for insufficient credits", zap.String("account_id", account.Id))
		return nil, fail(StageIdle, KindInsufficientFunds, ErrInsufficientFunds)
	}

	// Debited
	history, err := c.deps.Context.BuildContext(ctx, account.Id, c.cfg.AI.ContextMessages)
	if err != nil {
		c.refund(ctx, *hold, "context unavailable")
		return nil, fail(StageDebited, KindInternal, err)
	}

	model := c.cfg.AI.Model
	if rc := models.GetRequestContext(ctx); rc != nil {
		rc.Model = model
	}
	req := completion.Request{
		SystemPrompt:     role.Prompt,
		MetaInstructions: c.cfg.AI.MetaInstructions,
		Context:          history,
		UserMessage:      text,
		Model:            model,
		Temperature:      c.cfg.AI.Temperature,
		TopP:             c.cfg.AI.TopP,
		PresencePenalty:  c.cfg.AI.PresencePenalty,
		FrequencyPenalty: c.cfg.AI.FrequencyPenalty,
		EnableTools:      c.cfg.AI.AgentMode,
	}

	limit := c.cfg.Catalog.InputLimit(model, c.cfg.AI.HardInputLimit)
	maxOutput, err := c.deps.Budgeter.FitBudget(completion.BuildMessages(req), model, limit, c.cfg.AI.MaxResponseTokens)
	if err != nil {
		kind := KindInternal
		switch {
		case errors.Is(err, tokens.ErrInputTooLong):
			kind = KindInputTooLong
		case errors.Is(err, tokens.ErrNoRoomForResponse):
			kind = KindNoRoomForResponse
		}
		c.refund(ctx, *hold, string(kind))
		return nil, fail(StageDebited, kind, err)
	}
	req.MaxOutputTokens = maxOutput

	result, err := c.deps.Completer.Complete(ctx, req)
	if err != nil {
		failure := failCompletion(err)
		c.refund(ctx, *hold, string(failure.Kind))
		return nil, failure
	}

	// Responded
	turn := models.ConversationTurn{
		AccountId:         account.Id,
		UserMessage:       text,
		AssistantResponse: result.Text,
		ModelUsed:         model,
		TokensUsed:        result.TotalTokens,
		RoleUsed:          role.RoleName,
		EstimatedCost:     c.cfg.Catalog.EstimateCost(model, result.InputTokens, result.OutputTokens),
	}
	_, err = c.deps.Conversations.SaveTurn(ctx, store.SaveTurnParams{Turn: turn, SettleHold: hold.TransactionId})
	if errors.Is(err, store.ErrHoldNotFound) {
		// The reconciler refunded the hold while the call was running.
		if failure := c.chargeLate(ctx, *hold); failure != nil {
			return nil, failure
		}
		_, err = c.deps.Conversations.SaveTurn(ctx, store.SaveTurnParams{Turn: turn})
		if err != nil {
			zap.L().Error("Failed to persist conversation turn after late charge",
				zap.String("account_id", account.Id),
				zap.Error(err))
			return nil, fail(StageResponded, KindInternal, err)
		}
	}
	if err != nil {
		// The reply was generated, so the charge stands.
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefundTimeout)
		defer cancel()
		if settleErr := c.deps.Ledger.Settle(settleCtx, *hold); settleErr != nil {
			zap.L().Warn("Failed to settle hold after persistence failure",
				zap.String("transaction_id", hold.TransactionId),
				zap.Error(settleErr))
		}
		zap.L().Error("Failed to persist conversation turn",
			zap.String("account_id", account.Id),
			zap.Error(err))
		return nil, fail(StageResponded, KindInternal, err)
	}

	// Persisted
	if err := c.deps.Conversations.SaveCorrection(ctx, analysis.BuildCorrection(account.Id, text, result.Text)); err != nil {
		zap.L().Warn("Failed to save correction history",
			zap.String("account_id", account.Id),
			zap.Error(err))
	}

	zap.L().Info("AI response sent",
		zap.String("account_id", account.Id),
		zap.String("name", account.DisplayName()),
		zap.String("model", result.Model),
		zap.Int("tokens", result.TotalTokens),
		zap.String("stage", string(StageDone)))

	return &Reply{Text: result.Text, Render: c.cfg.RenderMode}, nil
}

// chargeLate debits the usage again for a reply whose hold was refunded
// before it could settle. With no funds left the reply is withheld.
func (c *Coordinator) chargeLate(ctx context.Context, hold ledger.Hold) *Failure {
	chargeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefundTimeout)
	defer cancel()

	charged, err := c.deps.Ledger.Debit(chargeCtx, hold.AccountId, hold.Amount, models.ReasonUsageDebit, lateSettleDescription)
	if err != nil {
		zap.L().Error("Late charge failed",
			zap.String("account_id", hold.AccountId),
			zap.String("transaction_id", hold.TransactionId),
			zap.Error(err))
		return fail(StageResponded, KindInternal, err)
	}
	if !charged {
		zap.L().Warn("Reply withheld: hold refunded and balance exhausted",
			zap.String("account_id", hold.AccountId),
			zap.String("transaction_id", hold.TransactionId))
		return fail(StageResponded, KindInsufficientFunds, ErrInsufficientFunds)
	}

	zap.L().Warn("Charged late for a refunded hold",
		zap.String("account_id", hold.AccountId),
		zap.String("transaction_id", hold.TransactionId))
	return nil
}

func (c *Coordinator) prepareAccount(ctx context.Context, in Inbound) (*models.Account, *models.RolePrompt, error) {
	account, err := c.deps.Accounts.GetOrCreateAccount(ctx, in.ExternalId, in.Profile)
	if err != nil {
		return nil, nil, fail(StageIdle, KindInternal, err)
	}
	if err := c.deps.Ledger.EnsureInitialized(ctx, account.Id); err != nil {
		return nil, nil, fail(StageIdle, KindInternal, err)
	}
	role, err := c.deps.Conversations.GetOrCreateRolePrompt(ctx, account.Id, c.cfg.DefaultRole)
	if err != nil {
		return nil, nil, fail(StageIdle, KindInternal, err)
	}
	return account, role, nil
}

// refund runs detached from the caller so a dropped connection still
// resolves the hold. On failure the hold is left for the reconciler.
func (c *Coordinator) refund(ctx context.Context, hold ledger.Hold, reason string) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefundTimeout)
	defer cancel()

	_, err := c.deps.Ledger.RefundHold(refundCtx, hold, reason)
	switch {
	case err == nil:
		zap.L().Info("Usage charge refunded",
			zap.String("account_id", hold.AccountId),
			zap.String("transaction_id", hold.TransactionId),
			zap.String("reason", reason))
	case errors.Is(err, ledger.ErrHoldReleased):
		zap.L().Warn("Hold already released before refund",
			zap.String("transaction_id", hold.TransactionId))
	default:
		zap.L().Error("Refund failed, hold left for reconciler",
			zap.String("account_id", hold.AccountId),
			zap.String("transaction_id", hold.TransactionId),
			zap.Error(err))
	}
}
