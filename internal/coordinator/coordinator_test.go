package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"metered-assistant-go/internal/completion"
	"metered-assistant-go/internal/config"
	"metered-assistant-go/internal/conversation"
	"metered-assistant-go/internal/database"
	"metered-assistant-go/internal/ledger"
	"metered-assistant-go/internal/llm"
	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/reconciler"
	"metered-assistant-go/internal/store"
	"metered-assistant-go/internal/tokens"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req completion.Request) (*completion.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*completion.Result)
	return result, args.Error(1)
}

// failingTurns makes SaveTurn fail while keeping the rest of the store real.
type failingTurns struct {
	*database.Service
}

func (f failingTurns) SaveTurn(context.Context, store.SaveTurnParams) (*models.ConversationTurn, error) {
	return nil, errors.New("disk full")
}

type harness struct {
	db          *database.Service
	ledger      *ledger.Service
	completer   *mockCompleter
	coordinator *Coordinator
}

type option func(*Config, *Dependencies)

func newHarness(t *testing.T, bonus int64, opts ...option) *harness {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "assistant.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
		BusyTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ledgerSvc := ledger.NewService(db, ledger.Config{WelcomeBonus: bonus})
	completer := &mockCompleter{}

	cfg := Config{
		ProjectName: "English Teacher Assistant",
		AI: models.AIConfig{
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			TopP:              1,
			MaxResponseTokens: 800,
			ContextMessages:   3,
			HardInputLimit:    8000,
			MetaInstructions:  config.DefaultMetaInstructions,
		},
		UsageCost:   1,
		DefaultRole: models.RolePrompt{RoleName: "teacher", Prompt: config.DefaultRolePrompt},
		Responses:   config.DefaultResponses(),
		RenderMode:  config.RenderMarkdown,
	}
	deps := Dependencies{
		Accounts:      db,
		Conversations: db,
		Ledger:        ledgerSvc,
		Context:       conversation.NewAssembler(db),
		Budgeter:      tokens.NewBudgeter(100, 50),
		Completer:     completer,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	return &harness{db: db, ledger: ledgerSvc, completer: completer, coordinator: New(cfg, deps)}
}

func (h *harness) balance(t *testing.T, externalId string) int64 {
	t.Helper()
	account, err := h.db.GetAccountByExternalId(context.Background(), externalId)
	require.NoError(t, err)
	return account.Balance
}

func inbound(text string) Inbound {
	return Inbound{ExternalId: "1001", Profile: models.Profile{Username: "ada"}, Text: text}
}

func TestHandle_FullScenario(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	h.completer.On("Complete", mock.Anything, mock.MatchedBy(func(req completion.Request) bool {
		return req.UserMessage == "I are student" && req.SystemPrompt == config.DefaultRolePrompt &&
			req.MaxOutputTokens == 800 && len(req.Context) == 0
	})).Return(&completion.Result{
		Text: "| I are | Grammar error | ... | I am |\nI am a student.", Model: "gpt-4o-mini",
		TotalTokens: 42, InputTokens: 30, OutputTokens: 12, Calls: 1,
	}, nil).Once()

	reply, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "I am a student.")
	assert.Equal(t, config.RenderMarkdown, reply.Render)
	assert.Equal(t, int64(99), h.balance(t, "1001"))

	account, err := h.db.GetAccountByExternalId(ctx, "1001")
	require.NoError(t, err)

	turns, err := h.db.GetRecentTurns(ctx, account.Id, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 42, turns[0].TokensUsed)
	assert.Equal(t, "teacher", turns[0].RoleUsed)
	assert.True(t, turns[0].EstimatedCost.IsPositive())

	// The hold was settled with the turn
	stale, err := h.db.ListStalePendingCharges(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	progress, err := h.db.GetProgress(ctx, account.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.TotalCorrections)

	_, err = h.ledger.Credit(ctx, account.Id, 5, models.ReasonAdminCredit, "top up")
	require.NoError(t, err)
	assert.Equal(t, int64(104), h.balance(t, "1001"))
	assert.NoError(t, h.ledger.Reconcile(ctx, account.Id))
	h.completer.AssertExpectations(t)
}

func TestHandle_SecondTurnGetsContext(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	h.completer.On("Complete", mock.Anything, mock.MatchedBy(func(req completion.Request) bool {
		return len(req.Context) == 0
	})).Return(&completion.Result{Text: "first answer", TotalTokens: 10}, nil).Once()
	h.completer.On("Complete", mock.Anything, mock.MatchedBy(func(req completion.Request) bool {
		return len(req.Context) == 2 &&
			req.Context[0].Role == llm.RoleUser && req.Context[0].Content == "first question" &&
			req.Context[1].Role == llm.RoleAssistant && req.Context[1].Content == "first answer"
	})).Return(&completion.Result{Text: "second answer", TotalTokens: 10}, nil).Once()

	_, err := h.coordinator.Handle(ctx, inbound("first question"))
	require.NoError(t, err)
	_, err = h.coordinator.Handle(ctx, inbound("second question"))
	require.NoError(t, err)

	assert.Equal(t, int64(98), h.balance(t, "1001"))
	h.completer.AssertExpectations(t)
}

func TestHandle_ZeroBalanceNeverCallsProvider(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageIdle, failure.Stage)
	assert.Equal(t, userMessages[KindInsufficientFunds], UserMessage(err))

	account, err := h.db.GetAccountByExternalId(ctx, "1001")
	require.NoError(t, err)
	count, err := h.db.CountTransactions(ctx, account.Id)
	require.NoError(t, err)
	assert.Zero(t, count)
	h.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandle_ProviderFailureRefunds(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	h.completer.On("Complete", mock.Anything, mock.Anything).
		Return(nil, &completion.Error{Kind: completion.KindProviderUnavailable, UserMessage: "AI down", Err: errors.New("503")}).Once()

	_, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageDebited, failure.Stage)
	assert.Equal(t, KindProviderUnavailable, failure.Kind)
	assert.Equal(t, "AI down", UserMessage(err))

	assert.Equal(t, int64(100), h.balance(t, "1001"))

	account, _ := h.db.GetAccountByExternalId(ctx, "1001")
	history, err := h.ledger.History(ctx, account.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.ReasonRefund, history[0].Reason)
	assert.Equal(t, "refund: provider_unavailable", history[0].Description)
	assert.Equal(t, models.ReasonUsageDebit, history[1].Reason)

	turns, _ := h.db.GetRecentTurns(ctx, account.Id, 10)
	assert.Empty(t, turns)
}

func TestHandle_CallerCancelledStillRefunds(t *testing.T) {
	h := newHarness(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	h.completer.On("Complete", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	_, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.Error(t, err)
	assert.Equal(t, int64(100), h.balance(t, "1001"))
}

func TestHandle_BudgetRejectionRefundsWithoutProviderCall(t *testing.T) {
	h := newHarness(t, 100, func(cfg *Config, _ *Dependencies) {
		cfg.AI.HardInputLimit = 5
	})

	_, err := h.coordinator.Handle(context.Background(), inbound(strings.Repeat("I are student. ", 20)))
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindInputTooLong, failure.Kind)
	assert.ErrorIs(t, err, tokens.ErrInputTooLong)
	assert.Equal(t, userMessages[KindInputTooLong], UserMessage(err))

	assert.Equal(t, int64(100), h.balance(t, "1001"))
	h.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandle_PersistenceFailureKeepsCharge(t *testing.T) {
	h := newHarness(t, 100)
	h.coordinator.deps.Conversations = failingTurns{h.db}

	h.completer.On("Complete", mock.Anything, mock.Anything).
		Return(&completion.Result{Text: "I am a student.", TotalTokens: 42}, nil).Once()

	_, err := h.coordinator.Handle(context.Background(), inbound("I are student"))
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StageResponded, failure.Stage)
	assert.Equal(t, KindInternal, failure.Kind)

	assert.Equal(t, int64(99), h.balance(t, "1001"))

	stale, err := h.db.ListStalePendingCharges(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale, "hold must be settled, not left for the reconciler")
}

// sweepDuringCall runs the stale-hold reconciler while the provider call is
// still in flight, as happens when a request outlives HOLD_TIMEOUT.
func (h *harness) sweepDuringCall(t *testing.T) func(mock.Arguments) {
	return func(args mock.Arguments) {
		r := reconciler.NewHoldReconciler(reconciler.HoldReconcilerConfig{
			Holds:         h.db,
			Ledger:        h.ledger,
			HoldTimeout:   time.Minute,
			SweepInterval: time.Minute,
			Now:           func() time.Time { return time.Now().Add(time.Hour) },
		})
		refunded, err := r.Sweep(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, refunded)
	}
}

func TestHandle_HoldRefundedMidCallIsChargedLate(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	h.completer.On("Complete", mock.Anything, mock.Anything).
		Run(h.sweepDuringCall(t)).
		Return(&completion.Result{Text: "I am a student.", TotalTokens: 42}, nil).Once()

	reply, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.NoError(t, err)
	assert.Equal(t, "I am a student.", reply.Text)
	assert.Equal(t, int64(99), h.balance(t, "1001"), "a successful reply is charged exactly once")

	account, err := h.db.GetAccountByExternalId(ctx, "1001")
	require.NoError(t, err)
	history, err := h.ledger.History(ctx, account.Id, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.ReasonUsageDebit, history[0].Reason)
	assert.Equal(t, lateSettleDescription, history[0].Description)
	assert.Equal(t, models.ReasonRefund, history[1].Reason)

	turns, err := h.db.GetRecentTurns(ctx, account.Id, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	assert.NoError(t, h.ledger.Reconcile(ctx, account.Id))
}

func TestHandle_HoldRefundedMidCallWithoutFundsWithholdsReply(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	sweep := h.sweepDuringCall(t)
	h.completer.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sweep(args)
			// The refunded credit is spent elsewhere before this reply settles
			account, err := h.db.GetAccountByExternalId(ctx, "1001")
			require.NoError(t, err)
			ok, err := h.ledger.Debit(ctx, account.Id, 1, models.ReasonUsageDebit, "other request")
			require.NoError(t, err)
			require.True(t, ok)
		}).
		Return(&completion.Result{Text: "I am a student.", TotalTokens: 42}, nil).Once()

	_, err := h.coordinator.Handle(ctx, inbound("I are student"))
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindInsufficientFunds, failure.Kind)
	assert.Equal(t, StageResponded, failure.Stage)
	assert.Equal(t, int64(0), h.balance(t, "1001"))

	account, err := h.db.GetAccountByExternalId(ctx, "1001")
	require.NoError(t, err)
	turns, err := h.db.GetRecentTurns(ctx, account.Id, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHandle_PredefinedAndBlankAreFree(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	reply, err := h.coordinator.Handle(ctx, inbound("what can you do?"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "English Teacher Help")

	reply, err = h.coordinator.Handle(ctx, inbound("   "))
	require.NoError(t, err)
	assert.Equal(t, usageHint, reply.Text)

	_, err = h.db.GetAccountByExternalId(ctx, "1001")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
	h.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestDispatch_Commands(t *testing.T) {
	h := newHarness(t, 100)
	ctx := context.Background()

	reply, err := h.coordinator.Dispatch(ctx, inbound("/start"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Welcome to **English Teacher Assistant**, ada!")

	reply, err = h.coordinator.Dispatch(ctx, inbound("/balance"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "100 credits")

	reply, err = h.coordinator.Dispatch(ctx, inbound("/do"))
	require.NoError(t, err)
	assert.Equal(t, doUsage, reply.Text)

	reply, err = h.coordinator.Dispatch(ctx, inbound("/help@assistant"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "English Teacher Help")

	h.completer.On("Complete", mock.Anything, mock.MatchedBy(func(req completion.Request) bool {
		return req.UserMessage == "Привет, как дела?"
	})).Return(&completion.Result{Text: "Hello, how are you?", TotalTokens: 12}, nil).Once()

	reply, err = h.coordinator.Dispatch(ctx, inbound("/do Привет, как дела?"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, how are you?", reply.Text)

	reply, err = h.coordinator.Dispatch(ctx, inbound("/progress"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Translations: 1")

	assert.Equal(t, int64(99), h.balance(t, "1001"))
	h.completer.AssertExpectations(t)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, command, rest string
	}{
		{"/do  hello there ", "/do", "hello there"},
		{"/START@bot", "/start", ""},
		{"plain text", "", "plain text"},
	}
	for _, tt := range tests {
		command, rest := splitCommand(strings.TrimSpace(tt.in))
		assert.Equal(t, tt.command, command, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestUserMessage_Fallbacks(t *testing.T) {
	assert.Equal(t, userMessages[KindInternal], UserMessage(errors.New("boom")))
	assert.Equal(t, userMessages[KindInsufficientFunds], UserMessage(ErrInsufficientFunds))
}
