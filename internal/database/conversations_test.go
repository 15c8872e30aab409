package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestGetOrCreateAccount_RefreshesProfile(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	first, err := service.GetOrCreateAccount(ctx, "42", models.Profile{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if first.Balance != 0 {
		t.Errorf("Expected new account with balance 0, got %d", first.Balance)
	}

	second, err := service.GetOrCreateAccount(ctx, "42", models.Profile{Username: "ada"})
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if second.Id != first.Id {
		t.Errorf("Expected the same account id, got %s and %s", first.Id, second.Id)
	}
	if second.DisplayName() != "ada" {
		t.Errorf("Expected refreshed username, got %q", second.DisplayName())
	}

	accounts, err := service.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected 1 account, got %d", len(accounts))
	}

	if _, err := service.GetAccountByExternalId(ctx, "nobody"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetRecentTurns_NewestFirst(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	for i := 1; i <= 3; i++ {
		_, err := service.SaveTurn(ctx, store.SaveTurnParams{Turn: models.ConversationTurn{
			AccountId:         account.Id,
			UserMessage:       fmt.Sprintf("q%d", i),
			AssistantResponse: fmt.Sprintf("a%d", i),
			ModelUsed:         "gpt-4o-mini",
			TokensUsed:        10 * i,
			RoleUsed:          "teacher",
			EstimatedCost:     decimal.RequireFromString("0.000123"),
		}})
		if err != nil {
			t.Fatalf("SaveTurn failed: %v", err)
		}
	}

	turns, err := service.GetRecentTurns(ctx, account.Id, 2)
	if err != nil {
		t.Fatalf("GetRecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].UserMessage != "q3" || turns[1].UserMessage != "q2" {
		t.Errorf("Expected q3, q2 got %s, %s", turns[0].UserMessage, turns[1].UserMessage)
	}
	if !turns[0].EstimatedCost.Equal(decimal.RequireFromString("0.000123")) {
		t.Errorf("Expected cost to round-trip, got %s", turns[0].EstimatedCost)
	}

	none, err := service.GetRecentTurns(ctx, account.Id, 0)
	if err != nil {
		t.Fatalf("GetRecentTurns failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no turns for limit 0, got %d", len(none))
	}
}

func TestSaveTurn_SettlesHold(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")
	if _, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: 1, Reason: models.ReasonAdminCredit}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	debit, err := service.ApplyTransaction(ctx, store.ApplyTransactionParams{AccountId: account.Id, Amount: -1, Reason: models.ReasonUsageDebit, RecordHold: true})
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	turn, err := service.SaveTurn(ctx, store.SaveTurnParams{
		Turn: models.ConversationTurn{
			AccountId:         account.Id,
			UserMessage:       "I are student",
			AssistantResponse: "I am a student",
			ModelUsed:         "gpt-4o-mini",
			TokensUsed:        42,
		},
		SettleHold: debit.Id,
	})
	if err != nil {
		t.Fatalf("SaveTurn failed: %v", err)
	}
	if turn.Id == 0 || turn.TokensUsed != 42 {
		t.Errorf("Unexpected saved turn: %+v", turn)
	}

	if _, err := service.GetPendingCharge(ctx, debit.Id); !errors.Is(err, store.ErrHoldNotFound) {
		t.Errorf("Expected hold settled, got %v", err)
	}

	// A hold that was already resolved must not be settled twice
	if _, err := service.SaveTurn(ctx, store.SaveTurnParams{
		Turn:       models.ConversationTurn{AccountId: account.Id, UserMessage: "x", AssistantResponse: "y", ModelUsed: "m"},
		SettleHold: debit.Id,
	}); !errors.Is(err, store.ErrHoldNotFound) {
		t.Errorf("Expected ErrHoldNotFound for a resolved hold, got %v", err)
	}
	turns, err := service.GetRecentTurns(ctx, account.Id, 10)
	if err != nil {
		t.Fatalf("GetRecentTurns failed: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("Expected only the settled turn to be saved, got %d", len(turns))
	}
}

func TestSaveTurn_RejectsNegativeTokens(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	account := createAccount(t, service, "1")
	_, err := service.SaveTurn(context.Background(), store.SaveTurnParams{Turn: models.ConversationTurn{
		AccountId: account.Id, UserMessage: "x", AssistantResponse: "y", ModelUsed: "m", TokensUsed: -1,
	}})
	if err == nil {
		t.Fatal("Expected error for negative tokens")
	}
}

func TestRolePrompt_MaterializedOnceThenUpdated(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	missing, err := service.GetRolePrompt(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetRolePrompt failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("Expected no role before first access, got %+v", missing)
	}

	def := models.RolePrompt{RoleName: "teacher", Prompt: "be kind"}
	role, err := service.GetOrCreateRolePrompt(ctx, account.Id, def)
	if err != nil {
		t.Fatalf("GetOrCreateRolePrompt failed: %v", err)
	}
	if role.RoleName != "teacher" || role.Prompt != "be kind" {
		t.Errorf("Unexpected default role: %+v", role)
	}

	if _, err := service.UpsertRolePrompt(ctx, models.RolePrompt{AccountId: account.Id, RoleName: "editor", Prompt: "be strict"}); err != nil {
		t.Fatalf("UpsertRolePrompt failed: %v", err)
	}

	// A changed default does not overwrite the stored role
	role, err = service.GetOrCreateRolePrompt(ctx, account.Id, models.RolePrompt{RoleName: "other", Prompt: "other"})
	if err != nil {
		t.Fatalf("GetOrCreateRolePrompt failed: %v", err)
	}
	if role.RoleName != "editor" || role.Prompt != "be strict" {
		t.Errorf("Expected stored role to win, got %+v", role)
	}
}

func TestGetProgress(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	account := createAccount(t, service, "1")

	empty, err := service.GetProgress(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if *empty != (models.Progress{}) {
		t.Errorf("Expected zero progress, got %+v", empty)
	}

	records := []models.CorrectionRecord{
		{AccountId: account.Id, OriginalText: "I are", CorrectedText: "I am", CorrectionType: models.CorrectionTypeCorrection, ErrorCount: 2, ErrorsGrammar: 2, DetectedLanguage: "en"},
		{AccountId: account.Id, OriginalText: "Привет", CorrectedText: "Hello", CorrectionType: models.CorrectionTypeTranslation, DetectedLanguage: "ru"},
		{AccountId: account.Id, OriginalText: "teh", CorrectedText: "the", CorrectionType: models.CorrectionTypeCorrection, ErrorCount: 1, ErrorsSpelling: 1, ErrorsStyle: 1},
	}
	for _, r := range records {
		if err := service.SaveCorrection(ctx, r); err != nil {
			t.Fatalf("SaveCorrection failed: %v", err)
		}
	}

	progress, err := service.GetProgress(ctx, account.Id)
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	want := models.Progress{
		TotalCorrections:  2,
		TotalTranslations: 1,
		TotalErrors:       3,
		GrammarErrors:     2,
		SpellingErrors:    1,
		StyleErrors:       1,
	}
	if *progress != want {
		t.Errorf("Expected %+v, got %+v", want, *progress)
	}
}
