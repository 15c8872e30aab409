package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"metered-assistant-go/internal/models"
	"metered-assistant-go/internal/store"

	"go.uber.org/zap"
)

// SaveTurn persists a conversation turn and, when asked, settles the pending
// charge that paid for it in the same unit of work. If that charge was
// already refunded it fails with store.ErrHoldNotFound and saves nothing.
func (s *Service) SaveTurn(ctx context.Context, params store.SaveTurnParams) (*models.ConversationTurn, error) {
	turn := params.Turn
	if turn.TokensUsed < 0 {
		return nil, fmt.Errorf("tokens used cannot be negative, got %d", turn.TokensUsed)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if params.SettleHold != "" {
		if err := deletePendingCharge(ctx, tx, params.SettleHold); err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx, queryInsertTurn,
		turn.AccountId, turn.UserMessage, turn.AssistantResponse, turn.ModelUsed,
		turn.TokensUsed, turn.RoleUsed, turn.EstimatedCost, turn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation turn: %w", err)
	}
	turn.Id, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read turn id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Debug("Conversation turn saved",
		zap.Int64("turn_id", turn.Id),
		zap.String("account_id", turn.AccountId),
		zap.Int("tokens", turn.TokensUsed))
	return &turn, nil
}

// GetRecentTurns returns up to limit turns, newest first
func (s *Service) GetRecentTurns(ctx context.Context, accountId string, limit int) ([]models.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, queryGetRecentTurns, accountId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent turns: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		err := rows.Scan(&t.Id, &t.AccountId, &t.UserMessage, &t.AssistantResponse,
			&t.ModelUsed, &t.TokensUsed, &t.RoleUsed, &t.EstimatedCost, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return turns, nil
}

func (s *Service) GetRolePrompt(ctx context.Context, accountId string) (*models.RolePrompt, error) {
	var role models.RolePrompt
	err := s.db.QueryRowContext(ctx, queryGetRole, accountId).Scan(
		&role.AccountId, &role.RoleName, &role.Prompt, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role prompt: %w", err)
	}
	return &role, nil
}

func (s *Service) UpsertRolePrompt(ctx context.Context, role models.RolePrompt) (*models.RolePrompt, error) {
	if role.RoleName == "" || role.Prompt == "" {
		return nil, fmt.Errorf("role name and prompt are required")
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, queryUpsertRole, role.AccountId, role.RoleName, role.Prompt, now, now); err != nil {
		return nil, fmt.Errorf("failed to upsert role prompt: %w", err)
	}

	zap.L().Info("Role prompt updated",
		zap.String("account_id", role.AccountId),
		zap.String("role_name", role.RoleName))
	return s.GetRolePrompt(ctx, role.AccountId)
}

func (s *Service) GetOrCreateRolePrompt(ctx context.Context, accountId string, def models.RolePrompt) (*models.RolePrompt, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, queryInsertRoleIfMissing, accountId, def.RoleName, def.Prompt, now, now); err != nil {
		return nil, fmt.Errorf("failed to materialize default role prompt: %w", err)
	}

	role, err := s.GetRolePrompt(ctx, accountId)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, fmt.Errorf("role prompt missing after insert for account %s", accountId)
	}
	return role, nil
}

func (s *Service) SaveCorrection(ctx context.Context, record models.CorrectionRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var language sql.NullString
	if record.DetectedLanguage != "" {
		language = sql.NullString{String: record.DetectedLanguage, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryInsertCorrection,
		record.AccountId, record.OriginalText, record.CorrectedText, record.CorrectionType,
		record.ErrorCount, language, record.ErrorsGrammar, record.ErrorsSpelling,
		record.ErrorsVocabulary, record.ErrorsStyle, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save correction record: %w", err)
	}
	return nil
}

func (s *Service) GetProgress(ctx context.Context, accountId string) (*models.Progress, error) {
	var p models.Progress
	err := s.db.QueryRowContext(ctx, queryGetProgress, accountId).Scan(
		&p.TotalCorrections, &p.TotalTranslations, &p.TotalErrors,
		&p.GrammarErrors, &p.SpellingErrors, &p.VocabularyErrors, &p.StyleErrors)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &p, nil
}
