// Package conversation turns stored history into prompt context.
package conversation

import (
	"context"
	"fmt"

	"metered-assistant-go/internal/llm"
	"metered-assistant-go/internal/models"
)

// TurnSource returns up to limit turns for an account, newest first.
type TurnSource interface {
	GetRecentTurns(ctx context.Context, accountId string, limit int) ([]models.ConversationTurn, error)
}

type Assembler struct {
	turns TurnSource
}

func NewAssembler(turns TurnSource) *Assembler {
	return &Assembler{turns: turns}
}

// BuildContext returns the last maxTurns turns as user/assistant pairs,
// oldest first.
func (a *Assembler) BuildContext(ctx context.Context, accountId string, maxTurns int) ([]llm.Message, error) {
	if maxTurns < 0 {
		return nil, fmt.Errorf("max turns cannot be negative, got %d", maxTurns)
	}
	if maxTurns == 0 {
		return nil, nil
	}

	turns, err := a.turns.GetRecentTurns(ctx, accountId, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, 2*len(turns))
	for i := len(turns) - 1; i >= 0; i-- {
		messages = append(messages,
			llm.Message{Role: llm.RoleUser, Content: turns[i].UserMessage},
			llm.Message{Role: llm.RoleAssistant, Content: turns[i].AssistantResponse},
		)
	}
	return messages, nil
}
