// Package tokens counts prompt tokens and sizes the response budget so that
// a request never exceeds the model's input limit.
package tokens

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"metered-assistant-go/internal/llm"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

const (
	DefaultSafetyMargin      = 100
	DefaultMinResponseTokens = 50
)

var (
	ErrInputTooLong      = errors.New("input exceeds model limit")
	ErrNoRoomForResponse = errors.New("no room left for a response")
)

// BudgetError carries the counts behind a rejected budget.
type BudgetError struct {
	Kind        error
	InputTokens int
	Limit       int
	Available   int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: input %d tokens, limit %d, available %d", e.Kind, e.InputTokens, e.Limit, e.Available)
}

func (e *BudgetError) Unwrap() error {
	return e.Kind
}

const fallbackEncoding = tiktoken.MODEL_CL100K_BASE

var openAIModelPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}

var loaderOnce sync.Once

type Budgeter struct {
	safetyMargin int
	minResponse  int

	// model name -> *tiktoken.Tiktoken, nil when the model has no known encoding
	encodings sync.Map
}

// NewBudgeter uses the defaults for any non-positive argument.
func NewBudgeter(safetyMargin, minResponse int) *Budgeter {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	if safetyMargin <= 0 {
		safetyMargin = DefaultSafetyMargin
	}
	if minResponse <= 0 {
		minResponse = DefaultMinResponseTokens
	}
	return &Budgeter{safetyMargin: safetyMargin, minResponse: minResponse}
}

// CountTokens is exact for models with a known BPE encoding. OpenAI models
// whose encoding cannot be loaded are counted with cl100k_base. Other models
// get runes/4, which is an approximation only.
func (b *Budgeter) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := b.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return utf8.RuneCountInString(text) / 4
}

// CountMessages counts the newline-joined contents of messages.
func (b *Budgeter) CountMessages(messages []llm.Message, model string) int {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return b.CountTokens(strings.Join(parts, "\n"), model)
}

// FitBudget returns the max output tokens to request:
// min(limit - input - safetyMargin, desired).
func (b *Budgeter) FitBudget(messages []llm.Message, model string, limit, desired int) (int, error) {
	input := b.CountMessages(messages, model)
	if input > limit {
		return 0, &BudgetError{Kind: ErrInputTooLong, InputTokens: input, Limit: limit}
	}

	available := limit - input - b.safetyMargin
	if desired < available {
		available = desired
	}
	if available < b.minResponse {
		return 0, &BudgetError{Kind: ErrNoRoomForResponse, InputTokens: input, Limit: limit, Available: available}
	}

	zap.L().Debug("Token budget computed",
		zap.String("model", model),
		zap.Int("input_tokens", input),
		zap.Int("limit", limit),
		zap.Int("max_output", available))
	return available, nil
}

func (b *Budgeter) encoding(model string) *tiktoken.Tiktoken {
	if cached, ok := b.encodings.Load(model); ok {
		enc, _ := cached.(*tiktoken.Tiktoken)
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil && isOpenAIModel(model) {
		// Newer models map to o200k_base, which the offline loader does not ship
		fallback, fallbackErr := tiktoken.GetEncoding(fallbackEncoding)
		if fallbackErr == nil {
			zap.L().Warn("Tokenizer for model unavailable, counting with fallback encoding",
				zap.String("model", model),
				zap.String("encoding", fallbackEncoding),
				zap.Error(err))
			enc, err = fallback, nil
		}
	}
	if err != nil {
		zap.L().Debug("No exact tokenizer for model, approximating",
			zap.String("model", model), zap.Error(err))
		enc = nil
	}
	b.encodings.Store(model, enc)
	return enc
}

func isOpenAIModel(model string) bool {
	for _, prefix := range openAIModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}
