// Package completion drives one metered request through the LLM provider,
// including at most one local tool round.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"metered-assistant-go/internal/analysis"
	"metered-assistant-go/internal/llm"

	"go.uber.org/zap"
)

const DefaultCallTimeout = 30 * time.Second

const detectLanguageTool = "detect_language"

var tools = []llm.Tool{{
	Name:        detectLanguageTool,
	Description: "Detect the language of a text. Returns an ISO 639-1 code or null.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {"text": {"type": "string", "description": "Text to inspect"}},
		"required": ["text"]
	}`),
}}

// Counter estimates tokens when the provider omits usage.
type Counter interface {
	CountTokens(text, model string) int
	CountMessages(messages []llm.Message, model string) int
}

type Request struct {
	SystemPrompt     string
	MetaInstructions string
	// Context holds prior turns; only user and assistant messages are sent.
	Context          []llm.Message
	UserMessage      string
	Model            string
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxOutputTokens  int
	EnableTools      bool
}

type Result struct {
	Text         string
	Model        string
	TotalTokens  int
	InputTokens  int
	OutputTokens int
	Calls        int
}

type Orchestrator struct {
	provider    llm.Provider
	counter     Counter
	callTimeout time.Duration
}

func NewOrchestrator(provider llm.Provider, counter Counter, callTimeout time.Duration) *Orchestrator {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Orchestrator{provider: provider, counter: counter, callTimeout: callTimeout}
}

// Complete returns the reply or a *Error.
func (o *Orchestrator) Complete(ctx context.Context, req Request) (*Result, error) {
	chat := llm.ChatRequest{
		Model:            req.Model,
		Messages:         buildMessages(req),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		MaxTokens:        req.MaxOutputTokens,
	}
	if req.EnableTools {
		chat.Tools = tools
		chat.ToolChoice = llm.ToolChoiceAuto
	}

	result := &Result{Model: req.Model}

	response, err := o.call(ctx, chat, result)
	if err != nil {
		return nil, err
	}

	if req.EnableTools && len(response.ToolCalls) > 0 {
		chat.Messages = append(chat.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, toolCall := range response.ToolCalls {
			chat.Messages = append(chat.Messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    runTool(toolCall),
				ToolCallId: toolCall.Id,
			})
		}
		chat.ToolChoice = llm.ToolChoiceNone

		response, err = o.call(ctx, chat, result)
		if err != nil {
			return nil, err
		}
	}

	text := strings.TrimSpace(response.Content)
	if text == "" {
		return nil, newError(KindEmptyResponse, fmt.Errorf("no content after %d calls", result.Calls))
	}
	result.Text = text
	if response.Model != "" {
		result.Model = response.Model
	}

	zap.L().Info("Completion finished",
		zap.String("model", result.Model),
		zap.Int("calls", result.Calls),
		zap.Int("tokens", result.TotalTokens))
	return result, nil
}

func (o *Orchestrator) call(ctx context.Context, chat llm.ChatRequest, result *Result) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	result.Calls++
	response, err := o.provider.Complete(callCtx, chat)
	if err != nil {
		classified := Classify(err)
		zap.L().Warn("Provider call failed",
			zap.String("model", chat.Model),
			zap.Int("call", result.Calls),
			zap.String("kind", string(classified.Kind)),
			zap.Error(err))
		return nil, classified
	}

	if response.Usage != nil {
		result.InputTokens += response.Usage.PromptTokens
		result.OutputTokens += response.Usage.CompletionTokens
		result.TotalTokens += response.Usage.TotalTokens
	} else {
		in := o.counter.CountMessages(chat.Messages, chat.Model)
		out := o.counter.CountTokens(response.Content, chat.Model)
		result.InputTokens += in
		result.OutputTokens += out
		result.TotalTokens += in + out
	}
	return response, nil
}

func buildMessages(req Request) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: req.SystemPrompt}}
	if req.MetaInstructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.MetaInstructions})
	}
	for _, m := range req.Context {
		if m.Role == llm.RoleUser || m.Role == llm.RoleAssistant {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: req.UserMessage})
}

// BuildMessages exposes the prompt layout so callers can budget it.
func BuildMessages(req Request) []llm.Message {
	return buildMessages(req)
}

func runTool(call llm.ToolCall) string {
	if call.Name != detectLanguageTool {
		return toolJSON(map[string]any{"error": "unknown tool " + call.Name})
	}

	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolJSON(map[string]any{"error": "invalid arguments"})
	}

	result := map[string]any{"language": nil}
	if language, ok := analysis.DetectLanguage(args.Text); ok {
		result["language"] = language
	}
	return toolJSON(result)
}

func toolJSON(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"internal"}`
	}
	return string(b)
}
