// Package llm is a small client for OpenAI-compatible chat completion APIs.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice values understood by the provider.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// ErrMalformedResponse is returned when a 200 response cannot be decoded.
var ErrMalformedResponse = errors.New("malformed provider response")

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallId string
}

type ToolCall struct {
	Id        string
	Name      string
	Arguments string
}

type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type ChatRequest struct {
	Model            string
	Messages         []Message
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	MaxTokens        int
	Tools            []Tool
	// ToolChoice is only sent when Tools is not empty.
	ToolChoice string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type ChatResponse struct {
	Model        string
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	// Usage is nil when the provider did not report it.
	Usage *Usage
}

// Provider completes one chat request.
type Provider interface {
	Complete(ctx context.Context, request ChatRequest) (*ChatResponse, error)
}

// ProviderError is returned when the API responds with a non-200 status.
type ProviderError struct {
	StatusCode int
	// Type is the provider error type, e.g. "rate_limit_error".
	Type    string
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited reports HTTP 429 or a rate_limit_error body.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429 || err.Type == "rate_limit_error"
}

// IsOverloaded reports HTTP 529.
func (err *ProviderError) IsOverloaded() bool {
	return err.StatusCode == 529
}

// IsAuth reports credential or permission failures.
func (err *ProviderError) IsAuth() bool {
	switch {
	case err.StatusCode == 401, err.StatusCode == 403:
		return true
	case err.Type == "authentication_error", err.Type == "permission_error":
		return true
	}
	return false
}
