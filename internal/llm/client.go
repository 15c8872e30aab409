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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"metered-assistant-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Client talks to any API implementing the OpenAI chat completions format.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ Provider = (*Client)(nil)

func NewClient(cfg models.AIConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return NewClientWithHTTP(httpClient, cfg.BaseURL, cfg.APIKey), nil
}

// NewClientWithHTTP is used by tests and callers that bring their own transport.
func NewClientWithHTTP(httpClient *http.Client, baseURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

func createCustomHttpClient(requestTimeout time.Duration) (*http.Client, error) {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: requestTimeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   2 * requestTimeout,
	}, nil
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, request ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(buildRequest(request))
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	zap.L().Debug("Provider responded",
		zap.String("model", request.Model),
		zap.Int("status", httpResponse.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if httpResponse.StatusCode != http.StatusOK {
		return nil, readProviderError(httpResponse)
	}

	var wire openaiResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("llm: decoding response: %w: %v", ErrMalformedResponse, err)
	}
	return wire.toResponse(), nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}} and
// falls back to the raw body.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResponse.StatusCode,
		Message:    string(body),
	}
}

func buildRequest(request ChatRequest) openaiRequest {
	wire := openaiRequest{
		Model:            request.Model,
		MaxTokens:        request.MaxTokens,
		Temperature:      request.Temperature,
		TopP:             request.TopP,
		PresencePenalty:  request.PresencePenalty,
		FrequencyPenalty: request.FrequencyPenalty,
	}

	for _, message := range request.Messages {
		m := openaiMessage{
			Role:       message.Role,
			Content:    message.Content,
			ToolCallID: message.ToolCallId,
		}
		for _, call := range message.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openaiToolCall{
				ID:   call.Id,
				Type: "function",
				Function: openaiToolFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		wire.Messages = append(wire.Messages, m)
	}

	for _, tool := range request.Tools {
		wire.Tools = append(wire.Tools, openaiTool{
			Type: "function",
			Function: openaiToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if len(wire.Tools) > 0 && request.ToolChoice != "" {
		wire.ToolChoice = request.ToolChoice
	}

	return wire
}

type openaiRequest struct {
	Model            string          `json:"model"`
	Messages         []openaiMessage `json:"messages"`
	Tools            []openaiTool    `json:"tools,omitempty"`
	ToolChoice       string          `json:"tool_choice,omitempty"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	PresencePenalty  float64         `json:"presence_penalty"`
	FrequencyPenalty float64         `json:"frequency_penalty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string               `json:"type"`
	Function openaiToolDefinition `json:"function"`
}

type openaiToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (wire *openaiResponse) toResponse() *ChatResponse {
	response := &ChatResponse{Model: wire.Model}
	if wire.Usage != nil {
		response.Usage = &Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	if len(wire.Choices) == 0 {
		return response
	}

	choice := wire.Choices[0]
	response.Content = choice.Message.Content
	response.FinishReason = choice.FinishReason
	for _, call := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			Id:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return response
}
