// Package openai_provider implements the decision oracle over OpenAI's
// chat completions API using the tools (function calling) wire format.
package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/deadnet/internal/oracle"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client calls the OpenAI chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewClient creates a new OpenAI-backed oracle.
func NewClient(apiKey, baseURL, model string, maxTokens int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolDef struct {
	Type     string          `json:"type"`
	Function oracle.ToolSpec `json:"function"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Tools       []toolDef `json:"tools"`
	ToolChoice  string    `json:"tool_choice"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt and action schema and decodes the single
// chosen tool call. A response with no tool call yields ErrNoDecision.
func (c *Client) Complete(ctx context.Context, systemPrompt string, tools []oracle.ToolSpec, temperature float64) (oracle.ToolCall, error) {
	defs := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, toolDef{Type: "function", Function: t})
	}
	reqBody := request{
		Model:       c.model,
		Messages:    []message{{Role: "system", Content: systemPrompt}},
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
		Tools:       defs,
		ToolChoice:  "required",
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return oracle.ToolCall{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return oracle.ToolCall{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return oracle.ToolCall{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oracle.ToolCall{}, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return oracle.ToolCall{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return oracle.ToolCall{}, oracle.ErrNoDecision
	}
	calls := apiResp.Choices[0].Message.ToolCalls
	if len(calls) == 0 || calls[0].Function.Name == "" {
		return oracle.ToolCall{}, oracle.ErrNoDecision
	}
	args := calls[0].Function.Arguments
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return oracle.ToolCall{}, oracle.ErrNoDecision
	}
	return oracle.ToolCall{Name: calls[0].Function.Name, Arguments: json.RawMessage(args)}, nil
}

var _ oracle.Provider = (*Client)(nil)
