// Package llm provides the generation clients and the retry/fallback
// dispatcher used by every pipeline stage.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider names the supported generation backends.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Client is the interface every generation backend implements.
type Client interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	Provider() string
	Model() string
}

// GenerationRequest is a single generation call. Transient, never persisted.
type GenerationRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// JSONMode asks the provider for structured JSON output. Providers
	// without native support emulate it through the system prompt.
	JSONMode bool
}

// TokenUsage carries token counts where the provider reports them.
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// GenerationResult is the outcome of a successful generation call.
type GenerationResult struct {
	Text     string
	Provider string
	Model    string
	Usage    *TokenUsage
}

// jsonInstruction is appended to the system prompt for providers that have
// no native JSON output mode.
const jsonInstruction = "Return your response as a valid JSON object."

const defaultMaxTokens = 4096

// AnthropicClient implements Client for the Anthropic messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.anthropic.com/v1",
		Model:   "claude-3-7-sonnet-20250219",
		Timeout: 120 * time.Second,
	}
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(config AnthropicConfig) *AnthropicClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.anthropic.com/v1"
	}
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &AnthropicClient{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// AnthropicRequest represents the Anthropic API request.
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

// AnthropicMessage represents a message.
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicResponse represents the API response.
type AnthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends a generation request to the Anthropic API.
func (c *AnthropicClient) Generate(ctx context.Context, genReq GenerationRequest) (*GenerationResult, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	systemPrompt := genReq.SystemPrompt
	if genReq.JSONMode {
		// No native JSON mode; instruct through the system prompt.
		if systemPrompt != "" {
			systemPrompt = systemPrompt + "\n\n" + jsonInstruction
		} else {
			systemPrompt = jsonInstruction
		}
	}

	maxTokens := genReq.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	reqBody := AnthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages: []AnthropicMessage{
			{Role: "user", Content: genReq.Prompt},
		},
		Temperature: genReq.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var anthropicResp AnthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if anthropicResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", anthropicResp.Error.Message)
	}

	if len(anthropicResp.Content) == 0 {
		return nil, fmt.Errorf("no completion returned")
	}

	var result strings.Builder
	for _, content := range anthropicResp.Content {
		if content.Type == "text" {
			result.WriteString(content.Text)
		}
	}

	return &GenerationResult{
		Text:     strings.TrimSpace(result.String()),
		Provider: ProviderAnthropic,
		Model:    c.model,
		Usage: &TokenUsage{
			Input:  anthropicResp.Usage.InputTokens,
			Output: anthropicResp.Usage.OutputTokens,
			Total:  anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}, nil
}

// Provider returns the provider name.
func (c *AnthropicClient) Provider() string {
	return ProviderAnthropic
}

// Model returns the configured model.
func (c *AnthropicClient) Model() string {
	return c.model
}
