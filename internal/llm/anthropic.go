package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/config"
	"github.com/Jack-Liu0227/MultiobjectPrediction-sub001/internal/logging"
)

// AnthropicClient implements Client against the Anthropic messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewAnthropicClient creates a client from validated config.
func NewAnthropicClient(cfg config.LLMConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
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

// Invoke sends the request text and returns the completion.
func (c *AnthropicClient) Invoke(ctx context.Context, request string) (string, error) {
	maxTokens := c.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	reqBody := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: request}},
		Temperature: c.temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTP(resp.StatusCode, string(body))
	}

	var anResp anthropicResponse
	if err := json.Unmarshal(body, &anResp); err != nil {
		return "", &ProtocolError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if anResp.Error != nil {
		return "", &ProtocolError{Err: fmt.Errorf("API error: %s", anResp.Error.Message)}
	}
	if len(anResp.Content) == 0 {
		return "", &ProtocolError{Err: fmt.Errorf("no completion returned")}
	}

	var result strings.Builder
	for _, content := range anResp.Content {
		if content.Type == "text" {
			result.WriteString(content.Text)
		}
	}

	logging.APIDebug("anthropic completion: model=%s input_tokens=%d output_tokens=%d",
		c.model, anResp.Usage.InputTokens, anResp.Usage.OutputTokens)

	return strings.TrimSpace(result.String()), nil
}

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }
