// Package generator produces chat replies through an OpenAI-compatible API.
// The relay always hands it English text and receives English back.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"babelbot/internal/apperrors"
	"babelbot/internal/httputil"
)

const (
	defaultAPIBase      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultSystemPrompt = "You are a helpful multilingual assistant."
	defaultTemperature  = 0.2
	// apiKeyEnv is consulted per call when no key is configured, so a
	// missing credential only surfaces when a reply is actually requested.
	apiKeyEnv = "OPENAI_API_KEY"
)

// OpenAI implements domain.Generator against /chat/completions.
type OpenAI struct {
	apiKey       string
	apiBase      string
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	client       *http.Client
	logger       *slog.Logger
}

type OpenAIConfig struct {
	APIKey       string // optional; falls back to OPENAI_API_KEY at call time
	APIBase      string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	Client       *http.Client
	Logger       *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Client == nil {
		cfg.Client = httputil.SharedClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:       cfg.APIKey,
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// resolveKey returns the usable API key. Checked per call rather than at
// construction so the service starts without a credential and only the
// first generation fails.
func (o *OpenAI) resolveKey() (string, error) {
	if o.apiKey != "" {
		return o.apiKey, nil
	}
	if key := os.Getenv(apiKeyEnv); key != "" {
		return key, nil
	}
	return "", apperrors.Config(apiKeyEnv + " is not set")
}

// Generate sends the fixed system prompt plus the user text and returns the
// first choice, whitespace-trimmed. Single attempt; the relay owns retries
// and timeouts through ctx.
func (o *OpenAI) Generate(ctx context.Context, text string) (string, error) {
	key, err := o.resolveKey()
	if err != nil {
		return "", err
	}

	body := oaiRequest{
		Model: o.model,
		Messages: []oaiMessage{
			{Role: "system", Content: o.systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: &o.temperature,
	}
	if o.maxTokens > 0 {
		body.MaxTokens = o.maxTokens
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", apperrors.FromContext(err, "reply generation timed out")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", o.statusError(resp.StatusCode, respBody)
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", apperrors.Generation("unexpected completion response", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", apperrors.Generation("completion returned no choices", nil)
	}

	return strings.TrimSpace(oaiResp.Choices[0].Message.Content), nil
}

// Healthy checks API reachability and credential validity. Used by doctor,
// never on the request path.
func (o *OpenAI) Healthy(ctx context.Context) error {
	key, err := o.resolveKey()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("generation API not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("generation API: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation API returned %d", resp.StatusCode)
	}
	return nil
}

func (o *OpenAI) statusError(status int, body []byte) error {
	var apiErr oaiError
	_ = json.Unmarshal(body, &apiErr)
	detail := apiErr.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	cause := fmt.Errorf("generation API %d: %s", status, detail)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Generation("generation API rejected credentials", cause)
	case http.StatusTooManyRequests:
		return apperrors.Generation("generation API rate limited", cause)
	default:
		return apperrors.Generation("generation API error", cause)
	}
}
