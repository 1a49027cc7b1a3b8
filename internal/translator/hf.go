package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
	"babelbot/internal/httputil"
)

const (
	defaultHFAPIBase = "https://api-inference.huggingface.co"
	// maxResponseBytes caps how much of an API response is read.
	maxResponseBytes = 1 << 20
	// warmupPollFloor and warmupPollCeil clamp the wait between warm-up
	// polls when the API reports an estimated load time.
	warmupPollFloor = 10 * time.Millisecond
	warmupPollCeil  = 15 * time.Second
)

// Pipeline calls one translation model on the Hugging Face Inference API.
// Instances are created by the Registry and reused once warm.
type Pipeline struct {
	pair    domain.LanguagePair
	model   string
	apiBase string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type PipelineConfig struct {
	Pair    domain.LanguagePair
	Model   string
	APIBase string
	Token   string // optional; anonymous calls are rate limited but valid
	Client  *http.Client
	Logger  *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultHFAPIBase
	}
	if cfg.Client == nil {
		cfg.Client = httputil.SharedClient(30 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		pair:    cfg.Pair,
		model:   cfg.Model,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		token:   cfg.Token,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (p *Pipeline) Pair() domain.LanguagePair { return p.pair }
func (p *Pipeline) Model() string             { return p.model }

type hfRequest struct {
	Inputs  string     `json:"inputs"`
	Options *hfOptions `json:"options,omitempty"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model,omitempty"`
	UseCache     bool `json:"use_cache,omitempty"`
}

type hfResult struct {
	TranslationText string `json:"translation_text"`
}

type hfError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// Translate runs a single inference call. No retries: the caller decides how
// a failed stage is reported.
func (p *Pipeline) Translate(ctx context.Context, text string) (string, error) {
	status, body, err := p.post(ctx, hfRequest{Inputs: text})
	if err != nil {
		return "", apperrors.FromContext(err, "translation call timed out for "+p.pair.Key())
	}

	if status != http.StatusOK {
		return "", p.statusError(status, body)
	}

	var results []hfResult
	if err := json.Unmarshal(body, &results); err != nil {
		return "", apperrors.Translation("unexpected translation response for "+p.pair.Key(), err)
	}
	if len(results) == 0 || results[0].TranslationText == "" {
		return "", apperrors.Translation("empty translation result for "+p.pair.Key(), nil)
	}
	return results[0].TranslationText, nil
}

// WarmUp blocks until the remote model is loaded and serving. The API holds
// the request while loading when wait_for_model is set; a 503 with an
// estimated load time falls back to polling until ctx expires.
func (p *Pipeline) WarmUp(ctx context.Context) error {
	req := hfRequest{
		Inputs:  "hello",
		Options: &hfOptions{WaitForModel: true, UseCache: true},
	}

	for {
		status, body, err := p.post(ctx, req)
		if err != nil {
			return apperrors.FromContext(err, "model load timed out for "+p.pair.Key())
		}

		switch {
		case status == http.StatusOK:
			return nil
		case status == http.StatusServiceUnavailable:
			var apiErr hfError
			_ = json.Unmarshal(body, &apiErr)
			wait := estimatedWait(apiErr.EstimatedTime)
			p.logger.Debug("model still loading",
				"pair", p.pair.Key(), "model", p.model, "retry_in", wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return apperrors.FromContext(ctx.Err(), "model load timed out for "+p.pair.Key())
			}
		default:
			return p.statusError(status, body)
		}
	}
}

func (p *Pipeline) post(ctx context.Context, body hfRequest) (int, []byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/models/"+p.model, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (p *Pipeline) statusError(status int, body []byte) error {
	var apiErr hfError
	_ = json.Unmarshal(body, &apiErr)
	detail := apiErr.Error
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	cause := fmt.Errorf("translation API %d: %s", status, detail)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Translation("translation API rejected credentials", cause)
	case http.StatusNotFound:
		return apperrors.Translation("translation model not found: "+p.model, cause)
	case http.StatusTooManyRequests:
		return apperrors.Translation("translation API rate limited", cause)
	case http.StatusServiceUnavailable:
		return apperrors.Translation("translation model is still loading", cause)
	default:
		return apperrors.Translation("translation API error for "+p.pair.Key(), cause)
	}
}

func estimatedWait(seconds float64) time.Duration {
	wait := time.Duration(seconds * float64(time.Second))
	if wait < warmupPollFloor {
		return warmupPollFloor
	}
	if wait > warmupPollCeil {
		return warmupPollCeil
	}
	return wait
}
