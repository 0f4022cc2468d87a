package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abelbrown/ecgmon/internal/logging"
)

// Compile-time interface satisfaction check
var _ Provider = (*HTTPProvider)(nil)

// maxResponseBody caps how much of a response is read.
const maxResponseBody = 1 << 20

// ProviderConfig defines how to communicate with a completion API
type ProviderConfig struct {
	Name         string
	Endpoint     string
	APIKey       string
	Model        string
	AuthHeader   string            // "Authorization" or empty for no auth
	AuthPrefix   string            // "" or "Bearer "
	ExtraHeaders map[string]string // Additional headers
	RequireKey   bool              // Hosted APIs refuse requests without a key
	Timeout      time.Duration     // Client-level backstop; callers set per-call deadlines

	// Request building
	BuildBody func(cfg *ProviderConfig, req Request) map[string]any

	// Response parsing
	ParseResponse func(body []byte) (content, model string, err error)
}

// HTTPProvider is a generic HTTP-based completion provider
type HTTPProvider struct {
	config *ProviderConfig
	client *http.Client
}

// NewHTTPProvider creates a provider from config
func NewHTTPProvider(cfg *ProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string {
	return p.config.Name
}

func (p *HTTPProvider) Available() bool {
	if p.config.Endpoint == "" || p.config.Model == "" {
		return false
	}
	if p.config.RequireKey {
		return p.config.APIKey != ""
	}
	return true
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if !p.Available() {
		return Response{}, fmt.Errorf("%s: %w", p.config.Name, ErrNoProvider)
	}

	logging.Debug("HTTP provider request", "provider", p.config.Name, "model", p.config.Model)

	body := p.config.BuildBody(p.config, req)
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}

	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Provider: p.config.Name, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, &TransportError{Provider: p.config.Name, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Error("API error", "provider", p.config.Name, "status", resp.StatusCode, "body", truncateBody(respBody))
		return Response{}, &ResponseError{
			Provider:   p.config.Name,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
		}
	}

	content, model, err := p.config.ParseResponse(respBody)
	if err != nil {
		return Response{}, &ResponseError{Provider: p.config.Name, Err: fmt.Errorf("parse response: %w", err)}
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Response{}, &ResponseError{Provider: p.config.Name, Err: ErrEmptyContent}
	}

	logging.Debug("API response", "provider", p.config.Name, "model", model, "content_len", len(content))

	return Response{
		Content:     content,
		Model:       model,
		RawResponse: string(respBody),
	}, nil
}

func (p *HTTPProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")

	if p.config.AuthHeader != "" && p.config.APIKey != "" {
		req.Header.Set(p.config.AuthHeader, p.config.AuthPrefix+p.config.APIKey)
	}

	for k, v := range p.config.ExtraHeaders {
		req.Header.Set(k, v)
	}
}
