// Package llm implements the three model-backed collaborators of the
// pipeline — divider, generator, reviewer — on top of one OpenAI-compatible
// chat completions client. Structured responses are validated against JSON
// Schemas before they reach the orchestration core, so a malformed verdict
// surfaces as an error, never as a zero value.
package llm

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

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config configures one chat client. Separate pipeline roles usually get
// separate clients so their models and temperatures can differ.
type Config struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	APIKey      string        `json:"-" yaml:"api_key"`
	Model       string        `json:"model" yaml:"model"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`

	// RPS throttles outgoing requests; 0 disables the limiter.
	RPS float64 `json:"rps" yaml:"rps"`

	HTTPClient *http.Client `json:"-" yaml:"-"`
	Logger     *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 12000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to one chat completions endpoint.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a Client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &Client{cfg: cfg, limiter: limiter, log: cfg.Logger}
}

// Chat sends one system+user exchange and returns the assistant content.
// jsonMode requests a JSON object response from providers that support it.
func (c *Client) Chat(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	if jsonMode {
		body["response_format"] = map[string]any{"type": "json_object"}
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	raw, _, err := c.sendJSON(ctx, endpoint, body, headers)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("llm: decode completion: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("llm: completion has no choices")
	}
	return cc.Choices[0].Message.Content, nil
}

// sendJSON posts a JSON body and returns the raw response. It assumes no
// particular provider; callers decide the URL and headers.
func (c *Client) sendJSON(ctx context.Context, url string, body any, headers map[string]string) ([]byte, int, error) {
	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("llm: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		return nil, 0, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.log.Info("llm.request", "req_id", reqID, "model", c.cfg.Model, "bytes", len(bs))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		c.log.Error("llm.send_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, fmt.Errorf("llm: send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	c.log.Info("llm.response", "req_id", reqID, "status", resp.StatusCode,
		"bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return raw, resp.StatusCode, fmt.Errorf("llm: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	return raw, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
