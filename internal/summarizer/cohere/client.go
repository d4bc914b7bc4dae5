// Package cohere implements summarizer.Summarizer on Cohere's v2 chat API.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/summarizer"
)

const serviceName = "summarization service"

// maxErrorBody is how much of a failed response is kept for the log.
const maxErrorBody = 512

var _ summarizer.Summarizer = (*Client)(nil)

// Client calls POST {BaseURL}/v2/chat.
type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
	slots  chan struct{}
}

// New validates cfg and returns a Client. Zero fields take DefaultConfig
// values.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("cohere: API key is required")
	}

	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatResponse struct {
	ID           string `json:"id"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

// Summarize validates req, asks the model for a summary and returns the
// first text block of the reply.
func (c *Client) Summarize(ctx context.Context, req summarizer.Request) (*summarizer.Result, error) {
	req, err := summarizer.Normalize(req)
	if err != nil {
		return nil, err
	}

	release, err := c.acquire(ctx)
	if err != nil {
		return nil, apperror.External(serviceName, err)
	}
	defer release()

	start := time.Now()
	text, err := c.chat(ctx, summarizer.Prompt(req))
	if err != nil {
		c.logger.Error("summarization failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, apperror.External(serviceName, err)
	}

	c.logger.Info("summary generated",
		slog.Int("inputBytes", len(req.Text)),
		slog.Int("outputBytes", len(text)),
		slog.Duration("duration", time.Since(start)),
	)
	return &summarizer.Result{Summary: text, Model: c.config.Model}, nil
}

// acquire blocks until a request slot is free or ctx is done.
func (c *Client) acquire(ctx context.Context) (func(), error) {
	select {
	case c.slots <- struct{}{}:
		return func() { <-c.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("cohere: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v2/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cohere: building request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("cohere: calling chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("cohere: chat API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("cohere: decoding response: %w", err)
	}

	for _, block := range out.Message.Content {
		if block.Type == "text" || block.Type == "" {
			if strings.TrimSpace(block.Text) != "" {
				return block.Text, nil
			}
		}
	}
	return "", errors.New("cohere: response has no text content")
}
