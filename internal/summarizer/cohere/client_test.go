package cohere

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/summarizer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{APIKey: "test-key", BaseURL: srv.URL + "/", Timeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{APIKey: "k"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	assert.Equal(t, "https://api.cohere.com", c.config.BaseURL)
	assert.Equal(t, "command-r-plus-08-2024", c.config.Model)
	assert.Equal(t, 30*time.Second, c.config.Timeout)
	assert.Equal(t, 4, cap(c.slots))
}

func TestSummarize_Success(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/chat", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"abc","finish_reason":"COMPLETE","message":{"role":"assistant","content":[{"type":"text","text":"- point one\n- point two"}]}}`)
	}, nil)

	res, err := c.Summarize(context.Background(), summarizer.Request{Text: "A long article."})
	require.NoError(t, err)

	assert.Equal(t, "- point one\n- point two", res.Summary)
	assert.Equal(t, "command-r-plus-08-2024", res.Model)

	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Generate a bullets summary of this text, with short length and low extractiveness:\nA long article.", got.Messages[0].Content)
	assert.Equal(t, "command-r-plus-08-2024", got.Model)
}

func TestSummarize_ValidationNeverCallsProvider(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, nil)

	_, err := c.Summarize(context.Background(), summarizer.Request{Text: "x", Format: "sonnet"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Zero(t, calls.Load())
}

func TestSummarize_ProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"message":"internal"}`)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"message":`)
		}},
		{"no content blocks", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"message":{"role":"assistant","content":[]}}`)
		}},
		{"only non-text blocks", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"message":{"content":[{"type":"tool_call","text":""}]}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler, nil)

			_, err := c.Summarize(context.Background(), summarizer.Request{Text: "text"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrExternal), "error = %v, want ErrExternal", err)
			assert.Equal(t, "summarization service is unavailable, please try again later", err.Error())
		})
	}
}

func TestSummarize_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Summarize(context.Background(), summarizer.Request{Text: "text"})
	assert.True(t, errors.Is(err, apperror.ErrExternal))
}

func TestSummarize_WaitsForSlot(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":[{"type":"text","text":"ok"}]}}`)
	}, func(cfg *Config) { cfg.MaxConcurrent = 1 })

	// Hold the only slot.
	release, err := c.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Summarize(ctx, summarizer.Request{Text: "text"})
	assert.True(t, errors.Is(err, apperror.ErrExternal))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	res, err := c.Summarize(context.Background(), summarizer.Request{Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Summary)
}
