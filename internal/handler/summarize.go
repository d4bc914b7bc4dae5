package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/digest/internal/metrics"
	"github.com/sakif/digest/internal/service"
	"github.com/sakif/digest/internal/summarizer"
)

// SummarizeHandler forwards summarization requests to the configured model.
type SummarizeHandler struct {
	summarizer summarizer.Summarizer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewSummarizeHandler creates a new SummarizeHandler.
func NewSummarizeHandler(s summarizer.Summarizer, m *metrics.Metrics, logger *slog.Logger) *SummarizeHandler {
	return &SummarizeHandler{
		summarizer: s,
		metrics:    m,
		logger:     logger,
	}
}

// summarizeRequest accepts the text under "text", "document" or
// "transcript"; older clients send one of the latter two.
type summarizeRequest struct {
	Text           string `json:"text"`
	Document       string `json:"document"`
	Transcript     string `json:"transcript"`
	Format         string `json:"format"`
	Length         string `json:"length"`
	Extractiveness string `json:"extractiveness"`
}

type summarizeResponse struct {
	Status  service.Status `json:"status"`
	Summary string         `json:"summary"`
	Model   string         `json:"model,omitempty"`
}

// HandleSummarize processes a summarization request.
//
// HTTP: POST /api/summarize (also mounted at /api/summary)
func (h *SummarizeHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Warn("invalid summarize request body", slog.String("error", err.Error()))
		writeError(w, h.logger, err)
		return
	}

	text := req.Text
	switch {
	case text == "" && req.Document != "":
		text = req.Document
	case text == "":
		text = req.Transcript
	}

	start := time.Now()
	res, err := h.summarizer.Summarize(r.Context(), summarizer.Request{
		Text:           text,
		Format:         req.Format,
		Length:         req.Length,
		Extractiveness: req.Extractiveness,
	})
	h.metrics.ObserveSummarize(time.Since(start), err)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summarizeResponse{
		Status:  service.StatusSuccess,
		Summary: res.Summary,
		Model:   res.Model,
	})
}
