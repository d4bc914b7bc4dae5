// Package summarizer defines the contract of the summarization gateway.
// The auth packages never import it and it never imports them.
package summarizer

import (
	"context"
	"strings"

	"github.com/sakif/digest/internal/apperror"
)

// Formatting options. The zero value of each picks the default.
const (
	FormatBullets   = "bullets"
	FormatParagraph = "paragraph"

	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	ExtractivenessLow    = "low"
	ExtractivenessMedium = "medium"
	ExtractivenessHigh   = "high"
)

// MaxTextBytes bounds the input text.
const MaxTextBytes = 100 * 1024

var (
	formats        = map[string]bool{FormatBullets: true, FormatParagraph: true}
	lengths        = map[string]bool{LengthShort: true, LengthMedium: true, LengthLong: true}
	extractiveness = map[string]bool{ExtractivenessLow: true, ExtractivenessMedium: true, ExtractivenessHigh: true}
)

// Request is a summarization request.
type Request struct {
	Text           string `json:"text"`
	Format         string `json:"format"`
	Length         string `json:"length"`
	Extractiveness string `json:"extractiveness"`
}

// Result is a generated summary.
type Result struct {
	Summary string `json:"summary"`
	Model   string `json:"model,omitempty"`
}

// Summarizer produces a summary for a request. Failures reaching the
// provider are returned wrapping apperror.ErrExternal.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Result, error)
}

// Normalize fills defaults, lower-cases the options and validates them.
func Normalize(req Request) (Request, error) {
	req.Format = orDefault(req.Format, FormatBullets)
	req.Length = orDefault(req.Length, LengthShort)
	req.Extractiveness = orDefault(req.Extractiveness, ExtractivenessLow)

	switch {
	case strings.TrimSpace(req.Text) == "":
		return req, apperror.ValidationFailed("text", "document text is required")
	case len(req.Text) > MaxTextBytes:
		return req, apperror.ValidationFailed("text", "document text is too long")
	case !formats[req.Format]:
		return req, apperror.ValidationFailed("format", "format must be bullets or paragraph")
	case !lengths[req.Length]:
		return req, apperror.ValidationFailed("length", "length must be short, medium or long")
	case !extractiveness[req.Extractiveness]:
		return req, apperror.ValidationFailed("extractiveness", "extractiveness must be low, medium or high")
	}
	return req, nil
}

// Prompt renders the instruction sent to the language model.
func Prompt(req Request) string {
	return "Generate a " + req.Format + " summary of this text, with " + req.Length +
		" length and " + req.Extractiveness + " extractiveness:\n" + req.Text
}

func orDefault(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}
