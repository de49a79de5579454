// Package engine wraps the speech recognition and diarization backend.
//
// Supported engines:
//   - exec: a long-lived helper process speaking JSON lines on stdin/stdout
//   - http: a model server accepting multipart uploads
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/yokitheyo/segscribe/internal/config"
	"github.com/yokitheyo/segscribe/internal/model"
)

// Request describes one segment to transcribe.
type Request struct {
	AudioPath string
	Speakers  int
	Language  string
	HotWords  string
	Domain    string
}

// Engine transcribes one audio file into ordered, speaker-tagged spans
// with millisecond timestamps relative to the start of the file.
type Engine interface {
	Transcribe(ctx context.Context, req Request) ([]model.Span, error)
}

// Error is a stage-aware engine failure.
type Error struct {
	Stage   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("engine %s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("engine %s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewFactory returns the constructor for the configured engine kind.
func NewFactory(cfg config.EngineConfig) (Factory, error) {
	switch cfg.Kind {
	case "exec", "":
		return func(ctx context.Context) (Engine, error) {
			return StartProcess(ctx, cfg.Command, cfg.Args...)
		}, nil
	case "http":
		return func(ctx context.Context) (Engine, error) {
			return NewHTTP(ctx, cfg.URL, cfg.Timeout)
		}, nil
	default:
		return nil, fmt.Errorf("engine: unknown kind %q (supported: exec, http)", cfg.Kind)
	}
}

// wireSegment is the backend's span encoding; times are seconds.
type wireSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

type wireResponse struct {
	Ready    bool          `json:"ready,omitempty"`
	Segments []wireSegment `json:"segments"`
	Error    string        `json:"error,omitempty"`
}

type wireRequest struct {
	Audio    string `json:"audio"`
	Speakers int    `json:"speakers"`
	Language string `json:"language,omitempty"`
	HotWords string `json:"hot_words,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

func toWire(req Request) wireRequest {
	return wireRequest{
		Audio:    req.AudioPath,
		Speakers: req.Speakers,
		Language: normalizeLanguage(req.Language),
		HotWords: req.HotWords,
		Domain:   req.Domain,
	}
}

// toSpans converts wire segments to millisecond spans. Entries without
// text are kept; their end times still bound the segment.
func toSpans(segs []wireSegment) []model.Span {
	out := make([]model.Span, 0, len(segs))
	for _, s := range segs {
		out = append(out, model.Span{
			Start:   secondsToMs(s.Start),
			End:     secondsToMs(s.End),
			Text:    strings.TrimSpace(s.Text),
			Speaker: strings.TrimSpace(s.Speaker),
		})
	}
	return out
}

func secondsToMs(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

// normalizeLanguage maps "auto", "default" and empty to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") || strings.EqualFold(lang, "default") {
		return ""
	}
	return lang
}
