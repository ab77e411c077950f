// Package transcribe turns extracted speech audio into timed text segments.
package transcribe

import (
	"context"
	"errors"
	"strings"
)

// ErrModelUnavailable is returned when no recognition backend can serve the
// request (unconfigured backend, missing model, service down).
var ErrModelUnavailable = errors.New("speech recognition model unavailable")

// Recognizer is the interface for speech-to-text backends.
type Recognizer interface {
	// Transcribe returns ordered segments for a mono WAV. An empty language
	// lets the backend detect it.
	Transcribe(ctx context.Context, wavPath, language string) ([]Segment, error)
	Name() string  // "whisper", "openai", "elevenlabs"
	Model() string // model identifier for logs
}

// Segment is a timed piece of recognized speech. Times are in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns End-Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// LanguageHint maps a user-facing source language to a backend hint. "auto"
// and empty both mean autodetect.
func LanguageHint(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "auto" {
		return ""
	}
	return lang
}

// normalizeSegments trims text and drops segments with no positive duration,
// preserving order.
func normalizeSegments(in []Segment) []Segment {
	out := make([]Segment, 0, len(in))
	for _, s := range in {
		if s.End <= s.Start {
			continue
		}
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}
	return out
}

// Unavailable is a Recognizer that always fails with ErrModelUnavailable.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Name() string  { return "none" }
func (u Unavailable) Model() string { return "" }

func (u Unavailable) Transcribe(context.Context, string, string) ([]Segment, error) {
	if u.Reason != "" {
		return nil, errors.Join(ErrModelUnavailable, errors.New(u.Reason))
	}
	return nil, ErrModelUnavailable
}
