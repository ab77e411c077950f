package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WhisperClient talks to a self-hosted server exposing the OpenAI
// /v1/audio/transcriptions API, such as faster-whisper-server or the
// whisper.cpp server.
type WhisperClient struct {
	url   string
	model string
	http  *http.Client
}

func NewWhisperClient(url, model string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{url: url, model: model, http: &http.Client{Timeout: timeout}}
}

func (wc *WhisperClient) Name() string  { return "whisper" }
func (wc *WhisperClient) Model() string { return wc.model }

// verboseTranscript is the verbose_json response body.
type verboseTranscript struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe returns the timed segments of wavPath. An unreachable server,
// 404 (model not installed) and 503 (model loading) wrap
// ErrModelUnavailable.
func (wc *WhisperClient) Transcribe(ctx context.Context, wavPath, language string) ([]Segment, error) {
	if wc.url == "" {
		return nil, fmt.Errorf("%w: WHISPER_URL not set", ErrModelUnavailable)
	}

	status, body, err := postAudio(ctx, wc.http, wc.url, nil, wavPath,
		formField{"model", wc.model},
		formField{"language", LanguageHint(language)},
		formField{"temperature", "0"},
		formField{"response_format", "verbose_json"},
		formField{"timestamp_granularities[]", "segment"},
	)
	if errors.Is(err, errUnreachable) {
		return nil, fmt.Errorf("%w: whisper: %w", ErrModelUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: whisper returned %d: %s", ErrModelUnavailable, status, snippet(body))
	default:
		return nil, fmt.Errorf("whisper returned %d: %s", status, snippet(body))
	}

	var vt verboseTranscript
	if err := json.Unmarshal(body, &vt); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}
	segs := make([]Segment, 0, len(vt.Segments))
	for _, s := range vt.Segments {
		segs = append(segs, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	// Servers that ignore verbose_json only send text.
	if len(segs) == 0 && vt.Text != "" && vt.Duration > 0 {
		segs = append(segs, Segment{End: vt.Duration, Text: vt.Text})
	}
	return normalizeSegments(segs), nil
}
