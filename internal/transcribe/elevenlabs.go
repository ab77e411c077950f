package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// A pause this long between words starts a new segment.
const segmentGap = 0.8

// ElevenLabsClient uses the ElevenLabs scribe speech-to-text models.
type ElevenLabsClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

type elevenlabsResponse struct {
	Words []elevenlabsWord `json:"words"`
}

type elevenlabsWord struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // "word", "spacing" or "audio_event"
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewElevenLabsClient defaults to scribe_v1.
func NewElevenLabsClient(apiKey, model string, timeout time.Duration) *ElevenLabsClient {
	if model == "" {
		model = "scribe_v1"
	}
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabsClient) Name() string  { return "elevenlabs" }
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe uploads wavPath with word timestamps and groups the words into
// sentence-like segments.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, wavPath, language string) ([]Segment, error) {
	if el.apiKey == "" {
		return nil, fmt.Errorf("%w: ELEVENLABS_API_KEY not set", ErrModelUnavailable)
	}

	status, body, err := postAudio(ctx, el.client, el.endpoint, http.Header{"Xi-Api-Key": {el.apiKey}}, wavPath,
		formField{"model_id", el.model},
		formField{"language_code", LanguageHint(language)},
		formField{"timestamps_granularity", "word"},
	)
	if errors.Is(err, errUnreachable) {
		return nil, fmt.Errorf("%w: elevenlabs: %w", ErrModelUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs returned %d: %s", status, snippet(body))
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode elevenlabs response: %w", err)
	}
	return groupWords(result.Words), nil
}

// groupWords joins word entries into segments, breaking on sentence
// punctuation or a pause of segmentGap seconds. Spacing entries are dropped.
func groupWords(words []elevenlabsWord) []Segment {
	var (
		segs []Segment
		cur  *Segment
		text strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = text.String()
		segs = append(segs, *cur)
		cur = nil
		text.Reset()
	}

	for _, ew := range words {
		if ew.Type != "word" {
			continue
		}
		if cur != nil && ew.Start-cur.End >= segmentGap {
			flush()
		}
		if cur == nil {
			cur = &Segment{Start: ew.Start, End: ew.End}
		} else {
			text.WriteByte(' ')
		}
		text.WriteString(strings.TrimSpace(ew.Text))
		cur.End = ew.End
		if endsSentence(ew.Text) {
			flush()
		}
	}
	flush()
	return normalizeSegments(segs)
}

func endsSentence(word string) bool {
	word = strings.TrimSpace(word)
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "?") || strings.HasSuffix(word, "!")
}
