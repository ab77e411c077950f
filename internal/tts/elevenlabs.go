package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonatasu/dubby/internal/audio"
)

const (
	elevenLabsTTSBase = "https://api.elevenlabs.io/v1/text-to-speech/"
	elevenLabsPCMRate = 16000
)

// ElevenLabs calls the ElevenLabs text-to-speech API for a fixed voice.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	client  *http.Client
}

// NewElevenLabs creates an ElevenLabs synthesizer.
func NewElevenLabs(apiKey, voiceID, model string, timeout time.Duration) *ElevenLabs {
	if model == "" {
		model = "eleven_multilingual_v2"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   model,
		baseURL: elevenLabsTTSBase,
		client:  &http.Client{Timeout: timeout},
	}
}

func (el *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text         string `json:"text"`
	ModelID      string `json:"model_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Synthesize requests 16 kHz PCM and resamples it to sampleRate.
func (el *ElevenLabs) Synthesize(ctx context.Context, text, lang string, sampleRate int) ([]float64, error) {
	payload, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: el.model, LanguageCode: lang})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := el.baseURL + url.PathEscape(el.voiceID) + "?output_format=pcm_16000"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs API error (status %d): %s", resp.StatusCode, string(body))
	}

	samples := audio.PCM16LE(body)
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return resampleTo(samples, elevenLabsPCMRate, sampleRate), nil
}
