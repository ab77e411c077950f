package transcribe

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the OpenAI audio API (or any server that
// mirrors it) using the go-openai SDK.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI recognizer. baseURL may be empty for the
// public API.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// Name returns the provider name.
func (oc *OpenAIClient) Name() string { return "openai" }

// Model returns the configured model identifier.
func (oc *OpenAIClient) Model() string { return oc.model }

// Transcribe requests verbose JSON so segment timings come back.
func (oc *OpenAIClient) Transcribe(ctx context.Context, wavPath, language string) ([]Segment, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    oc.model,
		FilePath: wavPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: LanguageHint(language),
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	segs := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segs) == 0 && resp.Text != "" && resp.Duration > 0 {
		segs = append(segs, Segment{Start: 0, End: resp.Duration, Text: resp.Text})
	}
	return normalizeSegments(segs), nil
}
