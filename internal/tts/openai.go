package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jonatasu/dubby/internal/audio"
)

// OpenAI's raw PCM speech output is 24 kHz signed 16-bit mono.
const openAIPCMRate = 24000

// OpenAI synthesizes through the OpenAI speech endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
	voice  string
}

// NewOpenAI creates an OpenAI speech synthesizer.
func NewOpenAI(apiKey, baseURL, model, voice string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceNova)
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, voice: voice}
}

func (o *OpenAI) Name() string { return "openai" }

// Synthesize requests raw PCM and resamples it to sampleRate.
func (o *OpenAI) Synthesize(ctx context.Context, text, _ string, sampleRate int) ([]float64, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          text,
		Voice:          openai.SpeechVoice(o.voice),
		ResponseFormat: openai.SpeechResponseFormat("pcm"),
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", err)
	}
	defer resp.Close()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	samples := audio.PCM16LE(raw)
	if len(samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return resampleTo(samples, openAIPCMRate, sampleRate), nil
}
