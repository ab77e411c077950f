// Package tts synthesizes translated text into mono float audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonatasu/dubby/internal/dsp"
)

// ErrEmptyAudio is returned when a backend produced no samples.
var ErrEmptyAudio = errors.New("synthesizer returned no audio")

// Synthesizer turns text into audio at sampleRate. The returned length is
// whatever the engine produced; callers fit it to their timeline.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, sampleRate int) ([]float64, error)
	Name() string
}

// FitDuration truncates or zero-pads samples to exactly n.
func FitDuration(samples []float64, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if len(samples) >= n {
		return samples[:n]
	}
	out := make([]float64, n)
	copy(out, samples)
	return out
}

// TargetSamples is the sample count covering [start, end) at sampleRate.
func TargetSamples(start, end float64, sampleRate int) int {
	n := int(math.Round((end - start) * float64(sampleRate)))
	if n < 0 {
		return 0
	}
	return n
}

// resampleTo converts engine output at fromRate to toRate.
func resampleTo(samples []float64, fromRate, toRate int) []float64 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	num := int(float64(len(samples)) * float64(toRate) / float64(fromRate))
	return dsp.Resample(samples, num)
}

// Tone is the offline fallback: a quiet 220 Hz tone whose length grows with
// the text (50 ms per character, clamped to 0.3-5 s).
type Tone struct{}

const (
	toneFreq      = 220.0
	toneAmplitude = 0.1
	tonePerChar   = 0.05
	toneMinSecs   = 0.3
	toneMaxSecs   = 5.0
)

func (Tone) Name() string { return "tone" }

func (Tone) Synthesize(_ context.Context, text, _ string, sampleRate int) ([]float64, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	secs := math.Max(toneMinSecs, math.Min(toneMaxSecs, float64(len([]rune(text)))*tonePerChar))
	n := int(float64(sampleRate) * secs)
	out := make([]float64, n)
	for i := range out {
		out[i] = toneAmplitude * math.Sin(2*math.Pi*toneFreq*float64(i)/float64(sampleRate))
	}
	return out, nil
}

// Options selects and configures a synthesizer backend.
type Options struct {
	Backend string // "tone", "openai", "elevenlabs"

	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	Voice         string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	Timeout time.Duration
}

// New builds the synthesizer named by opts.Backend.
func New(opts Options) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "tone", "fallback", "":
		return Tone{}, nil
	case "openai":
		if opts.OpenAIKey == "" && opts.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai tts requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return NewOpenAI(opts.OpenAIKey, opts.OpenAIBaseURL, opts.Model, opts.Voice), nil
	case "elevenlabs":
		if opts.ElevenLabsKey == "" || opts.ElevenLabsVoiceID == "" {
			return nil, fmt.Errorf("elevenlabs tts requires ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID")
		}
		return NewElevenLabs(opts.ElevenLabsKey, opts.ElevenLabsVoiceID, opts.ElevenLabsModel, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown TTS backend %q", opts.Backend)
	}
}
