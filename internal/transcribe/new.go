package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a recognizer backend.
type Options struct {
	Provider string // "whisper", "openai", "elevenlabs", "none"

	WhisperURL     string
	WhisperModel   string
	WhisperTimeout time.Duration

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	ElevenLabsKey   string
	ElevenLabsModel string
}

// New builds the recognizer named by opts.Provider.
func New(opts Options) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "whisper":
		return NewWhisperClient(opts.WhisperURL, opts.WhisperModel, opts.WhisperTimeout), nil
	case "openai":
		if opts.OpenAIKey == "" && opts.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai recognizer requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return NewOpenAIClient(opts.OpenAIKey, opts.OpenAIBaseURL, opts.OpenAIModel), nil
	case "elevenlabs":
		return NewElevenLabsClient(opts.ElevenLabsKey, opts.ElevenLabsModel, opts.WhisperTimeout), nil
	case "none", "":
		return Unavailable{Reason: "no ASR provider configured"}, nil
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", opts.Provider)
	}
}
