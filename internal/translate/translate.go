// Package translate maps recognized text into the target language. Backends
// may fail; the Service turns every failure into a fallback Result so callers
// never see an error.
package translate

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// ErrEmptyTranslation is reported when a backend answers with blank text.
var ErrEmptyTranslation = errors.New("empty translation")

// Result is the outcome of one translation. When Fallback is set, Text came
// from the dictionary or is the input unchanged, and Reason holds the backend
// error that caused it (nil when no backend was attempted).
type Result struct {
	Text     string
	Fallback bool
	Reason   error
}

// Failed reports whether a backend was attempted and did not deliver.
func (r Result) Failed() bool { return r.Fallback && r.Reason != nil }

// Backend is a translation engine that may fail.
type Backend interface {
	Translate(ctx context.Context, text, src, dst string) (string, error)
	Name() string
}

// Service translates text with a backend and degrades to the dictionary.
type Service struct {
	backend Backend // nil means dictionary only
	dict    *Dictionary
	log     zerolog.Logger
}

// NewService creates a translation service. backend may be nil.
func NewService(backend Backend, log zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		dict:    NewDictionary(),
		log:     log.With().Str("component", "translate").Logger(),
	}
}

// Name returns the backend name, or "dictionary" when there is none.
func (s *Service) Name() string {
	if s.backend == nil {
		return "dictionary"
	}
	return s.backend.Name()
}

// Translate never fails. Identical languages return text unchanged; backend
// errors and blank answers fall back to the dictionary.
func (s *Service) Translate(ctx context.Context, text, src, dst string) Result {
	src, dst = NormalizeLang(src), NormalizeLang(dst)
	if strings.TrimSpace(text) == "" || src == dst {
		return Result{Text: text}
	}
	if s.backend == nil {
		return Result{Text: s.dict.Translate(text, src, dst), Fallback: true}
	}

	out, err := s.backend.Translate(ctx, text, src, dst)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ErrEmptyTranslation
	}
	if err != nil {
		s.log.Warn().Err(err).Str("backend", s.backend.Name()).Str("src", src).Str("dst", dst).Msg("translation failed, using dictionary fallback")
		return Result{Text: s.dict.Translate(text, src, dst), Fallback: true, Reason: err}
	}
	return Result{Text: out}
}

var nonAlnum = regexp.MustCompile("[^a-z0-9-]+")

// languageNames maps spelled-out names to ISO 639-1 codes.
var languageNames = map[string]string{
	"english":    "en",
	"portuguese": "pt",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"russian":    "ru",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"arabic":     "ar",
	"hindi":      "hi",
}

// NormalizeLang lowercases a language code and reduces regional variants
// ("pt-BR", "en_US") to their base code. "auto" is kept as is.
func NormalizeLang(lang string) string {
	lower := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lower]; ok {
		return code
	}
	lower = strings.ReplaceAll(lower, "_", "-")
	lower = nonAlnum.ReplaceAllString(lower, "")
	base, _, _ := strings.Cut(lower, "-")
	return base
}
