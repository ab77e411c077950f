package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Clone strategy names accepted by Select.
const (
	ModeOff      = "off"
	ModeSpectral = "spectral"
	ModeNeural   = "neural"
)

// ErrNoReference is reported when the reference recording does not exist.
var ErrNoReference = errors.New("reference recording not found")

// Outcome is the result of a clone attempt. Samples is always usable: when
// Applied is false it is the unmodified input and Reason says why.
type Outcome struct {
	Samples []float64
	Applied bool
	Profile *Profile
	Reason  error
}

// Cloner reshapes synthesized speech toward a reference speaker. Clone must
// never fail; any problem degrades to returning base unchanged.
type Cloner interface {
	Name() string
	Clone(base []float64, referencePath string, sampleRate int) Outcome
}

// Passthrough leaves audio untouched.
type Passthrough struct{}

func (Passthrough) Name() string { return ModeOff }

func (Passthrough) Clone(base []float64, _ string, _ int) Outcome {
	return Outcome{Samples: base, Reason: errors.New("voice cloning disabled")}
}

// SpectralStage matches pitch and brightness of the reference using signal
// statistics only.
type SpectralStage struct {
	opts ApplyOptions
	log  zerolog.Logger
}

// NewSpectralStage creates a spectral cloner with the given strengths.
func NewSpectralStage(opts ApplyOptions, log zerolog.Logger) *SpectralStage {
	return &SpectralStage{opts: opts, log: log}
}

func (s *SpectralStage) Name() string { return ModeSpectral }

// Clone analyzes referencePath and applies the resulting profile to base.
// Panics from decoding or filtering are recovered into a passthrough Outcome.
func (s *SpectralStage) Clone(base []float64, referencePath string, sampleRate int) (out Outcome) {
	out = Outcome{Samples: base}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("reference", referencePath).Msg("spectral clone panicked, using unmodified audio")
			out = Outcome{Samples: base, Reason: fmt.Errorf("spectral clone panic: %v", r)}
		}
	}()

	if _, err := os.Stat(referencePath); err != nil {
		out.Reason = fmt.Errorf("%w: %s", ErrNoReference, referencePath)
		s.log.Warn().Str("reference", referencePath).Msg("reference recording missing, using unmodified audio")
		return out
	}

	profile, err := AnalyzeFile(referencePath, sampleRate)
	if err != nil {
		out.Reason = err
		s.log.Warn().Err(err).Str("reference", referencePath).Msg("no usable voice profile, using unmodified audio")
		return out
	}
	s.log.Info().
		Float64("pitch_hz", profile.PitchHz).
		Float64("energy_rms", profile.EnergyRMS).
		Float64("centroid_hz", profile.SpectralCentroidHz).
		Msg("reference voice profile")

	return Outcome{
		Samples: Apply(base, sampleRate, profile, s.opts),
		Applied: true,
		Profile: &profile,
	}
}

// NeuralPlaceholder stands in for an external neural cloning model. The model
// is probed for readiness, but synthesis is not wired yet so every call falls
// back to the spectral stage.
type NeuralPlaceholder struct {
	ModelsDir string
	CLI       string
	fallback  Cloner
	log       zerolog.Logger
}

// NewNeuralPlaceholder creates a neural cloner that defers to fallback.
func NewNeuralPlaceholder(modelsDir, cli string, fallback Cloner, log zerolog.Logger) *NeuralPlaceholder {
	return &NeuralPlaceholder{ModelsDir: modelsDir, CLI: cli, fallback: fallback, log: log}
}

func (n *NeuralPlaceholder) Name() string { return ModeNeural }

func (n *NeuralPlaceholder) Clone(base []float64, referencePath string, sampleRate int) Outcome {
	if NeuralReady(n.ModelsDir, n.CLI) {
		n.log.Info().Msg("neural voice model ready but synthesis not implemented, using spectral fallback")
	} else {
		n.log.Debug().Msg("neural voice model unavailable, using spectral fallback")
	}
	return n.fallback.Clone(base, referencePath, sampleRate)
}

// NeuralReady reports whether modelsDir holds model checkpoints (*.pt) and the
// CLI answers --help successfully.
func NeuralReady(modelsDir, cli string) bool {
	if modelsDir == "" || cli == "" {
		return false
	}
	matches, err := filepath.Glob(filepath.Join(modelsDir, "*.pt"))
	if err != nil || len(matches) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, cli, "--help").Run() == nil
}

// SelectOptions configures Select.
type SelectOptions struct {
	Mode      string
	Apply     ApplyOptions
	ModelsDir string
	CLI       string
}

// Select builds the Cloner named by opts.Mode. Unknown modes are an error.
func Select(opts SelectOptions, log zerolog.Logger) (Cloner, error) {
	log = log.With().Str("component", "voice").Logger()
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case ModeOff, "":
		return Passthrough{}, nil
	case ModeSpectral:
		return NewSpectralStage(opts.Apply, log), nil
	case ModeNeural:
		return NewNeuralPlaceholder(opts.ModelsDir, opts.CLI, NewSpectralStage(opts.Apply, log), log), nil
	default:
		return nil, fmt.Errorf("unknown voice clone mode %q", opts.Mode)
	}
}
