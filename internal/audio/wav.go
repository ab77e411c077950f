// Package audio converts between WAV files and mono float sample buffers.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/jonatasu/dubby/internal/dsp"
)

// ErrNotWAV is returned when a file is not a PCM WAV container.
var ErrNotWAV = errors.New("not a PCM wav file")

// Signal is a mono buffer of samples in [-1, 1] at a known sample rate.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Decode reads a PCM WAV stream and mixes it down to mono.
func Decode(r io.ReadSeeker) (Signal, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Signal{}, ErrNotWAV
	}
	if dec.WavAudioFormat != 1 {
		return Signal{}, fmt.Errorf("%w: audio format %d", ErrNotWAV, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Signal{}, fmt.Errorf("decode pcm: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	full := math.Ldexp(1, bitDepth-1)
	// 8-bit PCM is unsigned.
	var offset float64
	if bitDepth == 8 {
		offset = full
	}

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += (float64(buf.Data[i*channels+c]) - offset) / full
		}
		samples[i] = sum / float64(channels)
	}
	return Signal{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// ReadWAV decodes the WAV file at path into a mono signal.
func ReadWAV(path string) (Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return Signal{}, err
	}
	defer f.Close()

	sig, err := Decode(f)
	if err != nil {
		return Signal{}, fmt.Errorf("read %s: %w", path, err)
	}
	return sig, nil
}

// LoadMono reads path and resamples it to sampleRate when the file's native
// rate differs.
func LoadMono(path string, sampleRate int) (Signal, error) {
	sig, err := ReadWAV(path)
	if err != nil {
		return Signal{}, err
	}
	return Convert(sig, sampleRate), nil
}

// Convert resamples sig to sampleRate. The input is returned unchanged when
// the rates already match or sampleRate is not positive.
func Convert(sig Signal, sampleRate int) Signal {
	if sampleRate <= 0 || sig.SampleRate == sampleRate || sig.SampleRate <= 0 {
		return sig
	}
	num := int(float64(len(sig.Samples)) * float64(sampleRate) / float64(sig.SampleRate))
	return Signal{Samples: dsp.Resample(sig.Samples, num), SampleRate: sampleRate}
}

// Encode writes samples as a mono 16-bit PCM WAV stream. Samples outside
// [-1, 1] are clipped.
func Encode(w io.WriteSeeker, samples []float64, sampleRate int) error {
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = toPCM16(v)
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: 1},
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAV writes samples to path as mono 16-bit PCM, creating parent
// directories as needed.
func WriteWAV(path string, samples []float64, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, samples, sampleRate); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// PCM16LE converts raw little-endian signed 16-bit mono PCM bytes to floats.
// A trailing odd byte is ignored.
func PCM16LE(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		v := int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
		out[i] = float64(v) / 32768
	}
	return out
}

func toPCM16(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(v * 32767))
}
