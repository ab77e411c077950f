package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestToneDuration(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"short text clamps to minimum", "hi", 4800},
		{"scales per character", strings.Repeat("a", 20), 16000},
		{"long text clamps to maximum", strings.Repeat("a", 500), 80000},
		{"empty", "", 4800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Tone{}.Synthesize(context.Background(), tt.text, "pt", 16000)
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != tt.want {
				t.Errorf("len = %d, want %d", len(out), tt.want)
			}
		})
	}
}

func TestToneAmplitude(t *testing.T) {
	out, _ := Tone{}.Synthesize(context.Background(), "hello", "en", 16000)
	var peak float64
	for _, v := range out {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0.1+1e-9 || peak < 0.09 {
		t.Errorf("peak = %v, want ~0.1", peak)
	}
	if _, err := (Tone{}).Synthesize(context.Background(), "x", "en", 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestFitDuration(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		n    int
		want []float64
	}{
		{"truncate", []float64{1, 2, 3}, 2, []float64{1, 2}},
		{"pad", []float64{1}, 3, []float64{1, 0, 0}},
		{"exact", []float64{1, 2}, 2, []float64{1, 2}},
		{"zero", []float64{1, 2}, 0, []float64{}},
		{"nil input", nil, 2, []float64{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitDuration(tt.in, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestTargetSamples(t *testing.T) {
	if got := TargetSamples(0, 2, 16000); got != 32000 {
		t.Errorf("TargetSamples(0,2) = %d", got)
	}
	// 0.1 + 0.2 style float error must not lose a sample.
	if got := TargetSamples(0.1, 0.3, 10); got != 2 {
		t.Errorf("TargetSamples(0.1,0.3,10) = %d, want 2", got)
	}
	if got := TargetSamples(2, 1, 16000); got != 0 {
		t.Errorf("reversed segment = %d, want 0", got)
	}
}

func pcmBody(n int) []byte {
	b := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(1000*(i%7))))
	}
	return b
}

func TestElevenLabsSynthesize(t *testing.T) {
	var got elevenLabsRequest
	var gotPath, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(pcmBody(1600))
	}))
	defer srv.Close()

	el := NewElevenLabs("key", "voice-1", "", time.Second)
	el.baseURL = srv.URL + "/v1/text-to-speech/"
	out, err := el.Synthesize(context.Background(), "olá", "pt", 8000)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotPath != "/v1/text-to-speech/voice-1" || gotFormat != "pcm_16000" {
		t.Errorf("request path=%q format=%q", gotPath, gotFormat)
	}
	if got.Text != "olá" || got.ModelID != "eleven_multilingual_v2" || got.LanguageCode != "pt" {
		t.Errorf("request body = %+v", got)
	}
	if len(out) != 800 {
		t.Errorf("len = %d, want 800 after resampling to 8 kHz", len(out))
	}
}

func TestElevenLabsErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api error", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "quota", http.StatusTooManyRequests) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			el := NewElevenLabs("key", "v", "", time.Second)
			el.baseURL = srv.URL + "/"
			if _, err := el.Synthesize(context.Background(), "x", "en", 16000); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOpenAISynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			ResponseFormat string `json:"response_format"`
			Voice          string `json:"voice"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != "pcm" || req.Voice != "alloy" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pcmBody(2400))
	}))
	defer srv.Close()

	o := NewOpenAI("key", srv.URL+"/v1", "", "alloy")
	out, err := o.Synthesize(context.Background(), "hello", "en", 16000)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out) != 1600 {
		t.Errorf("len = %d, want 1600 (100 ms at 16 kHz)", len(out))
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantName string
		wantErr  bool
	}{
		{"default", Options{}, "tone", false},
		{"openai", Options{Backend: "openai", OpenAIKey: "k"}, "openai", false},
		{"openai missing key", Options{Backend: "openai"}, "", true},
		{"elevenlabs", Options{Backend: "elevenlabs", ElevenLabsKey: "k", ElevenLabsVoiceID: "v"}, "elevenlabs", false},
		{"elevenlabs missing voice", Options{Backend: "elevenlabs", ElevenLabsKey: "k"}, "", true},
		{"unknown", Options{Backend: "festival"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
			}
		})
	}
}
