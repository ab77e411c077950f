package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFakeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWhisperTranscribe(t *testing.T) {
	var gotLang, gotFormat, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotLang = r.FormValue("language")
		gotFormat = r.FormValue("response_format")
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			gotFile = string(b)
		}
		w.Write([]byte(`{"text":"hello world","language":"en","duration":3.0,"segments":[
			{"start":0.0,"end":1.5,"text":" hello "},
			{"start":1.5,"end":1.5,"text":"zero length"},
			{"start":1.6,"end":3.0,"text":"world"}]}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "large-v3", 5*time.Second)
	segs, err := c.Transcribe(context.Background(), writeFakeWAV(t), "EN")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLang != "en" || gotFormat != "verbose_json" || gotFile != "RIFF....WAVE" {
		t.Errorf("request: lang=%q format=%q file=%q", gotLang, gotFormat, gotFile)
	}
	want := []Segment{{0, 1.5, "hello"}, {1.6, 3.0, "world"}}
	if len(segs) != len(want) {
		t.Fatalf("segments = %+v, want %+v", segs, want)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestWhisperAutoLanguageOmitted(t *testing.T) {
	var hasLang bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		_, hasLang = r.MultipartForm.Value["language"]
		w.Write([]byte(`{"text":"hi","duration":1.0}`))
	}))
	defer srv.Close()

	segs, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), writeFakeWAV(t), "auto")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if hasLang {
		t.Error("language sent for auto detection")
	}
	if len(segs) != 1 || segs[0].End != 1.0 || segs[0].Text != "hi" {
		t.Errorf("text-only fallback segments = %+v", segs)
	}
}

func TestWhisperErrors(t *testing.T) {
	tests := []struct {
		name            string
		status          int
		wantUnavailable bool
	}{
		{"model missing", http.StatusNotFound, true},
		{"loading", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewWhisperClient(srv.URL, "", time.Second).Transcribe(context.Background(), writeFakeWAV(t), "en")
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrModelUnavailable) != tt.wantUnavailable {
				t.Errorf("errors.Is(ErrModelUnavailable) = %v for %v", !tt.wantUnavailable, err)
			}
		})
	}
}

func TestWhisperNotConfigured(t *testing.T) {
	_, err := NewWhisperClient("", "", time.Second).Transcribe(context.Background(), "x.wav", "")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestElevenLabsTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte(`{"language_code":"en","text":"Hi there. Bye","words":[
			{"text":"Hi","type":"word","start":0.1,"end":0.3},
			{"text":" ","type":"spacing","start":0.3,"end":0.35},
			{"text":"there.","type":"word","start":0.35,"end":0.7},
			{"text":"Bye","type":"word","start":2.0,"end":2.4}]}`))
	}))
	defer srv.Close()

	c := NewElevenLabsClient("secret", "", time.Second)
	c.endpoint = srv.URL
	segs, err := c.Transcribe(context.Background(), writeFakeWAV(t), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 2 || segs[0].Text != "Hi there." || segs[1].Text != "Bye" {
		t.Errorf("segments = %+v", segs)
	}
	if c.Model() != "scribe_v1" {
		t.Errorf("default model = %q", c.Model())
	}
}

func TestGroupWords(t *testing.T) {
	tests := []struct {
		name  string
		words []elevenlabsWord
		want  []string
	}{
		{"empty", nil, nil},
		{"single sentence", []elevenlabsWord{
			{Text: "one", Type: "word", Start: 0, End: 0.2},
			{Text: "two", Type: "word", Start: 0.3, End: 0.5},
		}, []string{"one two"}},
		{"pause splits", []elevenlabsWord{
			{Text: "one", Type: "word", Start: 0, End: 0.2},
			{Text: "two", Type: "word", Start: 1.5, End: 1.7},
		}, []string{"one", "two"}},
		{"question splits", []elevenlabsWord{
			{Text: "why?", Type: "word", Start: 0, End: 0.2},
			{Text: "because", Type: "word", Start: 0.3, End: 0.6},
		}, []string{"why?", "because"}},
		{"audio events skipped", []elevenlabsWord{
			{Text: "(laughs)", Type: "audio_event", Start: 0, End: 1},
			{Text: "ok", Type: "word", Start: 1, End: 1.2},
		}, []string{"ok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := groupWords(tt.words)
			var texts []string
			for _, s := range got {
				texts = append(texts, s.Text)
			}
			if strings.Join(texts, "|") != strings.Join(tt.want, "|") {
				t.Errorf("groupWords = %q, want %q", texts, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		opts     Options
		wantName string
		wantErr  bool
	}{
		{"whisper", Options{WhisperURL: "http://x"}, "whisper", false},
		{"openai", Options{OpenAIKey: "k"}, "openai", false},
		{"openai", Options{}, "", true},
		{"elevenlabs", Options{ElevenLabsKey: "k"}, "elevenlabs", false},
		{"", Options{}, "none", false},
		{"kaldi", Options{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			tt.opts.Provider = tt.provider
			r, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if r.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", r.Name(), tt.wantName)
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{Reason: "no model"}.Transcribe(context.Background(), "a.wav", "en")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("err = %v, want ErrModelUnavailable", err)
	}
}

func TestLanguageHint(t *testing.T) {
	for in, want := range map[string]string{"auto": "", "": "", " PT ": "pt", "en": "en"} {
		if got := LanguageHint(in); got != want {
			t.Errorf("LanguageHint(%q) = %q, want %q", in, got, want)
		}
	}
}
