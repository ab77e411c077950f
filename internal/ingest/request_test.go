package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jonatasu/dubby/internal/pipeline"
)

// fakeQueue records enqueued requests and refuses them when full is set.
type fakeQueue struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	full bool
}

func (q *fakeQueue) Enqueue(req pipeline.Request) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return "", false
	}
	q.reqs = append(q.reqs, req)
	return "job-" + string(rune('a'+len(q.reqs)-1)), true
}

func (q *fakeQueue) requests() []pipeline.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pipeline.Request(nil), q.reqs...)
}

func writeMedia(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("RIFFfake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ── DecodeRequest ─────────────────────────────────────────────────────

func TestDecodeRequest(t *testing.T) {
	dir := t.TempDir()
	media := writeMedia(t, dir, "talk.mp4")
	defaults := Defaults{SrcLang: "en", DstLang: "pt"}

	t.Run("defaults_fill_languages", func(t *testing.T) {
		req, err := DecodeRequest([]byte(`{"input_path":"`+media+`"}`), defaults)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.InputPath != media || req.SrcLang != "en" || req.DstLang != "pt" || req.AudioOnly {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("explicit_fields_win", func(t *testing.T) {
		body := `{"input_path":"  ` + media + ` ","src_lang":"es","dst_lang":"fr","audio_only":true,"job_id":"mine"}`
		req, err := DecodeRequest([]byte(body), defaults)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.InputPath != media || req.SrcLang != "es" || req.DstLang != "fr" || !req.AudioOnly || req.JobID != "mine" {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("foreign_path_found_in_search_dir", func(t *testing.T) {
		d := defaults
		d.SearchDirs = []string{dir}
		req, err := DecodeRequest([]byte(`{"input_path":"/srv/other-host/talk.mp4"}`), d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.InputPath != media {
			t.Errorf("InputPath = %q, want %q", req.InputPath, media)
		}
	})

	invalid := []struct {
		name string
		body string
	}{
		{"not_json", `{"input_path":`},
		{"missing_path", `{"src_lang":"en"}`},
		{"blank_path", `{"input_path":"   "}`},
		{"nonexistent", `{"input_path":"` + filepath.Join(dir, "nope.mp4") + `"}`},
		{"directory", `{"input_path":"` + dir + `"}`},
		{"job_id_escapes", `{"input_path":"` + media + `","job_id":"../../escaped"}`},
		{"job_id_with_slash", `{"input_path":"` + media + `","job_id":"a/b"}`},
		{"job_id_too_long", `{"input_path":"` + media + `","job_id":"` + strings.Repeat("x", 65) + `"}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.body), defaults)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

// ── submit ────────────────────────────────────────────────────────────

func TestSubmitSetsSource(t *testing.T) {
	q := &fakeQueue{}
	id, ok := submit(q, pipeline.Request{InputPath: "a.mp4", Source: "http"}, "mqtt")
	if !ok || id == "" {
		t.Fatalf("submit = %q, %v", id, ok)
	}
	if got := q.requests()[0].Source; got != "mqtt" {
		t.Errorf("Source = %q, want mqtt", got)
	}

	q.full = true
	if _, ok := submit(q, pipeline.Request{InputPath: "b.mp4"}, "mqtt"); ok {
		t.Error("submit to a full queue reported success")
	}
}
