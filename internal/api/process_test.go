package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/jobs"
)

func newTestProcessHandler(t *testing.T, runner JobRunner, queue JobQueue) (*ProcessHandler, string) {
	t.Helper()
	uploads := t.TempDir()
	return NewProcessHandler(ProcessOptions{
		Runner:         runner,
		Queue:          queue,
		UploadsDir:     uploads,
		AllowedExts:    map[string]bool{".mp4": true, ".wav": true},
		MaxUploadBytes: 1 << 20,
		DefaultSrcLang: "en",
		DefaultDstLang: "pt",
		Log:            zerolog.Nop(),
	}), uploads
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func postProcess(t *testing.T, h *ProcessHandler, target string, fields map[string]string, data []byte, name string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := buildMultipartForm(t, fields, data, name)
	req := httptest.NewRequest("POST", target, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Process(rec, req)
	return rec
}

func TestProcess_SyncReturnsArtifact(t *testing.T) {
	runner := newFakeRunner(t.TempDir())
	h, uploads := newTestProcessHandler(t, runner, nil)

	rec := postProcess(t, h, "/api/v1/process", nil, []byte("fake-video"), "clip.MP4")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Job-ID"); got != "job-1" {
		t.Errorf("X-Job-ID = %q", got)
	}
	if rec.Body.String() != "RIFFdubbed" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	req := runner.lastReq
	if req.SrcLang != "en" || req.DstLang != "pt" || req.AudioOnly || req.Source != "http" {
		t.Errorf("request = %+v", req)
	}
	if !req.RemoveInput {
		t.Error("stored upload not marked for removal after the job")
	}
	entries, _ := os.ReadDir(uploads)
	if len(entries) != 1 {
		t.Fatalf("uploads = %v", entries)
	}
	name := entries[0].Name()
	if name == "clip.MP4" || len(name) != 32+len(".mp4") {
		t.Errorf("upload stored as %q, want random hex name with .mp4", name)
	}
}

func TestProcess_FormOverrides(t *testing.T) {
	runner := newFakeRunner(t.TempDir())
	h, _ := newTestProcessHandler(t, runner, nil)

	rec := postProcess(t, h, "/api/v1/process", map[string]string{
		"src_lang":   "es",
		"dst_lang":   "en",
		"audio_only": "true",
	}, []byte("RIFF"), "talk.wav")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if r := runner.lastReq; r.SrcLang != "es" || r.DstLang != "en" || !r.AudioOnly {
		t.Errorf("request = %+v", r)
	}
}

func TestProcess_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		file   string
		status int
	}{
		{"empty_file", []byte{}, "clip.mp4", http.StatusBadRequest},
		{"missing_file", nil, "", http.StatusBadRequest},
		{"too_large", bytes.Repeat([]byte("x"), 1<<20+1), "clip.mp4", http.StatusRequestEntityTooLarge},
		{"bad_extension", []byte("MZ"), "setup.exe", http.StatusUnsupportedMediaType},
		{"no_extension", []byte("data"), "README", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner(t.TempDir())
			h, uploads := newTestProcessHandler(t, runner, nil)
			rec := postProcess(t, h, "/api/v1/process", nil, tt.data, tt.file)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.status, rec.Body.String())
			}
			if runner.calls != 0 {
				t.Error("pipeline ran for a rejected upload")
			}
			if entries, _ := os.ReadDir(uploads); len(entries) != 0 {
				t.Errorf("rejected upload stored: %v", entries)
			}
		})
	}
}

func TestProcess_PipelineFailure(t *testing.T) {
	runner := newFakeRunner(t.TempDir())
	runner.err = fmt.Errorf("recognize: %w", errBoom)
	h, _ := newTestProcessHandler(t, runner, nil)

	rec := postProcess(t, h, "/api/v1/process", nil, []byte("v"), "a.mp4")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Job-ID") != "job-1" {
		t.Error("failed job should still report its id")
	}
	var body ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "processing failed" || body.Detail != "recognize: boom" {
		t.Errorf("body = %+v", body)
	}
}

func TestProcess_DuplicateJob(t *testing.T) {
	runner := newFakeRunner(t.TempDir())
	runner.err = fmt.Errorf("create job x: %w", jobs.ErrJobExists)
	h, _ := newTestProcessHandler(t, runner, nil)

	rec := postProcess(t, h, "/api/v1/process", nil, []byte("v"), "a.mp4")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestProcess_Async(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		runner := newFakeRunner(t.TempDir())
		queue := &fakeQueue{}
		h, _ := newTestProcessHandler(t, runner, queue)

		rec := postProcess(t, h, "/api/v1/process?async=true", nil, []byte("v"), "a.mp4")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		json.Unmarshal(rec.Body.Bytes(), &body)
		if body["job_id"] != "queued-1" || body["status_url"] != "/api/v1/jobs/queued-1" {
			t.Errorf("body = %v", body)
		}
		if runner.calls != 0 || len(queue.queued) != 1 {
			t.Errorf("runner calls = %d, queued = %d", runner.calls, len(queue.queued))
		}
	})

	t.Run("queue_full_removes_upload", func(t *testing.T) {
		h, uploads := newTestProcessHandler(t, newFakeRunner(t.TempDir()), &fakeQueue{full: true})
		rec := postProcess(t, h, "/api/v1/process?async=true", nil, []byte("v"), "a.mp4")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d", rec.Code)
		}
		if entries, _ := os.ReadDir(uploads); len(entries) != 0 {
			t.Errorf("upload kept after rejection: %v", entries)
		}
	})

	t.Run("no_queue", func(t *testing.T) {
		h, _ := newTestProcessHandler(t, newFakeRunner(t.TempDir()), nil)
		rec := postProcess(t, h, "/api/v1/process?async=1", nil, []byte("v"), "a.mp4")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d", rec.Code)
		}
	})
}
