package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jonatasu/dubby/internal/jobs"
	"github.com/jonatasu/dubby/internal/metrics"
	"github.com/jonatasu/dubby/internal/pipeline"
)

// ProcessOptions configures the upload endpoint.
type ProcessOptions struct {
	Runner         JobRunner
	Queue          JobQueue // nil disables ?async=true
	UploadsDir     string
	AllowedExts    map[string]bool
	MaxUploadBytes int64
	DefaultSrcLang string
	DefaultDstLang string
	Log            zerolog.Logger
}

// ProcessHandler accepts media uploads and runs the dubbing pipeline on them.
type ProcessHandler struct {
	opts ProcessOptions
	log  zerolog.Logger
}

// NewProcessHandler creates a new upload handler.
func NewProcessHandler(opts ProcessOptions) *ProcessHandler {
	return &ProcessHandler{
		opts: opts,
		log:  opts.Log.With().Str("handler", "process").Logger(),
	}
}

// Routes registers the process endpoint.
func (h *ProcessHandler) Routes(r chi.Router) {
	r.Post("/process", h.Process)
}

// uploadError carries the HTTP status for a rejected upload.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// Process handles POST /api/v1/process.
// Multipart field "file" holds the media; optional fields src_lang, dst_lang
// and audio_only override the defaults. By default the request blocks until
// the job finishes and the artifact is returned with an X-Job-ID header;
// ?async=true queues the job and returns 202 with its ID.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	req, err := h.receive(w, r)
	if err != nil {
		metrics.IntakeRequestsTotal.WithLabelValues("http", "rejected").Inc()
		var ue *uploadError
		if errors.As(err, &ue) {
			h.log.Warn().Int("status", ue.status).Str("reason", ue.msg).Msg("upload rejected")
			WriteError(w, ue.status, ue.msg)
			return
		}
		h.log.Error().Err(err).Msg("failed to store upload")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if async, _ := QueryBool(r, "async"); async {
		h.enqueue(w, req)
		return
	}

	metrics.IntakeRequestsTotal.WithLabelValues("http", "accepted").Inc()
	// A client disconnect must not abort a phase midway.
	id, output, err := h.opts.Runner.Run(context.WithoutCancel(r.Context()), req)
	if id != "" {
		w.Header().Set("X-Job-ID", id)
	}
	if err != nil {
		if errors.Is(err, jobs.ErrJobExists) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Str("job_id", id).Msg("pipeline failure")
		WriteErrorDetail(w, http.StatusInternalServerError, "processing failed", err.Error())
		return
	}
	h.sendArtifact(w, output)
}

func (h *ProcessHandler) enqueue(w http.ResponseWriter, req pipeline.Request) {
	if h.opts.Queue == nil {
		os.Remove(req.InputPath)
		metrics.IntakeRequestsTotal.WithLabelValues("http", "rejected").Inc()
		WriteError(w, http.StatusServiceUnavailable, "async processing not enabled")
		return
	}
	id, ok := h.opts.Queue.Enqueue(req)
	if !ok {
		os.Remove(req.InputPath)
		metrics.IntakeRequestsTotal.WithLabelValues("http", "rejected").Inc()
		WriteError(w, http.StatusServiceUnavailable, "job queue full or job already queued")
		return
	}
	metrics.IntakeRequestsTotal.WithLabelValues("http", "queued").Inc()
	w.Header().Set("X-Job-ID", id)
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     id,
		"status":     "queued",
		"status_url": "/api/v1/jobs/" + id,
	})
}

// receive validates the multipart upload and stores it under a random name.
func (h *ProcessHandler) receive(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	limit := h.opts.MaxUploadBytes
	// Leave room for the multipart envelope; the file itself is checked below.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return pipeline.Request{}, h.tooLarge()
		}
		return pipeline.Request{}, &uploadError{http.StatusBadRequest, "invalid multipart form: " + err.Error()}
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.Request{}, &uploadError{http.StatusBadRequest, "missing file field"}
	}
	defer file.Close()

	if header.Size == 0 {
		return pipeline.Request{}, &uploadError{http.StatusBadRequest, "empty file upload"}
	}
	if header.Size > limit {
		return pipeline.Request{}, h.tooLarge()
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !h.opts.AllowedExts[ext] {
		if ext == "" {
			ext = "(none)"
		}
		return pipeline.Request{}, &uploadError{http.StatusUnsupportedMediaType, fmt.Sprintf("extension %s not allowed", ext)}
	}

	if err := os.MkdirAll(h.opts.UploadsDir, 0o755); err != nil {
		return pipeline.Request{}, fmt.Errorf("create uploads dir: %w", err)
	}
	dest := filepath.Join(h.opts.UploadsDir, strings.ReplaceAll(uuid.NewString(), "-", "")+ext)
	out, err := os.Create(dest)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		return pipeline.Request{}, fmt.Errorf("write upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return pipeline.Request{}, fmt.Errorf("close upload file: %w", err)
	}

	req := pipeline.Request{
		InputPath:   dest,
		SrcLang:     FormString(r, "src_lang", h.opts.DefaultSrcLang),
		DstLang:     FormString(r, "dst_lang", h.opts.DefaultDstLang),
		AudioOnly:   FormBool(r, "audio_only"),
		Source:      "http",
		RemoveInput: true,
	}
	h.log.Info().
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Str("stored_as", filepath.Base(dest)).
		Msg("upload accepted")
	return req, nil
}

func (h *ProcessHandler) tooLarge() *uploadError {
	return &uploadError{
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("file exceeds %d MB limit", h.opts.MaxUploadBytes>>20),
	}
}

func (h *ProcessHandler) sendArtifact(w http.ResponseWriter, path string) {
	f, err := os.Open(path)
	if err != nil {
		h.log.Error().Err(err).Str("output", path).Msg("artifact missing after completion")
		WriteError(w, http.StatusInternalServerError, "output not readable")
		return
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
