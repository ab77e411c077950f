package api

import (
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
)

// MediaProbe reports whether the media tool is usable.
type MediaProbe interface {
	Available() bool
	Binary() string
}

// StatusOptions describes the running service for GET /status.
type StatusOptions struct {
	Runner     JobRunner
	Media      MediaProbe
	Version    string
	StartTime  time.Time
	UploadsDir string
	OutputsDir string
	ModelsDir  string
	Backends   BackendInfo
}

// BackendInfo names the collaborators chosen at startup.
type BackendInfo struct {
	ASRProvider string `json:"asr_provider"`
	ASRModel    string `json:"asr_model"`
	Translation string `json:"translation"`
	TTS         string `json:"tts"`
	VoiceClone  string `json:"voice_clone"`
}

// DiskUsage is filesystem capacity in bytes.
type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type StatusHandler struct {
	opts StatusOptions
}

func NewStatusHandler(opts StatusOptions) *StatusHandler {
	return &StatusHandler{opts: opts}
}

// Routes registers status routes on the given router.
func (h *StatusHandler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/metrics", h.Metrics)
}

// Status reports runtime, tooling, paths, disk, failure counters and the
// five most recent jobs.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ffmpeg := map[string]any{"available": false}
	if h.opts.Media != nil {
		ffmpeg["available"] = h.opts.Media.Available()
		ffmpeg["binary"] = h.opts.Media.Binary()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"app":            "dubby",
		"version":        h.opts.Version,
		"go":             runtime.Version(),
		"platform":       runtime.GOOS + "/" + runtime.GOARCH,
		"uptime_seconds": int64(time.Since(h.opts.StartTime).Seconds()),
		"ffmpeg":         ffmpeg,
		"paths": map[string]string{
			"uploads": absPath(h.opts.UploadsDir),
			"outputs": absPath(h.opts.OutputsDir),
			"models":  absPath(h.opts.ModelsDir),
		},
		"backends": h.opts.Backends,
		"disk": map[string]DiskUsage{
			"workspace": diskUsage("."),
			"outputs":   diskUsage(h.opts.OutputsDir),
		},
		"metrics":     h.opts.Runner.Metrics(),
		"recent_jobs": h.opts.Runner.Recent(5),
	})
}

// Metrics returns the failure counter snapshot.
func (h *StatusHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.opts.Runner.Metrics())
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
