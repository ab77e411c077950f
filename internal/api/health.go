package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jonatasu/dubby/internal/pipeline"
)

// Pinger is an optional dependency that can report connectivity.
type Pinger interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Checks        map[string]string    `json:"checks"`
	Queue         *pipeline.QueueStats `json:"queue,omitempty"`
}

// HealthOptions lists what the health check inspects. Nil members are
// reported as not_configured.
type HealthOptions struct {
	Media     MediaProbe
	Archive   JobArchive
	MQTT      Pinger
	AMQP      Pinger
	Queue     JobQueue
	Watcher   func() *WatcherStatusData
	Version   string
	StartTime time.Time
}

type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	return &HealthHandler{opts: opts}
}

// ServeHTTP reports healthy, degraded (an optional integration is down or
// ffmpeg is missing) or unhealthy (the configured database is unreachable).
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	if h.opts.Media != nil && h.opts.Media.Available() {
		checks["ffmpeg"] = "ok"
	} else {
		// Jobs still complete as audio-only without a muxer.
		checks["ffmpeg"] = "unavailable"
		degrade()
	}

	if h.opts.Archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := h.opts.Archive.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks["database"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not_configured"
	}

	for name, p := range map[string]Pinger{"mqtt": h.opts.MQTT, "amqp": h.opts.AMQP} {
		switch {
		case p == nil:
			checks[name] = "not_configured"
		case p.IsConnected():
			checks[name] = "ok"
		default:
			checks[name] = "disconnected"
			degrade()
		}
	}

	if h.opts.Watcher != nil {
		if ws := h.opts.Watcher(); ws != nil {
			checks["inbox_watcher"] = ws.Status
		}
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.opts.Version,
		UptimeSeconds: int64(time.Since(h.opts.StartTime).Seconds()),
		Checks:        checks,
	}
	if h.opts.Queue != nil {
		s := h.opts.Queue.Stats()
		resp.Queue = &s
		if s.Workers == 0 {
			checks["queue"] = "no_workers"
			degrade()
		} else {
			checks["queue"] = "ok"
		}
	}

	WriteJSON(w, httpStatus, resp)
}
