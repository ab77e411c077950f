package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// reconnectHintMs is sent as the SSE retry field.
const reconnectHintMs = 3000

type EventsHandler struct {
	events    EventSource
	keepalive time.Duration
}

func NewEventsHandler(events EventSource) *EventsHandler {
	return &EventsHandler{events: events, keepalive: 15 * time.Second}
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}

// StreamEvents streams job lifecycle events over SSE.
// Filters: ?types=job_phase,job_failed and ?job_id=a,b. A reconnecting
// client's Last-Event-ID gets the buffered events it missed first.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}
	filter := EventFilter{
		Types:  QueryStringList(r, "types"),
		JobIDs: QueryStringList(r, "job_id"),
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.events.Subscribe(filter)
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(w, "retry: %d\n\n", reconnectHintMs)

	seen := make(map[string]bool)
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.events.ReplaySince(lastEventID, filter) {
			seen[e.ID] = true
			writeEvent(w, e)
		}
	}
	if err := rc.Flush(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("response writer cannot stream")
		return
	}

	log := hlog.FromRequest(r)
	log.Info().Strs("types", filter.Types).Strs("job_ids", filter.JobIDs).Msg("SSE client connected")

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if seen[event.ID] {
				delete(seen, event.ID)
				continue
			}
			writeEvent(w, event)
			if rc.Flush() != nil {
				return
			}
		case <-keepalive.C:
			io.WriteString(w, ": keepalive\n\n")
			if rc.Flush() != nil {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, e SSEEvent) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}
