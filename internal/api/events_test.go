package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// stubEvents implements EventSource with a fixed backlog and live channel.
type stubEvents struct {
	replay     []SSEEvent
	live       []SSEEvent
	lastFilter EventFilter
	lastID     string
	cancelled  bool
}

func (s *stubEvents) Subscribe(filter EventFilter) (<-chan SSEEvent, func()) {
	s.lastFilter = filter
	ch := make(chan SSEEvent, len(s.live))
	for _, e := range s.live {
		ch <- e
	}
	close(ch)
	return ch, func() { s.cancelled = true }
}

func (s *stubEvents) ReplaySince(lastEventID string, filter EventFilter) []SSEEvent {
	s.lastID = lastEventID
	return s.replay
}

func TestStreamEvents(t *testing.T) {
	src := &stubEvents{
		replay: []SSEEvent{{ID: "1-1", Type: "job_started", Data: []byte(`{"job_id":"a"}`)}},
		live:   []SSEEvent{{ID: "1-2", Type: "job_phase", Data: []byte(`{"phase":"extract_audio"}`)}},
	}
	req := httptest.NewRequest("GET", "/events/stream?types=job_phase,job_started&job_id=a", nil)
	req.Header.Set("Last-Event-ID", "1-0")
	rec := httptest.NewRecorder()

	NewEventsHandler(src).StreamEvents(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	want := "retry: 3000\n\n" +
		"id: 1-1\nevent: job_started\ndata: {\"job_id\":\"a\"}\n\n" +
		"id: 1-2\nevent: job_phase\ndata: {\"phase\":\"extract_audio\"}\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if src.lastID != "1-0" {
		t.Errorf("replay id = %q", src.lastID)
	}
	if got := strings.Join(src.lastFilter.Types, ","); got != "job_phase,job_started" {
		t.Errorf("types = %q", got)
	}
	if len(src.lastFilter.JobIDs) != 1 || src.lastFilter.JobIDs[0] != "a" {
		t.Errorf("job ids = %v", src.lastFilter.JobIDs)
	}
	if !src.cancelled {
		t.Error("subscription not cancelled")
	}
}

func TestStreamEventsSkipsReplayedDuplicates(t *testing.T) {
	dup := SSEEvent{ID: "1-5", Type: "job_completed", Data: []byte(`{}`)}
	src := &stubEvents{replay: []SSEEvent{dup}, live: []SSEEvent{dup}}
	req := httptest.NewRequest("GET", "/events/stream", nil)
	req.Header.Set("Last-Event-ID", "1-4")
	rec := httptest.NewRecorder()

	NewEventsHandler(src).StreamEvents(rec, req)

	if n := strings.Count(rec.Body.String(), "id: 1-5"); n != 1 {
		t.Errorf("event 1-5 written %d times, want 1", n)
	}
}

func TestStreamEventsUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	NewEventsHandler(nil).StreamEvents(rec, httptest.NewRequest("GET", "/events/stream", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// ── EventFilter ───────────────────────────────────────────────────────

func TestEventFilterMatches(t *testing.T) {
	evt := SSEEvent{Type: "job_phase", JobID: "abc"}
	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"empty_filter", EventFilter{}, true},
		{"type_match", EventFilter{Types: []string{"job_started", " job_phase"}}, true},
		{"type_miss", EventFilter{Types: []string{"job_failed"}}, false},
		{"job_match", EventFilter{JobIDs: []string{"abc"}}, true},
		{"job_miss", EventFilter{JobIDs: []string{"xyz"}}, false},
		{"both_match", EventFilter{Types: []string{"job_phase"}, JobIDs: []string{"abc"}}, true},
		{"type_ok_job_miss", EventFilter{Types: []string{"job_phase"}, JobIDs: []string{"xyz"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(evt); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}
