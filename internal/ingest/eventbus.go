package ingest

import (
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jonatasu/dubby/internal/api"
	"github.com/jonatasu/dubby/internal/metrics"
)

const subscriberBuffer = 64

// EventBus fans job events out to stream subscribers and sinks, and keeps
// the most recent events so a reconnecting client can catch up.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextSub int
	sinks   []func(api.SSEEvent)

	histMu  sync.Mutex
	history []api.SSEEvent
	limit   int
	seq     uint64
}

type subscription struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// NewEventBus keeps the last history events for replay.
func NewEventBus(history int) *EventBus {
	return &EventBus{
		subs:    make(map[int]*subscription),
		history: make([]api.SSEEvent, 0, max(history, 1)),
		limit:   max(history, 1),
	}
}

// Subscribe returns a channel of events matching filter. The cancel func
// closes the channel and may be called more than once.
func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	sub := &subscription{ch: make(chan api.SSEEvent, subscriberBuffer), filter: filter}

	eb.mu.Lock()
	id := eb.nextSub
	eb.nextSub++
	eb.subs[id] = sub
	eb.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			eb.mu.Lock()
			delete(eb.subs, id)
			eb.mu.Unlock()
			close(sub.ch)
		})
	}
}

// AddSink registers fn to see every event, on the publisher's goroutine.
func (eb *EventBus) AddSink(fn func(api.SSEEvent)) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.sinks = append(eb.sinks, fn)
}

func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

// ReplaySince returns the buffered events after lastEventID that match
// filter, oldest first. An ID no longer in the buffer replays all of it.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.histMu.Lock()
	hist := slices.Clone(eb.history)
	eb.histMu.Unlock()

	if i := slices.IndexFunc(hist, func(e api.SSEEvent) bool { return e.ID == lastEventID }); i >= 0 {
		hist = hist[i+1:]
	}
	var out []api.SSEEvent
	for _, e := range hist {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// PublishJobEvent is the pipeline's event callback.
func (eb *EventBus) PublishJobEvent(eventType, jobID string, payload map[string]any) {
	eb.Publish(eventType, jobID, payload)
}

// Publish stamps an event, records it and delivers it. A subscriber whose
// buffer is full misses the event. Payloads that do not marshal are dropped.
func (eb *EventBus) Publish(eventType, jobID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := time.Now()
	eb.histMu.Lock()
	eb.seq++
	event := api.SSEEvent{
		ID:        strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(eb.seq, 10),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}
	if len(eb.history) == eb.limit {
		eb.history = slices.Delete(eb.history, 0, 1)
	}
	eb.history = append(eb.history, event)
	eb.histMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	sinks := eb.sinks
	eb.mu.RUnlock()

	for _, sink := range sinks {
		sink(event)
	}
	metrics.SSEEventsPublishedTotal.Inc()
}
