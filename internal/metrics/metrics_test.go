package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	c, err := NewCounters(nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Increment(TranslateFail)
	c.Increment(MuxFail)
	c.Increment(MuxFail)
	c.Increment(FailureKind("bogus"))

	got := c.Snapshot()
	want := Snapshot{TranslateFail: 1, TTSFail: 0, MuxFail: 2}
	if got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}
}

func TestCountersConcurrent(t *testing.T) {
	c, _ := NewCounters(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment(TTSFail)
			}
		}()
	}
	wg.Wait()
	if got := c.Snapshot().TTSFail; got != 5000 {
		t.Errorf("TTSFail = %d, want 5000", got)
	}
}

func TestCountersExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCounters(reg)
	if err != nil {
		t.Fatalf("NewCounters: %v", err)
	}
	c.Increment(TTSFail)

	if got := testutil.ToFloat64(c.exported.WithLabelValues("tts_fail")); got != 1 {
		t.Errorf("exported tts_fail = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.exported); got != 3 {
		t.Errorf("series = %d, want 3 pre-initialized kinds", got)
	}

	if _, err := NewCounters(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
}

type fakeStats struct{}

func (fakeStats) StateCounts() map[string]int {
	return map[string]int{"running": 2, "completed": 5, "failed": 1}
}
func (fakeStats) QueueDepth() int         { return 4 }
func (fakeStats) SSESubscriberCount() int { return 1 }

func TestCollector(t *testing.T) {
	tests := []struct {
		name  string
		stats PipelineStats
		want  int
	}{
		{"nil stats", nil, 5},
		{"with stats", fakeStats{}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.CollectAndCount(NewCollector(nil, tt.stats)); got != tt.want {
				t.Errorf("metric count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{id}", "418"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{id}", "418"))

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestInstrumentHandlerImplicitOK(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/health", "200"))

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}
