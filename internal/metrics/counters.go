// Package metrics holds the pipeline's failure counters and the Prometheus
// instrumentation for the HTTP surface and job processing.
package metrics

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// FailureKind names a recoverable or fatal failure tracked by Counters.
type FailureKind string

const (
	TranslateFail FailureKind = "translate_fail"
	TTSFail       FailureKind = "tts_fail"
	MuxFail       FailureKind = "mux_fail"
)

// Snapshot is a point-in-time copy of the failure counters.
type Snapshot struct {
	TranslateFail uint64 `json:"translate_fail"`
	TTSFail       uint64 `json:"tts_fail"`
	MuxFail       uint64 `json:"mux_fail"`
}

// Counters are monotonic process-lifetime failure counters shared by all
// jobs. There is no reset.
type Counters struct {
	translate atomic.Uint64
	tts       atomic.Uint64
	mux       atomic.Uint64

	exported *prometheus.CounterVec
}

// NewCounters creates zeroed counters. When reg is non-nil the counters are
// also exported as dubby_pipeline_failures_total{kind}.
func NewCounters(reg prometheus.Registerer) (*Counters, error) {
	c := &Counters{}
	if reg == nil {
		return c, nil
	}
	c.exported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_failures_total",
		Help:      "Pipeline failures by kind.",
	}, []string{"kind"})
	if err := reg.Register(c.exported); err != nil {
		return nil, fmt.Errorf("register failure counters: %w", err)
	}
	for _, k := range []FailureKind{TranslateFail, TTSFail, MuxFail} {
		c.exported.WithLabelValues(string(k))
	}
	return c, nil
}

// Increment bumps the counter for kind. Unknown kinds are ignored.
func (c *Counters) Increment(kind FailureKind) {
	switch kind {
	case TranslateFail:
		c.translate.Add(1)
	case TTSFail:
		c.tts.Add(1)
	case MuxFail:
		c.mux.Add(1)
	default:
		return
	}
	if c.exported != nil {
		c.exported.WithLabelValues(string(kind)).Inc()
	}
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TranslateFail: c.translate.Load(),
		TTSFail:       c.tts.Load(),
		MuxFail:       c.mux.Load(),
	}
}
