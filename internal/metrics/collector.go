package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PipelineStats is the live job state read at scrape time.
type PipelineStats interface {
	StateCounts() map[string]int
	QueueDepth() int
	SSESubscriberCount() int
}

type gauge struct {
	desc  *prometheus.Desc
	value func() float64
}

// Collector reports registry, queue and pool gauges on every scrape.
type Collector struct {
	stats  PipelineStats
	jobs   *prometheus.Desc
	gauges []gauge
}

// NewCollector builds a collector. Either argument may be nil, in which case
// its gauges read zero.
func NewCollector(pool *pgxpool.Pool, stats PipelineStats) *Collector {
	c := &Collector{
		stats: stats,
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "registry", "jobs"),
			"Jobs held in the registry, by state.",
			[]string{"state"}, nil,
		),
	}

	statsGauge := func(read func(PipelineStats) int) func() float64 {
		return func() float64 {
			if stats == nil {
				return 0
			}
			return float64(read(stats))
		}
	}
	poolGauge := func(read func(*pgxpool.Stat) int32) func() float64 {
		return func() float64 {
			if pool == nil {
				return 0
			}
			return float64(read(pool.Stat()))
		}
	}

	c.add("pipeline", "queue_depth", "Jobs waiting for a pipeline worker.",
		statsGauge(PipelineStats.QueueDepth))
	c.add("sse", "subscribers", "Connected event stream subscribers.",
		statsGauge(PipelineStats.SSESubscriberCount))
	c.add("db_pool", "total_conns", "Open archive database connections.",
		poolGauge((*pgxpool.Stat).TotalConns))
	c.add("db_pool", "acquired_conns", "Archive database connections in use.",
		poolGauge((*pgxpool.Stat).AcquiredConns))
	c.add("db_pool", "idle_conns", "Idle archive database connections.",
		poolGauge((*pgxpool.Stat).IdleConns))
	return c
}

func (c *Collector) add(subsystem, name, help string, value func() float64) {
	c.gauges = append(c.gauges, gauge{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil),
		value: value,
	})
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		for state, n := range c.stats.StateCounts() {
			ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), state)
		}
	}
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value())
	}
}
