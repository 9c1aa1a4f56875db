package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports the dispatch pipeline counters to Prometheus. The
// processors keep plain atomics on their hot paths; the collector reads
// them only when scraped.
type Collector struct {
	router *Router

	sentMessages   *prometheus.Desc
	sentBytes      *prometheus.Desc
	failedMessages *prometheus.Desc
	tooLarge       *prometheus.Desc
	queueDropped   *prometheus.Desc
	queueDepth     *prometheus.Desc
}

// NewCollector wraps a router for scraping.
func NewCollector(router *Router) *Collector {
	labels := []string{"queue"}
	return &Collector{
		router: router,
		sentMessages: prometheus.NewDesc(
			"opcbridge_hub_messages_sent_total",
			"Hub messages flushed successfully.",
			labels, nil,
		),
		sentBytes: prometheus.NewDesc(
			"opcbridge_hub_bytes_sent_total",
			"Payload bytes flushed successfully.",
			labels, nil,
		),
		failedMessages: prometheus.NewDesc(
			"opcbridge_hub_messages_failed_total",
			"Hub send failures.",
			labels, nil,
		),
		tooLarge: prometheus.NewDesc(
			"opcbridge_messages_too_large_total",
			"Messages dropped for exceeding the hub buffer size.",
			labels, nil,
		),
		queueDropped: prometheus.NewDesc(
			"opcbridge_queue_dropped_total",
			"Messages dropped on enqueue because the queue was full.",
			labels, nil,
		),
		queueDepth: prometheus.NewDesc(
			"opcbridge_queue_depth",
			"Messages currently queued.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentMessages
	ch <- c.sentBytes
	ch <- c.failedMessages
	ch <- c.tooLarge
	ch <- c.queueDropped
	ch <- c.queueDepth
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for kind, p := range c.router.processors {
		label := kind.String()
		ch <- prometheus.MustNewConstMetric(c.sentMessages, prometheus.CounterValue, float64(p.SentMessages()), label)
		ch <- prometheus.MustNewConstMetric(c.sentBytes, prometheus.CounterValue, float64(p.SentBytes()), label)
		ch <- prometheus.MustNewConstMetric(c.failedMessages, prometheus.CounterValue, float64(p.FailedMessages()), label)
		ch <- prometheus.MustNewConstMetric(c.tooLarge, prometheus.CounterValue, float64(p.TooLargeDropped()), label)
		ch <- prometheus.MustNewConstMetric(c.queueDropped, prometheus.CounterValue, float64(p.Queue().Dropped()), label)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(p.Queue().Len()), label)
	}
}
