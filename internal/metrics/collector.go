package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// Collector exposes windowed store aggregates as Prometheus gauges.
//
// Metrics:
//   - lessonflow_stage_outcomes{stage} - outcomes recorded inside the window
//   - lessonflow_stage_error_rate{stage} - failed/total inside the window
//   - lessonflow_stage_avg_duration_seconds{stage} - mean final-attempt duration
//   - lessonflow_stage_retries{stage} - retries summed inside the window
//   - lessonflow_error_rate - overall failed/total inside the window
type Collector struct {
	store  *Store
	window time.Duration

	outcomes    *prometheus.Desc
	errorRate   *prometheus.Desc
	avgDuration *prometheus.Desc
	retries     *prometheus.Desc
	overall     *prometheus.Desc
}

// NewCollector returns a collector that evaluates window at scrape time.
func NewCollector(store *Store, window time.Duration) *Collector {
	constLabels := prometheus.Labels{"window": FormatWindow(window)}
	return &Collector{
		store:  store,
		window: window,
		outcomes: prometheus.NewDesc("lessonflow_stage_outcomes",
			"Stage outcomes recorded inside the aggregation window.",
			[]string{"stage"}, constLabels),
		errorRate: prometheus.NewDesc("lessonflow_stage_error_rate",
			"Fraction of failed stage outcomes inside the aggregation window.",
			[]string{"stage"}, constLabels),
		avgDuration: prometheus.NewDesc("lessonflow_stage_avg_duration_seconds",
			"Mean final-attempt duration inside the aggregation window.",
			[]string{"stage"}, constLabels),
		retries: prometheus.NewDesc("lessonflow_stage_retries",
			"Retries summed over stage outcomes inside the aggregation window.",
			[]string{"stage"}, constLabels),
		overall: prometheus.NewDesc("lessonflow_error_rate",
			"Fraction of failed outcomes across all stages inside the aggregation window.",
			nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.outcomes
	ch <- c.errorRate
	ch <- c.avgDuration
	ch <- c.retries
	ch <- c.overall
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	d := c.store.Dashboard(c.window)
	for _, id := range stage.All() {
		name := string(id)
		ch <- prometheus.MustNewConstMetric(c.outcomes, prometheus.GaugeValue, float64(d.Throughput[id]), name)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, d.ErrorRates[id], name)
		ch <- prometheus.MustNewConstMetric(c.avgDuration, prometheus.GaugeValue, d.AvgProcessingTimes[id]/1000, name)
		ch <- prometheus.MustNewConstMetric(c.retries, prometheus.GaugeValue, float64(d.Retries.RetriesByStage[id]), name)
	}
	ch <- prometheus.MustNewConstMetric(c.overall, prometheus.GaugeValue, d.ErrorRate())
}
