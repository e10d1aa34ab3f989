package metrics

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lessonflow/internal/stage"
)

// QualityKeys are the outcome metadata keys averaged into Dashboard.QualityScores.
var QualityKeys = []string{"alignment_score", "audio_accuracy"}

// SuccessRate returns the fraction of successful outcomes for id inside
// window. With no outcomes it returns 1.0.
func (s *Store) SuccessRate(id stage.ID, window time.Duration) float64 {
	var total, ok int
	s.scan(window, func(o *stage.Outcome) {
		if o.Stage != id {
			return
		}
		total++
		if o.Success {
			ok++
		}
	})
	if total == 0 {
		return 1.0
	}
	return float64(ok) / float64(total)
}

// ErrorRate returns the fraction of failed outcomes inside window. An empty
// id aggregates every stage. With no outcomes it returns 0.0.
func (s *Store) ErrorRate(id stage.ID, window time.Duration) float64 {
	var total, failed int
	s.scan(window, func(o *stage.Outcome) {
		if id != "" && o.Stage != id {
			return
		}
		total++
		if !o.Success {
			failed++
		}
	})
	if total == 0 {
		return 0.0
	}
	return float64(failed) / float64(total)
}

// Throughput counts outcomes per stage inside window. Every stage is
// present in the result, including those with zero outcomes.
func (s *Store) Throughput(window time.Duration) map[stage.ID]int {
	out := make(map[stage.ID]int, len(stage.All()))
	for _, id := range stage.All() {
		out[id] = 0
	}
	s.scan(window, func(o *stage.Outcome) {
		out[o.Stage]++
	})
	return out
}

// AverageDuration returns the mean final-attempt duration for id inside
// window, or zero with no outcomes.
func (s *Store) AverageDuration(id stage.ID, window time.Duration) time.Duration {
	var n int
	var sum time.Duration
	s.scan(window, func(o *stage.Outcome) {
		if o.Stage == id {
			n++
			sum += o.Duration
		}
	})
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// RetryStats summarizes retries inside a window.
type RetryStats struct {
	TotalRetries         int              `json:"total_retries"`
	RetriesByStage       map[stage.ID]int `json:"retries_by_stage"`
	AvgRetriesPerFailure float64          `json:"avg_retries_per_failure"`
	TotalFailures        int              `json:"total_failures"`
}

// RetryStatistics sums retry counts across all outcomes inside window.
// RetriesByStage only lists stages with at least one retry, and the
// per-failure average divides total retries by the number of failed outcomes.
func (s *Store) RetryStatistics(window time.Duration) RetryStats {
	var rs RetryStats
	rs.RetriesByStage = make(map[stage.ID]int)
	s.scan(window, func(o *stage.Outcome) {
		accumulateRetries(&rs, o)
	})
	finishRetries(&rs)
	return rs
}

func accumulateRetries(rs *RetryStats, o *stage.Outcome) {
	rs.TotalRetries += o.RetryCount
	if o.RetryCount > 0 {
		rs.RetriesByStage[o.Stage] += o.RetryCount
	}
	if !o.Success {
		rs.TotalFailures++
	}
}

func finishRetries(rs *RetryStats) {
	if rs.TotalFailures > 0 {
		rs.AvgRetriesPerFailure = float64(rs.TotalRetries) / float64(rs.TotalFailures)
	}
}

// Dashboard is a consistent aggregate view of one window.
type Dashboard struct {
	Throughput         map[stage.ID]int     `json:"throughput"`
	ErrorRates         map[stage.ID]float64 `json:"error_rates"`
	AvgProcessingTimes map[stage.ID]float64 `json:"avg_processing_times_ms"`
	QualityScores      map[string]float64   `json:"quality_scores"`
	Retries            RetryStats           `json:"retry_statistics"`
	TotalRequests      int                  `json:"total_requests"`
	SuccessfulRequests int                  `json:"successful_requests"`
	FailedRequests     int                  `json:"failed_requests"`
	TimeWindow         string               `json:"time_window"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// ErrorRate returns the overall error rate of the dashboard window.
func (d Dashboard) ErrorRate() float64 {
	if d.TotalRequests == 0 {
		return 0
	}
	return float64(d.FailedRequests) / float64(d.TotalRequests)
}

// Dashboard computes every aggregate for window under a single read lock.
func (s *Store) Dashboard(window time.Duration) Dashboard {
	type acc struct {
		n, failed int
		dur       time.Duration
	}
	per := make(map[stage.ID]*acc, len(stage.All()))
	for _, id := range stage.All() {
		per[id] = &acc{}
	}
	qsum := make(map[string]float64)
	qn := make(map[string]int)

	d := Dashboard{
		Throughput:         make(map[stage.ID]int),
		ErrorRates:         make(map[stage.ID]float64),
		AvgProcessingTimes: make(map[stage.ID]float64),
		QualityScores:      make(map[string]float64),
		Retries:            RetryStats{RetriesByStage: make(map[stage.ID]int)},
		TimeWindow:         FormatWindow(window),
		GeneratedAt:        s.clock.Now(),
	}

	s.scan(window, func(o *stage.Outcome) {
		a := per[o.Stage]
		a.n++
		a.dur += o.Duration
		d.TotalRequests++
		if o.Success {
			d.SuccessfulRequests++
		} else {
			a.failed++
			d.FailedRequests++
		}
		accumulateRetries(&d.Retries, o)
		for _, k := range QualityKeys {
			if v, ok := toFloat(o.Metadata[k]); ok {
				qsum[k] += v
				qn[k]++
			}
		}
	})
	finishRetries(&d.Retries)

	for id, a := range per {
		d.Throughput[id] = a.n
		if a.n == 0 {
			d.ErrorRates[id] = 0
			d.AvgProcessingTimes[id] = 0
			continue
		}
		d.ErrorRates[id] = float64(a.failed) / float64(a.n)
		d.AvgProcessingTimes[id] = float64(a.dur/time.Duration(a.n)) / float64(time.Millisecond)
	}
	for k, n := range qn {
		d.QualityScores[k] = qsum[k] / float64(n)
	}
	return d
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// FormatWindow renders a window as whole hours ("24h") when it is one.
func FormatWindow(w time.Duration) string {
	if w%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(w/time.Hour))
	}
	return w.String()
}
