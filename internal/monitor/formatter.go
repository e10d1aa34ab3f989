package monitor

import (
	"fmt"
	"time"
)

// FormatRate formats a count over a window as "X.X/h".
func FormatRate(count int, window time.Duration) string {
	if window <= 0 {
		return "0.0/h"
	}
	return fmt.Sprintf("%.1f/h", float64(count)/window.Hours())
}

// FormatLatency formats a duration in milliseconds as "X.Xms" or "X.Xs"
func FormatLatency(ms float64) string {
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.1fs", ms/1000)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatScore formats a quality score in [0, 1], or "-" when absent.
func FormatScore(score float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f", score)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
