package monitor

import "fmt"

// FormatCount formats a count as "X", "X.XK" or "X.XM".
func FormatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// FormatLatency formats a duration in seconds as "X.Xms" or "X.Xs".
func FormatLatency(latencySeconds float64) string {
	if latencySeconds < 1.0 {
		return fmt.Sprintf("%.1fms", latencySeconds*1000)
	}
	return fmt.Sprintf("%.1fs", latencySeconds)
}

// FormatCost formats an estimated cost in dollars.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
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
