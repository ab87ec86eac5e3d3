package model

import (
	"fmt"
	"strings"
)

// FormatBytes renders a byte count the way progress counters are displayed
// (e.g. "1.5MB"), grounded on the original's format_bytes helper.
func FormatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// FormatSecs renders a duration in seconds as "1d 2h 3m 4s", omitting
// every zero day, hour or minute component (seconds are always shown),
// grounded on the original's format_secs helper.
func FormatSecs(secs uint64) string {
	days := secs / 86400
	hours := (secs % 86400) / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// FormatDuration renders a nanosecond duration via FormatSecs.
func FormatDuration(durNs uint64) string {
	return FormatSecs(durNs / 1e9)
}
