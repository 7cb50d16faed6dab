package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCount(t *testing.T) {
	tests := []struct {
		name     string
		n        int64
		expected string
	}{
		{"zero", 0, "0"},
		{"small", 999, "999"},
		{"thousands", 1_234, "1.2K"},
		{"millions", 2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatCount(tt.n))
		})
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		name           string
		latencySeconds float64
		expected       string
	}{
		{"milliseconds", 0.0123, "12.3ms"},
		{"sub_millisecond", 0.0001, "0.1ms"},
		{"seconds", 1.234, "1.2s"},
		{"zero", 0.0, "0.0ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatLatency(tt.latencySeconds))
		})
	}
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.0034", FormatCost(0.0034))
	assert.Equal(t, "$0.0000", FormatCost(0))
	assert.Equal(t, "$12.5000", FormatCost(12.5))
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", FormatPercentage(0.457))
	assert.Equal(t, "100.0%", FormatPercentage(1))
	assert.Equal(t, "0.0%", FormatPercentage(0))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"minutes_only", 300, "5m"},
		{"hours_and_minutes", 3900, "1h 5m"},
		{"zero", 0, "0m"},
		{"exact_hour", 7200, "2h 0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.seconds))
		})
	}
}
