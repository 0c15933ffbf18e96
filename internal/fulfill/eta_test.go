package fulfill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateReady(t *testing.T) {
	day := func(hour, min int) time.Time {
		return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name    string
		asOf    time.Time
		prep    []int
		active  int
		wantMin int
	}{
		{name: "midday multiplier", asOf: day(12, 0), prep: []int{10}, active: 0, wantMin: 13},
		{name: "evening multiplier", asOf: day(18, 0), prep: []int{10}, active: 0, wantMin: 12},
		{name: "off-peak", asOf: day(9, 0), prep: []int{10}, active: 0, wantMin: 10},
		{name: "midday lower bound inclusive", asOf: day(11, 0), prep: []int{10}, active: 0, wantMin: 13},
		{name: "midday upper bound exclusive", asOf: day(13, 0), prep: []int{10}, active: 0, wantMin: 10},
		{name: "queue penalty off-peak", asOf: day(9, 0), prep: []int{10}, active: 3, wantMin: 16},
		{name: "queue penalty scaled and rounded", asOf: day(12, 30), prep: []int{10}, active: 3, wantMin: 21}, // (10+6)*1.3 = 20.8
		{name: "slowest item wins", asOf: day(9, 0), prep: []int{5, 15, 8}, active: 0, wantMin: 15},
		{name: "no items no queue", asOf: day(9, 0), prep: nil, active: 0, wantMin: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateReady(tt.asOf, time.UTC, tt.prep, tt.active)
			assert.Equal(t, tt.asOf.Add(time.Duration(tt.wantMin)*time.Minute), got)
		})
	}
}

func TestEstimateReadyUsesVendorLocalTime(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 04:30 UTC is 11:30 in Jakarta, inside the midday window.
	asOf := time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)
	got := EstimateReady(asOf, jakarta, []int{10}, 0)
	assert.Equal(t, asOf.Add(13*time.Minute), got)

	// The same instant evaluated against UTC is off-peak.
	got = EstimateReady(asOf, time.UTC, []int{10}, 0)
	assert.Equal(t, asOf.Add(10*time.Minute), got)
}
