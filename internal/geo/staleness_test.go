package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreshnessLabel(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		age  time.Duration
		want string
	}{
		{"under a minute is live", 30 * time.Second, "live"},
		{"exactly one minute", time.Minute, "1m ago"},
		{"five minutes", 5 * time.Minute, "5m ago"},
		{"just under an hour", 59 * time.Minute, "59m ago"},
		{"ninety minutes", 90 * time.Minute, "1h ago"},
		{"three hours", 3 * time.Hour, "3h ago"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FreshnessLabel(now, now.Add(-tc.age)))
		})
	}
}

func TestMarkerState(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, MarkerFresh, MarkerState(now, now.Add(-time.Minute)))
	require.Equal(t, MarkerFresh, MarkerState(now, now.Add(-4*time.Minute)))
	require.Equal(t, MarkerAging, MarkerState(now, now.Add(-5*time.Minute)))
	require.Equal(t, MarkerAging, MarkerState(now, now.Add(-29*time.Minute)))
	require.Equal(t, MarkerStale, MarkerState(now, now.Add(-30*time.Minute)))
	require.Equal(t, MarkerStale, MarkerState(now, now.Add(-2*time.Hour)))
}
