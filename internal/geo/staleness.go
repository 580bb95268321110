package geo

import (
	"fmt"
	"time"
)

// Marker classifies how a presence marker should be rendered based on
// sample age.
type Marker string

const (
	MarkerFresh Marker = "fresh"
	MarkerAging Marker = "aging"
	MarkerStale Marker = "stale"
)

const (
	liveWindow  = time.Minute
	hourWindow  = time.Hour
	freshWindow = 5 * time.Minute
	agingWindow = 30 * time.Minute
)

// FreshnessLabel maps the age of the last location update onto the
// user-facing label: "live" under a minute, "{n}m ago" up to an hour,
// "{n}h ago" beyond that.
func FreshnessLabel(now, last time.Time) string {
	age := now.Sub(last)
	switch {
	case age < liveWindow:
		return "live"
	case age < hourWindow:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	}
}

// MarkerState maps sample age onto marker freshness: under five minutes
// fresh, up to thirty minutes aging, stale after that.
func MarkerState(now, last time.Time) Marker {
	age := now.Sub(last)
	switch {
	case age < freshWindow:
		return MarkerFresh
	case age < agingWindow:
		return MarkerAging
	default:
		return MarkerStale
	}
}
