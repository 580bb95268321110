package geo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/kinsync/internal/presence/domain"
)

func TestHaversineOneDegreeAtEquator(t *testing.T) {
	dist := HaversineKm(domain.GeoPoint{Lat: 0, Lng: 0}, domain.GeoPoint{Lat: 0, Lng: 1})
	require.InDelta(t, 111.19, dist, 0.5)
}

func TestHaversineZeroDistance(t *testing.T) {
	p := domain.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	require.Zero(t, HaversineKm(p, p))
}

func TestHaversineSymmetry(t *testing.T) {
	a := domain.GeoPoint{Lat: 35.7, Lng: 51.4}
	b := domain.GeoPoint{Lat: 48.8566, Lng: 2.3522}
	require.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-9)
}

func TestHaversineKnownCityPair(t *testing.T) {
	sf := domain.GeoPoint{Lat: 37.7749, Lng: -122.4194}
	la := domain.GeoPoint{Lat: 34.0522, Lng: -118.2437}
	// SF to LA is roughly 559 km great-circle.
	require.InDelta(t, 559, HaversineKm(sf, la), 5)
}
