package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/kinsync/internal/cache"
	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/hub"
	"github.com/example/kinsync/internal/presence"
	"github.com/example/kinsync/internal/presence/domain"
	"github.com/example/kinsync/internal/presence/handler"
	"github.com/example/kinsync/internal/roster"
)

func newTestServer(t *testing.T) (*httptest.Server, *presence.Engine, *geo.Feed, *roster.MemoryStore) {
	t.Helper()
	feed := geo.NewFeed("", nil, nil)
	sampler := geo.NewSampler(feed, nil)
	store := roster.NewMemoryStore(nil)
	engine := presence.New(presence.Config{}, sampler, store, cache.NewMemoryCache(), hub.New(nil), nil, nil, nil)
	require.NoError(t, engine.Initialize(context.Background()))
	t.Cleanup(engine.Cleanup)

	srv := httptest.NewServer(handler.New(engine).Router())
	t.Cleanup(srv.Close)
	return srv, engine, feed, store
}

func TestAddMemberValidation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/family", "application/json", strings.NewReader(`{"name":"","phone":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/family", "application/json", strings.NewReader(`{"name":"Ann","phone":"+1 (555) 123-4567"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var member domain.FamilyMember
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&member))
	require.Equal(t, "15551234567", member.Phone)
}

func TestFamilyLocationsDecoration(t *testing.T) {
	srv, engine, feed, store := newTestServer(t)
	ctx := context.Background()
	uid := engine.UserID()

	sample := domain.LocationSample{
		Latitude:  37.7749,
		Longitude: -122.4194,
		Timestamp: time.Now().Add(-10 * time.Minute).UnixMilli(),
	}
	ts := sample.Timestamp
	member, err := store.CreateMember(ctx, uid, domain.FamilyMember{
		Name:               "Ann",
		Phone:              "5551112222",
		IsLocationShared:   true,
		Location:           &sample,
		LastLocationUpdate: &ts,
	})
	require.NoError(t, err)

	// Give the engine its own fix so distance can be computed.
	feed.Push(domain.LocationSample{Latitude: 34.0522, Longitude: -118.2437, Timestamp: time.Now().UnixMilli()})
	_, err = engine.CurrentLocation(ctx)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/family")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views map[string]struct {
		domain.FamilyMember
		Freshness  string   `json:"freshness"`
		Marker     string   `json:"marker"`
		DistanceKm *float64 `json:"distanceKm"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Contains(t, views, member.ID)

	view := views[member.ID]
	require.Equal(t, "10m ago", view.Freshness)
	require.Equal(t, "aging", view.Marker)
	require.NotNil(t, view.DistanceKm)
	require.InDelta(t, 559, *view.DistanceKm, 5)
}

func TestSharingLifecycleOverHTTP(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/sharing/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/sharing")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.True(t, status["sharing"])

	resp, err = http.Post(srv.URL+"/v1/sharing/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
