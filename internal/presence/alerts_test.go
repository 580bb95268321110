package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/kinsync/internal/geo"
	"github.com/example/kinsync/internal/presence/domain"
	"github.com/example/kinsync/internal/roster"
)

type fixedGeocoder struct {
	address string
	err     error
}

func (g fixedGeocoder) ReverseGeocode(context.Context, domain.GeoPoint) (string, error) {
	return g.address, g.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestDispatchComposesAndStoresAlert(t *testing.T) {
	feed := geo.NewFeed("", nil, nil)
	sampler := geo.NewSampler(feed, nil)
	require.NoError(t, sampler.Initialize(context.Background()))
	store := roster.NewMemoryStore(nil)
	clock := fixedClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	dispatcher := NewAlertDispatcher(sampler, store, fixedGeocoder{address: "221B Baker Street"}, nil, clock, nil)

	sample := recentSample(0)
	feed.Push(sample)

	alert, err := dispatcher.Dispatch(context.Background(), "u1", "sos", "need help")
	require.NoError(t, err)
	require.Equal(t, "sos", alert.Type)
	require.Equal(t, "need help", alert.Message)
	require.Equal(t, "u1", alert.UserID)
	require.Equal(t, "221B Baker Street", alert.Address)
	require.Equal(t, sample.Timestamp, alert.Location.Timestamp)
	require.Equal(t, clock.t.UnixMilli(), alert.Timestamp)
	require.False(t, alert.CreatedAt.IsZero())

	stored := store.Alerts("u1")
	require.Len(t, stored, 1)
	require.Equal(t, alert.ID, stored[0].ID)
}

func TestDispatchFailsWithoutLocation(t *testing.T) {
	feed := geo.NewFeed("", nil, nil)
	sampler := geo.NewSampler(feed, nil)
	require.NoError(t, sampler.Initialize(context.Background()))
	dispatcher := NewAlertDispatcher(sampler, roster.NewMemoryStore(nil), nil, nil, nil, nil)

	_, err := dispatcher.Dispatch(context.Background(), "u1", "sos", "need help")
	require.ErrorIs(t, err, domain.ErrNoLocation)
}

func TestDispatchToleratesGeocoderFailure(t *testing.T) {
	feed := geo.NewFeed("", nil, nil)
	sampler := geo.NewSampler(feed, nil)
	require.NoError(t, sampler.Initialize(context.Background()))
	store := roster.NewMemoryStore(nil)
	dispatcher := NewAlertDispatcher(sampler, store, fixedGeocoder{err: context.DeadlineExceeded}, nil, nil, nil)

	feed.Push(recentSample(0))

	alert, err := dispatcher.Dispatch(context.Background(), "u1", "sos", "need help")
	require.NoError(t, err)
	require.Empty(t, alert.Address)
	require.Len(t, store.Alerts("u1"), 1)
}

func TestDispatchIndependentOfSharingSession(t *testing.T) {
	rig := newTestRig(t, nil, nil)
	require.False(t, rig.engine.SharingStatus())

	rig.feed.Push(recentSample(0))
	alert, err := rig.engine.SendEmergencyAlert(context.Background(), "sos", "need help")
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)
	require.Len(t, rig.store.Alerts(rig.engine.UserID()), 1)
}
