package roster_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/kinsync/internal/presence/domain"
	"github.com/example/kinsync/internal/roster"
)

type tickClock struct {
	t time.Time
}

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newRedisStore(t *testing.T) *roster.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return roster.NewRedisStore(client, "", &tickClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
}

func TestRedisStoreCreateAndListOrdered(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	first, err := store.CreateMember(ctx, "u1", domain.FamilyMember{Name: "Ann", Phone: "5551112222"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := store.CreateMember(ctx, "u1", domain.FamilyMember{Name: "Bob", Phone: "5553334444"})
	require.NoError(t, err)

	members, err := store.ListMembers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, first.ID, members[0].ID)
	require.Equal(t, second.ID, members[1].ID)
	require.False(t, members[0].IsLocationShared)
}

func TestRedisStoreMemberSharingAndLocation(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	member, err := store.CreateMember(ctx, "u1", domain.FamilyMember{Name: "Ann", Phone: "5551112222"})
	require.NoError(t, err)

	require.NoError(t, store.SetMemberSharing(ctx, "u1", member.ID, true))

	sample := domain.LocationSample{Latitude: 37.7, Longitude: -122.4, Timestamp: 1717200000000}
	require.NoError(t, store.SetMemberLocation(ctx, "u1", member.ID, sample))

	members, err := store.ListMembers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.True(t, members[0].IsLocationShared)
	require.NotNil(t, members[0].Location)
	require.Equal(t, sample.Timestamp, members[0].Location.Timestamp)
	require.NotNil(t, members[0].LastLocationUpdate)
	// lastLocationUpdate is the sample timestamp, not the write time.
	require.Equal(t, sample.Timestamp, *members[0].LastLocationUpdate)
}

func TestRedisStoreUnknownMember(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	err := store.SetMemberSharing(ctx, "u1", "missing", true)
	require.ErrorIs(t, err, domain.ErrMemberNotFound)

	err = store.SetMemberLocation(ctx, "u1", "missing", domain.LocationSample{})
	require.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestRedisStoreDeleteMember(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	member, err := store.CreateMember(ctx, "u1", domain.FamilyMember{Name: "Ann", Phone: "5551112222"})
	require.NoError(t, err)
	require.NoError(t, store.DeleteMember(ctx, "u1", member.ID))

	members, err := store.ListMembers(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, members)

	// Deleting again is a no-op.
	require.NoError(t, store.DeleteMember(ctx, "u1", member.ID))
}

func TestRedisStoreUserState(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	sharing, live, err := store.UserState(ctx, "u1")
	require.NoError(t, err)
	require.False(t, sharing)
	require.Nil(t, live)

	require.NoError(t, store.SetSharing(ctx, "u1", true))
	sample := domain.LocationSample{Latitude: 1, Longitude: 2, Timestamp: 42}
	require.NoError(t, store.SetLiveLocation(ctx, "u1", sample))

	sharing, live, err = store.UserState(ctx, "u1")
	require.NoError(t, err)
	require.True(t, sharing)
	require.NotNil(t, live)
	require.Equal(t, int64(42), live.Timestamp)
}

func TestRedisStoreAlerts(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	alert, err := store.AppendAlert(ctx, "u1", domain.EmergencyAlert{
		Type:     "sos",
		Message:  "help",
		UserID:   "u1",
		Location: domain.LocationSample{Latitude: 1, Longitude: 2, Timestamp: 42},
	})
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)
	require.False(t, alert.CreatedAt.IsZero())

	_, err = store.AppendAlert(ctx, "u1", domain.EmergencyAlert{Type: "sos", Message: "still here", UserID: "u1"})
	require.NoError(t, err)

	alerts, err := store.ListAlerts(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "help", alerts[0].Message)
	require.Equal(t, "still here", alerts[1].Message)
}
