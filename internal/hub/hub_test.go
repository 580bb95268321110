package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/kinsync/internal/presence/domain"
)

func TestHubFanOutInRegistrationOrder(t *testing.T) {
	h := New(nil)
	var order []string
	h.OnLocation(func(domain.LocationSample) { order = append(order, "a") })
	h.OnLocation(func(domain.LocationSample) { order = append(order, "b") })
	h.OnLocation(func(domain.LocationSample) { order = append(order, "c") })

	h.EmitLocation(domain.LocationSample{})
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestHubUnsubscribeRemovesOnlyThatRegistration(t *testing.T) {
	h := New(nil)
	var got []string
	offA := h.OnLocation(func(domain.LocationSample) { got = append(got, "a") })
	h.OnLocation(func(domain.LocationSample) { got = append(got, "b") })

	offA()
	h.EmitLocation(domain.LocationSample{})
	require.Equal(t, []string{"b"}, got)

	// Unsubscribing twice is harmless.
	offA()
	h.EmitLocation(domain.LocationSample{})
	require.Equal(t, []string{"b", "b"}, got)
}

func TestHubSameCallbackRegisteredTwice(t *testing.T) {
	h := New(nil)
	var count int
	fn := func(bool) { count++ }
	off1 := h.OnSharingState(fn)
	off2 := h.OnSharingState(fn)

	h.EmitSharingState(true)
	require.Equal(t, 2, count)

	off1()
	h.EmitSharingState(true)
	require.Equal(t, 3, count)

	off2()
	h.EmitSharingState(true)
	require.Equal(t, 3, count)
}

func TestHubIsolatesPanickingListener(t *testing.T) {
	h := New(nil)
	var delivered bool
	h.OnLocation(func(domain.LocationSample) { panic("listener bug") })
	h.OnLocation(func(domain.LocationSample) { delivered = true })

	require.NotPanics(t, func() { h.EmitLocation(domain.LocationSample{}) })
	require.True(t, delivered)
}

func TestHubDoesNotBufferForLateSubscribers(t *testing.T) {
	h := New(nil)
	h.EmitSharingState(true)

	var count int
	h.OnSharingState(func(bool) { count++ })
	require.Zero(t, count)
}
