package connstate_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/testutils"
	"github.com/srg/btlink/pkg/connstate"
	"github.com/srg/btlink/pkg/eventbus"
)

func newTracker(t *testing.T, adapter *testutils.FakeAdapter) *connstate.Tracker {
	t.Helper()
	h := testutils.NewTestHelper(t)
	bus := eventbus.New(adapter, h.Logger)
	t.Cleanup(bus.Close)
	tracker := connstate.NewTracker(bus, h.Logger)
	t.Cleanup(tracker.Close)
	return tracker
}

func TestObserveSeesPublications(t *testing.T) {
	tracker := newTracker(t, testutils.NewFakeAdapter())
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "printer")

	changes, cancel, err := tracker.Observe()
	require.NoError(t, err)
	defer cancel()

	tracker.Publish(platform.Connecting, dev)
	tracker.Publish(platform.Connected, dev)

	change := testutils.Recv(t, changes, time.Second)
	assert.Equal(t, platform.Connecting, change.State)
	assert.Equal(t, dev.Address, change.Device.Address)

	change = testutils.Recv(t, changes, time.Second)
	assert.Equal(t, platform.Connected, change.State)
}

func TestLateObserverReceivesLatestChange(t *testing.T) {
	tracker := newTracker(t, testutils.NewFakeAdapter())
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "")

	tracker.Publish(platform.Connecting, dev)
	tracker.Publish(platform.Connected, dev)

	changes, cancel, err := tracker.Observe()
	require.NoError(t, err)
	defer cancel()

	// Only the latest change is replayed, not the history.
	change := testutils.Recv(t, changes, time.Second)
	assert.Equal(t, platform.Connected, change.State)
	testutils.NoRecv(t, changes, 50*time.Millisecond)
}

func TestUnsolicitedLinkEventsArePublished(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	tracker := newTracker(t, adapter)
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")

	changes, cancel, err := tracker.Observe()
	require.NoError(t, err)
	defer cancel()

	adapter.Emit(platform.Event{Kind: platform.LinkConnected, Device: dev})
	change := testutils.Recv(t, changes, time.Second)
	assert.Equal(t, platform.Connected, change.State)

	adapter.Emit(platform.Event{Kind: platform.LinkDisconnected, Device: dev})
	change = testutils.Recv(t, changes, time.Second)
	assert.Equal(t, platform.Disconnected, change.State)

	state, ok := tracker.Latest(dev)
	require.True(t, ok)
	assert.Equal(t, platform.Disconnected, state)
}

func TestRepublishingSameStateIsObservable(t *testing.T) {
	tracker := newTracker(t, testutils.NewFakeAdapter())
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "")

	changes, cancel, err := tracker.Observe()
	require.NoError(t, err)
	defer cancel()

	tracker.Publish(platform.Disconnected, dev)
	tracker.Publish(platform.Disconnected, dev)

	assert.Equal(t, platform.Disconnected, testutils.Recv(t, changes, time.Second).State)
	assert.Equal(t, platform.Disconnected, testutils.Recv(t, changes, time.Second).State)
}

func TestLatestUnknownDevice(t *testing.T) {
	tracker := newTracker(t, testutils.NewFakeAdapter())

	_, ok := tracker.Latest(testutils.Device("AA:BB:CC:DD:EE:FF", ""))
	assert.False(t, ok)
}

func TestObserveFailsWhenPlatformUnavailable(t *testing.T) {
	adapter := testutils.NewFakeAdapter().WithEventsError(errors.New("dbus down"))
	tracker := newTracker(t, adapter)

	_, _, err := tracker.Observe()
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrPlatformUnavailable)

	// The failure is cached on retry.
	_, _, err = tracker.Observe()
	assert.ErrorIs(t, err, platform.ErrPlatformUnavailable)
}

func TestCloseEndsObservers(t *testing.T) {
	tracker := newTracker(t, testutils.NewFakeAdapter())

	changes, _, err := tracker.Observe()
	require.NoError(t, err)

	tracker.Close()
	testutils.RecvClosed(t, changes, time.Second)

	// Idempotent.
	tracker.Close()
}
