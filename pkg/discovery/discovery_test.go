package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/testutils"
	"github.com/srg/btlink/pkg/discovery"
	"github.com/srg/btlink/pkg/eventbus"
	"github.com/srg/btlink/pkg/precheck"
)

func newSession(t *testing.T, adapter *testutils.FakeAdapter) (*discovery.Session, *eventbus.Bus) {
	t.Helper()
	h := testutils.NewTestHelper(t)
	bus := eventbus.New(adapter, h.Logger)
	t.Cleanup(bus.Close)
	checker := precheck.NewChecker(adapter, h.Logger)
	return discovery.NewSession(adapter, bus, checker, h.Logger), bus
}

func TestStartDeliversDiscoveredDevices(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	session, _ := newSession(t, adapter)

	feed, err := session.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, session.Active())

	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "scanner")
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})

	got := testutils.Recv(t, feed, time.Second)
	assert.Equal(t, dev.Address, got.Address)
	assert.Equal(t, dev.Name, got.Name)
}

func TestConcurrentStartsShareOneScan(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	session, _ := newSession(t, adapter)

	feedA, err := session.Start(context.Background())
	require.NoError(t, err)
	feedB, err := session.Start(context.Background())
	require.NoError(t, err)

	// Joining an active scan must not re-command the radio.
	assert.Equal(t, 1, adapter.StartDiscoveryCalls())

	dev := testutils.Device("11:22:33:44:55:66", "")
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})

	assert.Equal(t, dev.Address, testutils.Recv(t, feedA, time.Second).Address)
	assert.Equal(t, dev.Address, testutils.Recv(t, feedB, time.Second).Address)
}

func TestDuplicateReportsAreSuppressedWithinGeneration(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	session, _ := newSession(t, adapter)

	feed, err := session.Start(context.Background())
	require.NoError(t, err)

	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "printer")
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: testutils.Device("11:22:33:44:55:66", "other")})

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", testutils.Recv(t, feed, time.Second).Address)
	// The re-report is swallowed; the next delivery is the second device.
	assert.Equal(t, "11:22:33:44:55:66", testutils.Recv(t, feed, time.Second).Address)
	testutils.NoRecv(t, feed, 50*time.Millisecond)
}

func TestFinishedScanClosesFeedsAndResetsDedupe(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	session, _ := newSession(t, adapter)

	scanning, cancelScanning := session.Scanning()
	defer cancelScanning()
	assert.False(t, testutils.Recv(t, scanning, time.Second))

	feed, err := session.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, testutils.Recv(t, scanning, time.Second))

	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "printer")
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})
	testutils.Recv(t, feed, time.Second)

	adapter.FinishDiscovery()
	adapter.Emit(platform.Event{Kind: platform.DiscoveryFinished})

	testutils.RecvClosed(t, feed, time.Second)
	assert.False(t, testutils.Recv(t, scanning, time.Second))
	assert.False(t, session.Active())

	// A fresh scan is a fresh generation: new radio command, and the same
	// device is delivered again.
	feed2, err := session.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.StartDiscoveryCalls())

	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})
	assert.Equal(t, dev.Address, testutils.Recv(t, feed2, time.Second).Address)
}

func TestStartFailsPrecheckWithoutCommandingRadio(t *testing.T) {
	adapter := testutils.NewFakeAdapter().
		WithPermissionDenied(platform.PermBluetoothScan)
	session, _ := newSession(t, adapter)

	_, err := session.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrPermissionDenied)
	assert.Equal(t, 0, adapter.StartDiscoveryCalls())
	assert.False(t, session.Active())
}

func TestCancelledCallerDetachesWithoutEndingScan(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	session, _ := newSession(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	feedA, err := session.Start(ctx)
	require.NoError(t, err)
	feedB, err := session.Start(context.Background())
	require.NoError(t, err)

	cancel()
	testutils.RecvClosed(t, feedA, time.Second)

	// The scan itself keeps running for the remaining subscriber.
	assert.True(t, session.Active())
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "")
	adapter.Emit(platform.Event{Kind: platform.DeviceFound, Device: dev})
	assert.Equal(t, dev.Address, testutils.Recv(t, feedB, time.Second).Address)
}
