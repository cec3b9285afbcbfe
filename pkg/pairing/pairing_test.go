package pairing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/testutils"
	"github.com/srg/btlink/pkg/eventbus"
	"github.com/srg/btlink/pkg/pairing"
	"github.com/srg/btlink/pkg/precheck"
)

func newOrchestrator(t *testing.T, adapter *testutils.FakeAdapter) *pairing.Orchestrator {
	t.Helper()
	h := testutils.NewTestHelper(t)
	bus := eventbus.New(adapter, h.Logger)
	t.Cleanup(bus.Close)
	checker := precheck.NewChecker(adapter, h.Logger)
	return pairing.NewOrchestrator(adapter, bus, checker, h.Logger)
}

// waitForBondRequest polls until the bond command has been issued. It runs
// off the test goroutine, so it cannot use require.
func waitForBondRequest(adapter *testutils.FakeAdapter) bool {
	deadline := time.Now().Add(time.Second)
	for len(adapter.CreateBondCalls()) == 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// emitWhenRequested waits for the bond request to land, then injects the
// scripted bond-state events for the device.
func emitWhenRequested(t *testing.T, adapter *testutils.FakeAdapter, device platform.RemoteDevice, states ...platform.BondState) {
	t.Helper()
	go func() {
		if !waitForBondRequest(adapter) {
			return
		}
		for _, state := range states {
			adapter.Emit(platform.Event{Kind: platform.BondStateChanged, Device: device, BondState: state})
		}
	}()
}

func TestPairAlreadyBondedShortCircuits(t *testing.T) {
	dev := testutils.BondedDevice("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter()
	o := newOrchestrator(t, adapter)

	paired, err := o.Pair(context.Background(), dev)
	require.NoError(t, err)
	assert.True(t, paired)
	assert.Empty(t, adapter.CreateBondCalls())
}

func TestPairConsultsAdapterBondedSet(t *testing.T) {
	// The caller's snapshot is stale: its Bonded flag is unset, but the
	// adapter already holds the bond.
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter().
		WithBonded(testutils.BondedDevice(dev.Address, dev.Name))
	o := newOrchestrator(t, adapter)

	paired, err := o.Pair(context.Background(), dev)
	require.NoError(t, err)
	assert.True(t, paired)
	assert.Empty(t, adapter.CreateBondCalls())
}

func TestPairSucceeds(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter()
	o := newOrchestrator(t, adapter)

	emitWhenRequested(t, adapter, dev, platform.Bonding, platform.Bonded)

	paired, err := o.Pair(context.Background(), dev)
	require.NoError(t, err)
	assert.True(t, paired)
	require.Len(t, adapter.CreateBondCalls(), 1)
	assert.Equal(t, dev.Address, adapter.CreateBondCalls()[0].Address)
}

func TestPairRejected(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter()
	o := newOrchestrator(t, adapter)

	emitWhenRequested(t, adapter, dev, platform.Bonding, platform.BondNone)

	paired, err := o.Pair(context.Background(), dev)
	require.NoError(t, err)
	assert.False(t, paired)
}

func TestPairIgnoresOtherDevices(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	other := testutils.Device("11:22:33:44:55:66", "speaker")
	adapter := testutils.NewFakeAdapter()
	o := newOrchestrator(t, adapter)

	go func() {
		if !waitForBondRequest(adapter) {
			return
		}
		adapter.Emit(platform.Event{Kind: platform.BondStateChanged, Device: other, BondState: platform.BondNone})
		adapter.Emit(platform.Event{Kind: platform.BondStateChanged, Device: dev, BondState: platform.Bonded})
	}()

	paired, err := o.Pair(context.Background(), dev)
	require.NoError(t, err)
	assert.True(t, paired)
}

func TestPairWaitsThroughTransientBonding(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter()
	o := newOrchestrator(t, adapter)

	// Only the transient state arrives; Pair must keep waiting until the
	// caller's deadline fires.
	emitWhenRequested(t, adapter, dev, platform.Bonding)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := o.Pair(ctx, dev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPairPrecheckFailure(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	adapter := testutils.NewFakeAdapter().WithRadioEnabled(false)
	o := newOrchestrator(t, adapter)

	paired, err := o.Pair(context.Background(), dev)
	assert.ErrorIs(t, err, platform.ErrDisabled)
	assert.False(t, paired)
	assert.Empty(t, adapter.CreateBondCalls())
}

func TestPairBondCommandError(t *testing.T) {
	dev := testutils.Device("AA:BB:CC:DD:EE:FF", "headset")
	bondErr := errors.New("hci busy")
	adapter := testutils.NewFakeAdapter().WithCreateBondError(bondErr)
	o := newOrchestrator(t, adapter)

	paired, err := o.Pair(context.Background(), dev)
	assert.ErrorIs(t, err, bondErr)
	assert.False(t, paired)
}
