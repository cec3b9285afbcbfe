// Package pairing drives the bond-request / bond-state-changed handshake
// into a single deterministic boolean outcome.
package pairing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/pkg/eventbus"
	"github.com/srg/btlink/pkg/precheck"
)

// Orchestrator pairs with remote devices.
type Orchestrator struct {
	adapter platform.Adapter
	bus     *eventbus.Bus
	checker *precheck.Checker
	logger  *logrus.Logger
}

// NewOrchestrator creates a pairing orchestrator.
func NewOrchestrator(adapter platform.Adapter, bus *eventbus.Bus, checker *precheck.Checker, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}

	return &Orchestrator{
		adapter: adapter,
		bus:     bus,
		checker: checker,
		logger:  logger,
	}
}

// Pair bonds with the device and reports the outcome.
//
// An already-bonded device resolves true immediately: no precondition
// check, no event subscription, no radio command. Otherwise the base
// precondition set is checked, the bond request is issued, and Pair waits
// for the first bond-state event for this device that is not the transient
// Bonding value: Bonded maps to true, BondNone to false.
//
// There is no internal timeout; bound the wait with ctx. Cancelling ctx
// stops listening but does not abort the platform-level bond request.
func (o *Orchestrator) Pair(ctx context.Context, device platform.RemoteDevice) (bool, error) {
	if o.isBonded(device) {
		o.logger.WithField("address", device.Address).Debug("Device already bonded")
		return true, nil
	}

	if err := o.checker.Check(false); err != nil {
		return false, err
	}

	// Subscribe before issuing the command so the terminal event cannot be
	// missed in the gap.
	events, cancel, err := o.bus.Subscribe(platform.BondStateChanged)
	if err != nil {
		return false, err
	}
	defer cancel()

	if err := o.adapter.CreateBond(device); err != nil {
		return false, fmt.Errorf("create bond: %w", err)
	}

	o.logger.WithField("address", device.Address).Info("Bond requested, awaiting outcome")

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return false, platform.ErrPlatformUnavailable
			}
			if ev.Device.Address != device.Address {
				continue
			}
			switch ev.BondState {
			case platform.Bonding:
				// Transient; keep waiting for the terminal state.
			case platform.Bonded:
				o.logger.WithField("address", device.Address).Info("Device bonded")
				return true, nil
			case platform.BondNone:
				o.logger.WithField("address", device.Address).Warn("Bonding ended without a bond")
				return false, nil
			}
		}
	}
}

// isBonded checks both the device's own flag and the adapter's current
// bonded set, so stale snapshots passed by the caller still short-circuit.
func (o *Orchestrator) isBonded(device platform.RemoteDevice) bool {
	if device.Bonded {
		return true
	}
	for _, d := range o.adapter.BondedDevices() {
		if d.Address == device.Address {
			return true
		}
	}
	return false
}
