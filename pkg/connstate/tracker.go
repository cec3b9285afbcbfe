// Package connstate keeps the last known connection state per remote
// device, fed both by unsolicited link events and by the connection
// orchestrator's own transitions, and replays the latest change to late
// subscribers.
package connstate

import (
	"context"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/groutine"
	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/replay"
	"github.com/srg/btlink/pkg/eventbus"
)

// StateChange is one publication: a device and its new state.
type StateChange struct {
	State  platform.ConnectionState
	Device platform.RemoteDevice
}

// Tracker is the single writer of connection state. Observers get
// replay-last-value semantics: the most recent change first, then all
// subsequent ones. Republishing the same state for a device is legal and
// observable; no deduplication is performed.
type Tracker struct {
	bus    *eventbus.Bus
	logger *logrus.Logger

	latest  *hashmap.Map[string, platform.ConnectionState]
	changes *replay.Var[StateChange]

	mu       sync.Mutex
	started  bool
	startErr error
	cancels  []func()
	closed   bool
}

// NewTracker creates a tracker over the given bus. Platform subscriptions
// are established lazily on the first Observe call and then persist until
// Close.
func NewTracker(bus *eventbus.Bus, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}

	return &Tracker{
		bus:     bus,
		logger:  logger,
		latest:  hashmap.New[string, platform.ConnectionState](),
		changes: replay.NewVar[StateChange](),
	}
}

// Observe returns a stream of state changes. A subscriber joining after a
// change was published immediately receives the latest change as its first
// item. The cancel function detaches the subscriber.
func (t *Tracker) Observe() (<-chan StateChange, func(), error) {
	if err := t.ensureStarted(); err != nil {
		return nil, nil, err
	}

	ch, cancel := t.changes.Subscribe(16)
	return ch, cancel, nil
}

// Publish records a state transition originating inside the core (the
// connection orchestrator). Safe to call before any Observe.
func (t *Tracker) Publish(state platform.ConnectionState, device platform.RemoteDevice) {
	t.latest.Set(device.Address, state)
	t.changes.Set(StateChange{State: state, Device: device})

	t.logger.WithFields(logrus.Fields{
		"address": device.Address,
		"state":   state.String(),
	}).Debug("Connection state published")
}

// Latest returns the last known state for a device. Absence means the
// device was never seen, which callers should read as disconnected.
func (t *Tracker) Latest(device platform.RemoteDevice) (platform.ConnectionState, bool) {
	return t.latest.Get(device.Address)
}

// ensureStarted wires the unsolicited link-event subscriptions exactly
// once. A failure is cached; the tracker does not retry.
func (t *Tracker) ensureStarted() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startErr != nil {
		return t.startErr
	}
	if t.started || t.closed {
		return nil
	}

	connected, cancelConn, err := t.bus.Subscribe(platform.LinkConnected)
	if err != nil {
		t.startErr = err
		return err
	}
	disconnected, cancelDisc, err := t.bus.Subscribe(platform.LinkDisconnected)
	if err != nil {
		cancelConn()
		t.startErr = err
		return err
	}

	t.cancels = append(t.cancels, cancelConn, cancelDisc)
	t.started = true

	groutine.Go(nil, "connstate-pump", func(_ context.Context) {
		t.pump(connected, disconnected)
	})

	return nil
}

// pump maps unsolicited link events directly onto state publications.
func (t *Tracker) pump(connected, disconnected <-chan platform.Event) {
	for connected != nil || disconnected != nil {
		select {
		case ev, ok := <-connected:
			if !ok {
				connected = nil
				continue
			}
			t.Publish(platform.Connected, ev.Device)
		case ev, ok := <-disconnected:
			if !ok {
				disconnected = nil
				continue
			}
			t.Publish(platform.Disconnected, ev.Device)
		}
	}
}

// Close tears down the platform subscriptions and all observer streams.
// The base design never calls this during normal operation; it exists so
// hosts can shut the tracker down explicitly. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for _, cancel := range t.cancels {
		cancel()
	}
	t.cancels = nil
	t.changes.Close()
}
