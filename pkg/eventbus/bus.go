// Package eventbus translates the platform adapter's single raw event feed
// into typed, independently subscribable streams. It holds no domain state:
// subscriptions are live-only, with no historical replay.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/groutine"
	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/ringchan"
)

// subscriberBuffer bounds each subscriber's ring so a slow reader drops
// its own oldest events instead of stalling the pump.
const subscriberBuffer = 32

// Bus fans the adapter's event feed out to per-kind subscribers.
type Bus struct {
	adapter platform.Adapter
	logger  *logrus.Logger

	mu       sync.Mutex
	started  bool
	startErr error
	closed   bool
	nextID   uint64
	subs     map[platform.EventKind]map[uint64]*ringchan.RingChannel[platform.Event]
}

// New creates a Bus over the given adapter. The platform feed is opened
// lazily on the first Subscribe call.
func New(adapter platform.Adapter, logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}

	return &Bus{
		adapter: adapter,
		logger:  logger,
		subs:    make(map[platform.EventKind]map[uint64]*ringchan.RingChannel[platform.Event]),
	}
}

// Subscribe returns an independent live stream of events of the given kind
// and a cancel function that detaches the stream. The channel is closed
// when the subscription is cancelled, the bus is closed, or the platform
// feed ends.
//
// If the platform event source cannot be opened, Subscribe fails with
// platform.ErrPlatformUnavailable; the failure is not retried.
func (b *Bus) Subscribe(kind platform.EventKind) (<-chan platform.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, fmt.Errorf("%w: bus closed", platform.ErrPlatformUnavailable)
	}

	if err := b.ensurePumpLocked(); err != nil {
		return nil, nil, err
	}

	rc := ringchan.New[platform.Event](subscriberBuffer)
	id := b.nextID
	b.nextID++

	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]*ringchan.RingChannel[platform.Event])
	}
	b.subs[kind][id] = rc

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[kind][id]; ok {
			delete(b.subs[kind], id)
			sub.Close()
		}
	}

	return rc.C(), cancel, nil
}

// ensurePumpLocked opens the adapter feed and starts the pump goroutine at
// most once. A failed open is cached: every later Subscribe fails the same
// way without retrying.
func (b *Bus) ensurePumpLocked() error {
	if b.startErr != nil {
		return b.startErr
	}
	if b.started {
		return nil
	}

	feed, err := b.adapter.Events()
	if err != nil {
		b.startErr = fmt.Errorf("%w: %v", platform.ErrPlatformUnavailable, err)
		b.logger.WithError(err).Error("Platform event source unavailable")
		return b.startErr
	}
	b.started = true

	groutine.Go(nil, "eventbus-pump", func(_ context.Context) {
		b.pump(feed)
	})

	return nil
}

// pump delivers each platform event to every subscriber of its kind.
// Delivery uses ForceSend, so a full subscriber loses its own oldest event
// rather than blocking the delivering goroutine.
func (b *Bus) pump(feed <-chan platform.Event) {
	for ev := range feed {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		for _, sub := range b.subs[ev.Kind] {
			if dropped := sub.ForceSend(ev); dropped {
				b.logger.WithField("kind", ev.Kind.String()).Warn("Dropped event for slow subscriber")
			}
		}
		b.mu.Unlock()
	}

	// Platform feed ended; subscribers see end-of-stream.
	b.logger.Debug("Platform event feed closed")
	b.Close()
}

// Close detaches and closes all subscriptions. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for kind, subs := range b.subs {
		for id, sub := range subs {
			delete(subs, id)
			sub.Close()
		}
		delete(b.subs, kind)
	}
}
