// Package discovery manages the lifecycle of a single logical inquiry scan.
// Concurrent callers share one underlying radio scan; each finished scan
// closes the current generation, and the next Start opens a fresh one with
// its own dedupe state.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/groutine"
	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/replay"
	"github.com/srg/btlink/internal/ringchan"
	"github.com/srg/btlink/pkg/eventbus"
	"github.com/srg/btlink/pkg/precheck"
)

// subscriberBuffer bounds each caller's device feed.
const subscriberBuffer = 32

type subscriber struct {
	ring *ringchan.RingChannel[platform.RemoteDevice]
	done chan struct{}
}

// generation is the state of one scan: a fresh dedupe set and a fresh set
// of subscriber feeds. It is discarded wholesale when the scan finishes,
// which is what makes "no duplicate within a generation, no promise across
// generations" hold by construction.
type generation struct {
	id     uint64
	seen   *hashmap.Map[string, struct{}]
	subs   map[uint64]*subscriber
	nextID uint64
	cancelFound    func()
	cancelFinished func()
}

// Session coordinates discovery requests against the radio.
type Session struct {
	adapter platform.Adapter
	bus     *eventbus.Bus
	checker *precheck.Checker
	logger  *logrus.Logger

	mu         sync.Mutex
	cur        *generation
	generation uint64
	scanning   *replay.Var[bool]
}

// NewSession creates a discovery session over the given bus and adapter.
func NewSession(adapter platform.Adapter, bus *eventbus.Bus, checker *precheck.Checker, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Session{
		adapter:  adapter,
		bus:      bus,
		checker:  checker,
		logger:   logger,
		scanning: replay.NewVar[bool](),
	}
	s.scanning.Set(false)
	return s
}

// Start begins (or joins) a scan and returns a live feed of discovered
// devices. The feed is closed when the scan finishes or ctx is cancelled.
//
// If a scan of the current generation is already active, no radio command
// is issued; the caller simply attaches to the shared feed. Within one
// generation a device address is delivered at most once per subscriber,
// even if the radio reports it repeatedly.
//
// The precondition check (including scan permissions) runs first; on
// failure no discovery is initiated and the error is returned directly.
func (s *Session) Start(ctx context.Context) (<-chan platform.RemoteDevice, error) {
	if err := s.checker.Check(true); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		gen, err := s.startGenerationLocked()
		if err != nil {
			return nil, err
		}
		s.cur = gen
	}

	gen := s.cur
	sub := &subscriber{
		ring: ringchan.New[platform.RemoteDevice](subscriberBuffer),
		done: make(chan struct{}),
	}
	id := gen.nextID
	gen.nextID++
	gen.subs[id] = sub

	// Detach on ctx cancellation; the done channel stops the watcher when
	// the generation ends first.
	groutine.Go(nil, "discovery-watch", func(_ context.Context) {
		select {
		case <-ctx.Done():
			s.detach(gen, id)
		case <-sub.done:
		}
	})

	return sub.ring.C(), nil
}

// Scanning returns a replay-last-value stream of the scanning flag: a late
// subscriber immediately receives the current state.
func (s *Session) Scanning() (<-chan bool, func()) {
	return s.scanning.Subscribe(4)
}

// Active reports whether a scan generation is currently running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// startGenerationLocked subscribes to the platform feed and issues the
// single StartDiscovery command for a new generation.
func (s *Session) startGenerationLocked() (*generation, error) {
	found, cancelFound, err := s.bus.Subscribe(platform.DeviceFound)
	if err != nil {
		return nil, err
	}
	finished, cancelFinished, err := s.bus.Subscribe(platform.DiscoveryFinished)
	if err != nil {
		cancelFound()
		return nil, err
	}

	if !s.adapter.Discovering() {
		if err := s.adapter.StartDiscovery(); err != nil {
			cancelFound()
			cancelFinished()
			return nil, fmt.Errorf("start discovery: %w", err)
		}
	}

	s.generation++
	gen := &generation{
		id:             s.generation,
		seen:           hashmap.New[string, struct{}](),
		subs:           make(map[uint64]*subscriber),
		cancelFound:    cancelFound,
		cancelFinished: cancelFinished,
	}

	s.logger.WithField("generation", gen.id).Info("Discovery started")
	s.scanning.Set(true)

	groutine.Go(nil, "discovery-pump", func(_ context.Context) {
		s.pump(gen, found, finished)
	})

	return gen, nil
}

// pump forwards device-found events into the generation's feeds until the
// platform reports discovery finished.
func (s *Session) pump(gen *generation, found, finished <-chan platform.Event) {
	for {
		select {
		case ev, ok := <-found:
			if !ok {
				s.finish(gen)
				return
			}
			s.handleFound(gen, ev.Device)
		case <-finished:
			s.finish(gen)
			return
		}
	}
}

// handleFound delivers a discovered device to all subscribers exactly once
// per generation.
func (s *Session) handleFound(gen *generation, dev platform.RemoteDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != gen {
		return
	}

	if _, dup := gen.seen.GetOrInsert(dev.Address, struct{}{}); dup {
		// Radio redundantly re-reported a device of this generation.
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":     dev.Name,
		"address":    dev.Address,
		"generation": gen.id,
	}).Info("Discovered new device")

	for _, sub := range gen.subs {
		sub.ring.ForceSend(dev)
	}
}

// finish closes out a generation: all subscriber feeds end, the scanning
// flag drops, and the bookkeeping resets so the next Start opens a fresh
// generation.
func (s *Session) finish(gen *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != gen {
		return
	}
	s.cur = nil

	for id, sub := range gen.subs {
		delete(gen.subs, id)
		sub.ring.Close()
		close(sub.done)
	}
	gen.cancelFound()
	gen.cancelFinished()

	s.scanning.Set(false)
	s.logger.WithField("generation", gen.id).Info("Discovery finished")
}

// detach removes a single subscriber without ending the generation.
func (s *Session) detach(gen *generation, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := gen.subs[id]
	if !ok {
		return
	}
	delete(gen.subs, id)
	sub.ring.Close()
	close(sub.done)
}
