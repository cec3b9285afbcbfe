package testutils

import (
	"bytes"
	"context"
	"sync"

	"github.com/srg/btlink/internal/platform"
)

// FakeAdapter is a scriptable platform.Adapter for tests. Behavior is
// configured with builder-style With* methods; commands are recorded so
// tests can assert on what was (not) issued; events are injected with Emit.
type FakeAdapter struct {
	mu sync.Mutex

	radioSupported bool
	radioEnabled   bool
	permissions    map[string]bool
	bonded         []platform.RemoteDevice
	discovering    bool

	startDiscoveryErr error
	createBondErr     error
	openSocketFn      func(ctx context.Context, device platform.RemoteDevice, serviceUUID string) (platform.Socket, error)
	eventsErr         error

	events chan platform.Event

	startDiscoveryCalls int
	createBondCalls     []platform.RemoteDevice
	openSocketCalls     []platform.RemoteDevice
}

// NewFakeAdapter creates a healthy adapter: radio supported and enabled,
// every permission granted, no bonded devices.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		radioSupported: true,
		radioEnabled:   true,
		permissions:    make(map[string]bool),
		events:         make(chan platform.Event, 64),
	}
}

func (f *FakeAdapter) WithRadioSupported(supported bool) *FakeAdapter {
	f.radioSupported = supported
	return f
}

func (f *FakeAdapter) WithRadioEnabled(enabled bool) *FakeAdapter {
	f.radioEnabled = enabled
	return f
}

// WithPermissionDenied marks the named permissions as denied; everything
// else stays granted.
func (f *FakeAdapter) WithPermissionDenied(names ...string) *FakeAdapter {
	for _, name := range names {
		f.permissions[name] = false
	}
	return f
}

func (f *FakeAdapter) WithBonded(devices ...platform.RemoteDevice) *FakeAdapter {
	f.bonded = append(f.bonded, devices...)
	return f
}

func (f *FakeAdapter) WithStartDiscoveryError(err error) *FakeAdapter {
	f.startDiscoveryErr = err
	return f
}

func (f *FakeAdapter) WithCreateBondError(err error) *FakeAdapter {
	f.createBondErr = err
	return f
}

// WithOpenSocket overrides the socket-open behavior. The default returns a
// fresh FakeSocket.
func (f *FakeAdapter) WithOpenSocket(fn func(ctx context.Context, device platform.RemoteDevice, serviceUUID string) (platform.Socket, error)) *FakeAdapter {
	f.openSocketFn = fn
	return f
}

// WithEventsError makes Events fail, simulating an unavailable platform
// event source.
func (f *FakeAdapter) WithEventsError(err error) *FakeAdapter {
	f.eventsErr = err
	return f
}

// Emit injects a platform event into the feed.
func (f *FakeAdapter) Emit(ev platform.Event) {
	f.events <- ev
}

// CloseEvents ends the event feed.
func (f *FakeAdapter) CloseEvents() {
	close(f.events)
}

// StartDiscoveryCalls reports how many StartDiscovery commands were issued.
func (f *FakeAdapter) StartDiscoveryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startDiscoveryCalls
}

// CreateBondCalls returns the devices bond requests were issued for.
func (f *FakeAdapter) CreateBondCalls() []platform.RemoteDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.RemoteDevice(nil), f.createBondCalls...)
}

// OpenSocketCalls returns the devices socket opens were attempted for.
func (f *FakeAdapter) OpenSocketCalls() []platform.RemoteDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.RemoteDevice(nil), f.openSocketCalls...)
}

// platform.Adapter implementation

func (f *FakeAdapter) RadioSupported() bool {
	return f.radioSupported
}

func (f *FakeAdapter) RadioEnabled() bool {
	return f.radioEnabled
}

func (f *FakeAdapter) HasPermission(name string) bool {
	granted, overridden := f.permissions[name]
	if !overridden {
		return true
	}
	return granted
}

func (f *FakeAdapter) BondedDevices() []platform.RemoteDevice {
	return append([]platform.RemoteDevice(nil), f.bonded...)
}

func (f *FakeAdapter) StartDiscovery() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startDiscoveryErr != nil {
		return f.startDiscoveryErr
	}
	f.startDiscoveryCalls++
	f.discovering = true
	return nil
}

func (f *FakeAdapter) Discovering() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovering
}

// FinishDiscovery flips the discovering flag back; tests emit the matching
// DiscoveryFinished event themselves.
func (f *FakeAdapter) FinishDiscovery() {
	f.mu.Lock()
	f.discovering = false
	f.mu.Unlock()
}

func (f *FakeAdapter) CreateBond(device platform.RemoteDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createBondErr != nil {
		return f.createBondErr
	}
	f.createBondCalls = append(f.createBondCalls, device)
	return nil
}

func (f *FakeAdapter) OpenSocket(ctx context.Context, device platform.RemoteDevice, serviceUUID string) (platform.Socket, error) {
	f.mu.Lock()
	f.openSocketCalls = append(f.openSocketCalls, device)
	fn := f.openSocketFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, device, serviceUUID)
	}
	return NewFakeSocket(device.Address), nil
}

func (f *FakeAdapter) Events() (<-chan platform.Event, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

// FakeSocket is an in-memory platform.Socket.
type FakeSocket struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	addr   string
	closed bool
}

func NewFakeSocket(addr string) *FakeSocket {
	return &FakeSocket{addr: addr}
}

func (s *FakeSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Read(p)
}

func (s *FakeSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FakeSocket) RemoteAddress() string {
	return s.addr
}
