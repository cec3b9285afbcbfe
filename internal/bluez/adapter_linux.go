//go:build linux

// Package bluez implements platform.Adapter on top of the BlueZ D-Bus API.
// It is a thin shim: all radio work (inquiry, bonding handshake, RFCOMM
// negotiation) happens inside bluetoothd; this package translates D-Bus
// calls and signals to and from the session core's contract.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/internal/ringchan"
)

const (
	bluezService        = "org.bluez"
	profileIfaceName    = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	adapterIface        = "org.bluez.Adapter1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"
)

// eventBuffer bounds the adapter's outbound event feed.
const eventBuffer = 64

var pathCounter uint64

// Adapter talks to the first BlueZ adapter on the system bus.
type Adapter struct {
	logger *logrus.Logger

	mu          sync.Mutex
	bus         *dbus.Conn
	adapterPath dbus.ObjectPath
	closed      bool

	events    *ringchan.RingChannel[platform.Event]
	eventsErr error
	pumping   bool

	profileExported bool
	profilePath     dbus.ObjectPath
	fdWaiters       map[string]chan fdResult

	cleanup []func()
}

type fdResult struct {
	fd  int
	err error
}

// New connects to the system bus and locates the first Bluetooth adapter.
// A missing bus is an error; a missing adapter is not (RadioSupported will
// report false).
func New(logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %v", platform.ErrPlatformUnavailable, err)
	}

	a := &Adapter{
		logger:    logger,
		bus:       conn,
		events:    ringchan.New[platform.Event](eventBuffer),
		fdWaiters: make(map[string]chan fdResult),
	}
	a.cleanup = append(a.cleanup, func() { _ = conn.Close() })

	if path, ok := a.findAdapter(); ok {
		a.adapterPath = path
		logger.WithField("adapter", string(path)).Info("Found Bluetooth adapter")
	} else {
		logger.Warn("No Bluetooth adapter present")
	}

	return a, nil
}

// findAdapter returns the object path of the first Adapter1 on the bus.
func (a *Adapter) findAdapter() (dbus.ObjectPath, bool) {
	objs, err := a.managedObjects()
	if err != nil {
		a.logger.WithError(err).Warn("GetManagedObjects failed")
		return "", false
	}
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok {
			return path, true
		}
	}
	return "", false
}

func (a *Adapter) managedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := a.bus.Object(bluezService, dbus.ObjectPath("/"))
	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// RadioSupported reports whether an adapter object exists on the bus.
func (a *Adapter) RadioSupported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapterPath != ""
}

// RadioEnabled reads Adapter1.Powered.
func (a *Adapter) RadioEnabled() bool {
	a.mu.Lock()
	path := a.adapterPath
	a.mu.Unlock()
	if path == "" {
		return false
	}

	v, err := a.bus.Object(bluezService, path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		a.logger.WithError(err).Warn("Reading Powered property failed")
		return false
	}
	powered, _ := v.Value().(bool)
	return powered
}

// HasPermission always reports true: BlueZ enforces access via polkit at
// the D-Bus boundary, so there is no separate grant to query.
func (a *Adapter) HasPermission(name string) bool {
	a.logger.WithField("permission", name).Debug("Permission check delegated to polkit")
	return true
}

// BondedDevices snapshots all Device1 objects with Paired=true.
func (a *Adapter) BondedDevices() []platform.RemoteDevice {
	objs, err := a.managedObjects()
	if err != nil {
		a.logger.WithError(err).Warn("Bonded device snapshot failed")
		return nil
	}

	var out []platform.RemoteDevice
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		paired, _ := variantBool(props, "Paired")
		if !paired {
			continue
		}
		out = append(out, deviceFromProps(path, props))
	}
	return out
}

// StartDiscovery issues Adapter1.StartDiscovery.
func (a *Adapter) StartDiscovery() error {
	a.mu.Lock()
	path := a.adapterPath
	a.mu.Unlock()
	if path == "" {
		return platform.ErrUnsupported
	}

	if err := a.bus.Object(bluezService, path).Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("bluez: StartDiscovery: %w", err)
	}
	return nil
}

// Discovering reads Adapter1.Discovering.
func (a *Adapter) Discovering() bool {
	a.mu.Lock()
	path := a.adapterPath
	a.mu.Unlock()
	if path == "" {
		return false
	}

	v, err := a.bus.Object(bluezService, path).GetProperty(adapterIface + ".Discovering")
	if err != nil {
		return false
	}
	discovering, _ := v.Value().(bool)
	return discovering
}

// CreateBond fires Device1.Pair without waiting for it. The outcome
// surfaces as BondStateChanged events derived from the Paired property and
// from the Pair reply itself.
func (a *Adapter) CreateBond(device platform.RemoteDevice) error {
	path := devicePath(a.adapterPathOr(), device.Address)
	obj := a.bus.Object(bluezService, path)

	a.events.ForceSend(platform.Event{
		Kind:      platform.BondStateChanged,
		Device:    device,
		BondState: platform.Bonding,
	})

	call := obj.Go(deviceIface+".Pair", 0, make(chan *dbus.Call, 1))
	go func() {
		<-call.Done
		if call.Err != nil {
			a.logger.WithError(call.Err).WithField("address", device.Address).Warn("Pair failed")
			a.events.ForceSend(platform.Event{
				Kind:      platform.BondStateChanged,
				Device:    device,
				BondState: platform.BondNone,
			})
			return
		}
		a.events.ForceSend(platform.Event{
			Kind:      platform.BondStateChanged,
			Device:    device,
			BondState: platform.Bonded,
		})
	}()

	return nil
}

// OpenSocket registers a client SPP profile (once) and waits for BlueZ to
// hand over the RFCOMM file descriptor via Profile1.NewConnection.
func (a *Adapter) OpenSocket(ctx context.Context, device platform.RemoteDevice, serviceUUID string) (platform.Socket, error) {
	if err := a.ensureProfile(serviceUUID); err != nil {
		return nil, err
	}

	path := devicePath(a.adapterPathOr(), device.Address)

	ch := make(chan fdResult, 1)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, errors.New("bluez: adapter closed")
	}
	a.fdWaiters[device.Address] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.fdWaiters, device.Address)
		a.mu.Unlock()
	}()

	obj := a.bus.Object(bluezService, path)
	if err := obj.CallWithContext(ctx, deviceIface+".ConnectProfile", 0, serviceUUID).Err; err != nil {
		return nil, fmt.Errorf("bluez: ConnectProfile: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bluez: connect canceled: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return &socket{
			file: os.NewFile(uintptr(res.fd), "rfcomm"),
			addr: device.Address,
		}, nil
	}
}

// ensureProfile exports and registers the client Profile1 object at most
// once per adapter instance.
func (a *Adapter) ensureProfile(serviceUUID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("bluez: adapter closed")
	}
	if a.profileExported {
		return nil
	}

	id := atomic.AddUint64(&pathCounter, 1)
	a.profilePath = dbus.ObjectPath("/com/srg/btlink/profile/p" + strconv.FormatUint(id, 10))

	prof := &profile{adapter: a}
	if err := a.bus.Export(prof, a.profilePath, profileIfaceName); err != nil {
		return fmt.Errorf("bluez: export profile: %w", err)
	}

	pm := a.bus.Object(bluezService, dbus.ObjectPath("/org/bluez"))
	opts := map[string]dbus.Variant{
		"Role": dbus.MakeVariant("client"),
	}
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, a.profilePath, serviceUUID, opts); call.Err != nil {
		return fmt.Errorf("bluez: RegisterProfile: %w", call.Err)
	}

	profilePath := a.profilePath
	a.cleanup = append(a.cleanup, func() {
		_ = pm.Call(profileManagerIface+".UnregisterProfile", 0, profilePath).Err
		_ = a.bus.Export(nil, profilePath, profileIfaceName)
	})
	a.profileExported = true
	return nil
}

// deliverFD routes an incoming RFCOMM FD to the waiter for that device, or
// closes it when nobody is waiting.
func (a *Adapter) deliverFD(devPath dbus.ObjectPath, fd int) bool {
	addr := macFromPath(devPath)

	a.mu.Lock()
	ch, ok := a.fdWaiters[addr]
	if ok {
		delete(a.fdWaiters, addr)
	}
	a.mu.Unlock()

	if !ok {
		_ = os.NewFile(uintptr(fd), "rfcomm").Close()
		return false
	}

	ch <- fdResult{fd: fd}
	return true
}

// Events starts the D-Bus signal pump on first call and returns the feed.
func (a *Adapter) Events() (<-chan platform.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.eventsErr != nil {
		return nil, a.eventsErr
	}
	if a.pumping {
		return a.events.C(), nil
	}

	sigCh := make(chan *dbus.Signal, 32)
	a.bus.Signal(sigCh)

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged")},
	}
	for _, m := range matches {
		if err := a.bus.AddMatchSignal(m...); err != nil {
			a.bus.RemoveSignal(sigCh)
			a.eventsErr = fmt.Errorf("%w: AddMatchSignal: %v", platform.ErrPlatformUnavailable, err)
			return nil, a.eventsErr
		}
	}
	a.cleanup = append(a.cleanup, func() {
		a.bus.RemoveSignal(sigCh)
		for _, m := range matches {
			_ = a.bus.RemoveMatchSignal(m...)
		}
	})
	a.pumping = true

	go a.pumpSignals(sigCh)

	return a.events.C(), nil
}

// pumpSignals translates raw D-Bus signals into platform events.
func (a *Adapter) pumpSignals(sigCh <-chan *dbus.Signal) {
	for sig := range sigCh {
		if sig == nil {
			continue
		}
		switch sig.Name {
		case objManagerIface + ".InterfacesAdded":
			a.handleInterfacesAdded(sig)
		case propsIface + ".PropertiesChanged":
			a.handlePropertiesChanged(sig)
		}
	}
}

func (a *Adapter) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	path, _ := sig.Body[0].(dbus.ObjectPath)
	ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
	props, ok := ifaces[deviceIface]
	if !ok {
		return
	}

	a.events.ForceSend(platform.Event{
		Kind:   platform.DeviceFound,
		Device: deviceFromProps(path, props),
	})
}

func (a *Adapter) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	if changed == nil {
		return
	}

	switch iface {
	case adapterIface:
		if v, ok := changed["Discovering"]; ok {
			kind := platform.DiscoveryFinished
			if b, _ := v.Value().(bool); b {
				kind = platform.DiscoveryStarted
			}
			a.events.ForceSend(platform.Event{Kind: kind})
		}
	case deviceIface:
		dev := platform.RemoteDevice{Address: macFromPath(sig.Path)}
		if v, ok := changed["Paired"]; ok {
			state := platform.BondNone
			if b, _ := v.Value().(bool); b {
				state = platform.Bonded
				dev.Bonded = true
			}
			a.events.ForceSend(platform.Event{
				Kind:      platform.BondStateChanged,
				Device:    dev,
				BondState: state,
			})
		}
		if v, ok := changed["Connected"]; ok {
			kind := platform.LinkDisconnected
			if b, _ := v.Value().(bool); b {
				kind = platform.LinkConnected
			}
			a.events.ForceSend(platform.Event{Kind: kind, Device: dev})
		}
	}
}

// Close releases profile registrations, signal matches, and the bus.
// Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		if cleanup[i] != nil {
			cleanup[i]()
		}
	}
	a.events.Close()
	return nil
}

func (a *Adapter) adapterPathOr() dbus.ObjectPath {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.adapterPath == "" {
		return dbus.ObjectPath("/org/bluez/hci0")
	}
	return a.adapterPath
}

// profile implements org.bluez.Profile1 and forwards NewConnection FDs.
type profile struct {
	adapter *Adapter
}

// Release is called by BlueZ when the profile is being released.
func (p *profile) Release() *dbus.Error { return nil }

// Cancel may be called to indicate a canceled request.
func (p *profile) Cancel() *dbus.Error { return nil }

// RequestDisconnection is ignored; teardown is driven by socket Close.
func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

// NewConnection delivers the incoming RFCOMM socket FD to the waiting
// OpenSocket call.
func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	if !p.adapter.deliverFD(dev, int(fd)) {
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
	return nil
}

// socket wraps the BlueZ-provided RFCOMM file descriptor.
type socket struct {
	file *os.File
	addr string
}

func (s *socket) Read(p []byte) (int, error)  { return s.file.Read(p) }
func (s *socket) Write(p []byte) (int, error) { return s.file.Write(p) }
func (s *socket) Close() error                { return s.file.Close() }
func (s *socket) RemoteAddress() string       { return s.addr }

// Helpers

func variantBool(props map[string]dbus.Variant, key string) (bool, bool) {
	v, ok := props[key]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) platform.RemoteDevice {
	dev := platform.RemoteDevice{}
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if dev.Address == "" {
		dev.Address = macFromPath(path)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if v, ok := props["Alias"]; ok && dev.Name == "" {
		dev.Name, _ = v.Value().(string)
	}
	dev.Bonded, _ = variantBool(props, "Paired")
	return dev
}

// devicePath builds the Device1 object path for an address, e.g.
// /org/bluez/hci0/dev_XX_XX_XX_XX_XX_XX.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(address, ":", "_"))
}

func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	mac := s[idx+5:]
	return strings.ReplaceAll(mac, "_", ":")
}
