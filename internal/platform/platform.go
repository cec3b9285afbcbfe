// Package platform defines the contract between the session core and the
// physical radio stack. The core never talks to hardware directly; it issues
// commands and consumes events through an Adapter supplied by the host
// (see internal/bluez for the Linux implementation).
package platform

import (
	"context"
	"io"
)

// SPPUUID is the Serial Port Profile UUID used for RFCOMM connections.
const SPPUUID = "00001101-0000-1000-8000-00805f9b34fb"

// RemoteDevice identifies a nearby classic Bluetooth peer. Address is the
// identity; two values with the same address refer to the same device.
type RemoteDevice struct {
	Address string
	Name    string
	Bonded  bool
}

// ConnectionState is the coarse link state tracked per remote device.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// BondState is the three-valued pairing status reported by the radio stack.
type BondState int

const (
	BondNone BondState = iota
	Bonding
	Bonded
)

func (s BondState) String() string {
	switch s {
	case BondNone:
		return "none"
	case Bonding:
		return "bonding"
	case Bonded:
		return "bonded"
	default:
		return "unknown"
	}
}

// EventKind enumerates the unsolicited events an Adapter delivers.
type EventKind int

const (
	DeviceFound EventKind = iota
	DiscoveryStarted
	DiscoveryFinished
	BondStateChanged
	LinkConnected
	LinkDisconnected
)

func (k EventKind) String() string {
	switch k {
	case DeviceFound:
		return "device_found"
	case DiscoveryStarted:
		return "discovery_started"
	case DiscoveryFinished:
		return "discovery_finished"
	case BondStateChanged:
		return "bond_state_changed"
	case LinkConnected:
		return "link_connected"
	case LinkDisconnected:
		return "link_disconnected"
	default:
		return "unknown"
	}
}

// Event is a single platform broadcast. Device is set for all kinds except
// DiscoveryStarted/DiscoveryFinished; BondState is meaningful only for
// BondStateChanged.
type Event struct {
	Kind      EventKind
	Device    RemoteDevice
	BondState BondState
}

// Socket is an established RFCOMM byte stream.
type Socket interface {
	io.ReadWriteCloser
	RemoteAddress() string
}

// Adapter is the radio-facing surface the session core depends on.
//
// Commands are imperative and mostly fire-and-forget; their outcomes are
// observed through Events(). OpenSocket is the single blocking call and
// honors ctx cancellation. Implementations must deliver events from a
// single goroutine but may do so concurrently with command calls.
type Adapter interface {
	// RadioSupported reports whether the host exposes radio hardware at all.
	RadioSupported() bool

	// RadioEnabled reports whether the radio is powered on.
	RadioEnabled() bool

	// HasPermission reports whether the named host permission is granted.
	HasPermission(name string) bool

	// BondedDevices returns the current set of bonded peers.
	BondedDevices() []RemoteDevice

	// StartDiscovery asks the radio to begin an inquiry scan. Progress and
	// results arrive as DiscoveryStarted/DeviceFound/DiscoveryFinished events.
	StartDiscovery() error

	// Discovering reports whether the radio is currently scanning.
	Discovering() bool

	// CreateBond initiates pairing with the device. The outcome arrives as
	// BondStateChanged events; the command itself only reports submission
	// failures.
	CreateBond(device RemoteDevice) error

	// OpenSocket performs the service-record lookup and RFCOMM connect
	// handshake for the given service UUID. It blocks until the link is up,
	// the handshake fails, or ctx is cancelled.
	OpenSocket(ctx context.Context, device RemoteDevice, serviceUUID string) (Socket, error)

	// Events returns the live platform event feed. The channel is infinite
	// and never replayed; it fails with ErrPlatformUnavailable if the host
	// event source cannot be opened.
	Events() (<-chan Event, error)
}
