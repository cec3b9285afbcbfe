package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Host permission names checked by the precondition layer. The base set is
// required for every radio operation; the scan set is additionally required
// for discovery.
const (
	PermBluetooth        = "bluetooth"
	PermBluetoothConnect = "bluetooth_connect"
	PermBluetoothScan    = "bluetooth_scan"
	PermLocation         = "location"
)

// BasePermissions returns the permission names required by every operation.
func BasePermissions() []string {
	return []string{PermBluetooth, PermBluetoothConnect}
}

// ScanPermissions returns the additional permission names required to scan.
func ScanPermissions() []string {
	return []string{PermBluetoothScan, PermLocation}
}

// PreconditionKind represents the specific kind of precondition failure
type PreconditionKind string

const (
	Unsupported      PreconditionKind = "unsupported"
	Disabled         PreconditionKind = "disabled"
	PermissionDenied PreconditionKind = "permission_denied"
)

// PreconditionError reports why an operation was refused before any radio
// command was issued. Missing is populated only for PermissionDenied and
// carries the complete set of denied permissions, not just the first.
type PreconditionError struct {
	Kind    PreconditionKind
	Missing []string
}

// Error implements the error interface
func (e *PreconditionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind == PermissionDenied && len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing %s", e.Kind, strings.Join(e.Missing, ", "))
	}
	switch e.Kind {
	case Unsupported:
		return "unsupported: no radio hardware"
	case Disabled:
		return "disabled: radio is powered off"
	default:
		return string(e.Kind)
	}
}

// Is allows errors.Is to compare PreconditionError values by Kind
func (e *PreconditionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*PreconditionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for precondition kinds
var (
	ErrUnsupported      = &PreconditionError{Kind: Unsupported}
	ErrDisabled         = &PreconditionError{Kind: Disabled}
	ErrPermissionDenied = &PreconditionError{Kind: PermissionDenied}
)

// Operation errors
var (
	// ErrPlatformUnavailable means the host event source cannot be opened;
	// no subscription-based operation can work.
	ErrPlatformUnavailable = errors.New("platform event source unavailable")

	// ErrPairingFailed is returned by connect when the bond handshake ends
	// in a non-bonded state.
	ErrPairingFailed = errors.New("pairing failed")
)

// IsPrecondition reports whether err is a PreconditionError with the given kind
func IsPrecondition(err error, kind PreconditionKind) bool {
	var perr *PreconditionError
	if errors.As(err, &perr) {
		return perr.Kind == kind
	}
	return false
}
