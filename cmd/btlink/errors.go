package main

import (
	"errors"
	"strings"

	"github.com/srg/btlink/internal/platform"
)

// FormatUserError turns core errors into actionable one-line messages for
// the terminal; anything unrecognized falls through verbatim.
func FormatUserError(err error) string {
	var perr *platform.PreconditionError
	if errors.As(err, &perr) {
		switch perr.Kind {
		case platform.Unsupported:
			return "this system has no Bluetooth adapter"
		case platform.Disabled:
			return "Bluetooth is turned off - enable it and try again"
		case platform.PermissionDenied:
			return "missing permissions: " + strings.Join(perr.Missing, ", ")
		}
	}

	switch {
	case errors.Is(err, platform.ErrPairingFailed):
		return "pairing was rejected or cancelled by the remote device"
	case errors.Is(err, platform.ErrPlatformUnavailable):
		return "cannot talk to the Bluetooth service - is bluetoothd running?"
	}

	return err.Error()
}
