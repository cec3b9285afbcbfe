//go:build !linux

// Package bluez implements platform.Adapter on top of the BlueZ D-Bus API.
// BlueZ only exists on Linux; other platforms get a constructor error so
// the CLI still builds everywhere.
package bluez

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/platform"
)

// Adapter is unavailable off Linux. All methods report that.
type Adapter struct{}

// New always fails on non-Linux platforms.
func New(_ *logrus.Logger) (*Adapter, error) {
	return nil, fmt.Errorf("%w: bluez adapter requires linux, running on %s",
		platform.ErrPlatformUnavailable, runtime.GOOS)
}

func (a *Adapter) RadioSupported() bool                       { return false }
func (a *Adapter) RadioEnabled() bool                         { return false }
func (a *Adapter) HasPermission(string) bool                  { return false }
func (a *Adapter) BondedDevices() []platform.RemoteDevice     { return nil }
func (a *Adapter) StartDiscovery() error                      { return platform.ErrUnsupported }
func (a *Adapter) Discovering() bool                          { return false }
func (a *Adapter) CreateBond(platform.RemoteDevice) error     { return platform.ErrUnsupported }
func (a *Adapter) Close() error                               { return nil }

func (a *Adapter) OpenSocket(context.Context, platform.RemoteDevice, string) (platform.Socket, error) {
	return nil, platform.ErrUnsupported
}

func (a *Adapter) Events() (<-chan platform.Event, error) {
	return nil, platform.ErrPlatformUnavailable
}
