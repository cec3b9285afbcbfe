// Package connection composes precondition check, pairing, and socket
// establishment into a single connect operation with ordered state
// publications.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/pkg/connstate"
	"github.com/srg/btlink/pkg/pairing"
	"github.com/srg/btlink/pkg/precheck"
)

// ConnectOptions configures a connect attempt.
type ConnectOptions struct {
	ServiceUUID    string        // service record to look up; defaults to SPP
	ConnectTimeout time.Duration // 0 means no bound beyond ctx
}

// DefaultConnectOptions returns sensible defaults for an SPP connection.
func DefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		ServiceUUID:    platform.SPPUUID,
		ConnectTimeout: 30 * time.Second,
	}
}

// Orchestrator establishes serial-port connections to remote devices.
type Orchestrator struct {
	adapter platform.Adapter
	checker *precheck.Checker
	pairer  *pairing.Orchestrator
	tracker *connstate.Tracker
	logger  *logrus.Logger
}

// NewOrchestrator creates a connection orchestrator.
func NewOrchestrator(adapter platform.Adapter, checker *precheck.Checker, pairer *pairing.Orchestrator, tracker *connstate.Tracker, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}

	return &Orchestrator{
		adapter: adapter,
		checker: checker,
		pairer:  pairer,
		tracker: tracker,
		logger:  logger,
	}
}

// Connect runs the full pipeline: precondition check, pairing, then the
// blocking socket-open handshake. Tracker publications for the device are
// strictly ordered (Connecting before Connected/Disconnected) and all
// happen before Connect returns.
//
// The socket handshake is inherently blocking; callers must not invoke
// Connect from an event-delivery goroutine.
func (o *Orchestrator) Connect(ctx context.Context, device platform.RemoteDevice, opts *ConnectOptions) (platform.Socket, error) {
	if opts == nil {
		opts = DefaultConnectOptions()
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = platform.SPPUUID
	}

	if err := o.checker.Check(false); err != nil {
		// Re-publishing Disconnected is always safe; no other state changed.
		o.tracker.Publish(platform.Disconnected, device)
		return nil, err
	}

	paired, err := o.pairer.Pair(ctx, device)
	if err != nil {
		o.tracker.Publish(platform.Disconnected, device)
		return nil, err
	}
	if !paired {
		o.tracker.Publish(platform.Disconnected, device)
		return nil, platform.ErrPairingFailed
	}

	o.tracker.Publish(platform.Connecting, device)
	o.logger.WithFields(logrus.Fields{
		"address": device.Address,
		"service": opts.ServiceUUID,
	}).Info("Opening serial socket")

	openCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	socket, err := o.adapter.OpenSocket(openCtx, device, opts.ServiceUUID)
	if err != nil {
		o.tracker.Publish(platform.Disconnected, device)
		return nil, fmt.Errorf("open socket: %w", err)
	}

	o.tracker.Publish(platform.Connected, device)
	o.logger.WithField("address", device.Address).Info("Serial connection established")

	return socket, nil
}
