package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/btlink/internal/bluez"
	"github.com/srg/btlink/pkg/config"
	"github.com/srg/btlink/pkg/connection"
	"github.com/srg/btlink/pkg/connstate"
	"github.com/srg/btlink/pkg/discovery"
	"github.com/srg/btlink/pkg/eventbus"
	"github.com/srg/btlink/pkg/pairing"
	"github.com/srg/btlink/pkg/precheck"
)

// core bundles the session components a command needs, wired over the
// BlueZ adapter.
type core struct {
	cfg       *config.Config
	logger    *logrus.Logger
	adapter   *bluez.Adapter
	bus       *eventbus.Bus
	checker   *precheck.Checker
	discovery *discovery.Session
	pairer    *pairing.Orchestrator
	tracker   *connstate.Tracker
	connector *connection.Orchestrator
}

// newCore loads configuration and builds the component graph.
func newCore(cmd *cobra.Command) (*core, error) {
	cfgPath, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	defaultLevel := ""
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		// An explicit config file also sets the default log level.
		defaultLevel = cfg.LogLevel
	} else {
		cfg = config.DefaultConfig()
	}

	logger, err := configureLogger(cmd, defaultLevel)
	if err != nil {
		return nil, err
	}

	adapter, err := bluez.New(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}

	bus := eventbus.New(adapter, logger)
	checker := precheck.NewChecker(adapter, logger)
	tracker := connstate.NewTracker(bus, logger)
	pairer := pairing.NewOrchestrator(adapter, bus, checker, logger)

	return &core{
		cfg:       cfg,
		logger:    logger,
		adapter:   adapter,
		bus:       bus,
		checker:   checker,
		discovery: discovery.NewSession(adapter, bus, checker, logger),
		pairer:    pairer,
		tracker:   tracker,
		connector: connection.NewOrchestrator(adapter, checker, pairer, tracker, logger),
	}, nil
}

// Close tears everything down in dependency order.
func (c *core) Close() {
	c.tracker.Close()
	c.bus.Close()
	if err := c.adapter.Close(); err != nil {
		c.logger.WithError(err).Warn("Adapter close failed")
	}
}
