package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/pkg/connstate"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Watch connection state transitions",
	Long: `Stream connection state changes for all remote devices.

The most recent change is printed immediately, then every transition as
it happens - including devices connecting or disconnecting on their own.
Runs until Ctrl+C.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := newCore(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cmd.SilenceUsage = true

	changes, cancelObserve, err := c.tracker.Observe()
	if err != nil {
		return err
	}
	defer cancelObserve()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Println("Watching connection state (Ctrl+C to stop)...")

	for {
		select {
		case <-sigCh:
			return nil
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			printStateChange(change)
		}
	}
}

func printStateChange(change connstate.StateChange) {
	states := map[platform.ConnectionState]*color.Color{
		platform.Connected:    color.New(color.FgGreen),
		platform.Connecting:   color.New(color.FgYellow),
		platform.Disconnected: color.New(color.FgRed),
	}

	c, ok := states[change.State]
	if !ok {
		c = color.New()
	}

	fmt.Printf("%s  %s  %s\n",
		time.Now().Format(time.RFC3339),
		change.Device.Address,
		c.Sprint(change.State.String()))
}
