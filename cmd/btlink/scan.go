package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/btlink/internal/platform"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby Bluetooth devices",
	Long: `Scan for and display classic Bluetooth devices in the vicinity.

The scan runs until the radio finishes its inquiry, the duration elapses,
or Ctrl+C is pressed. Bonded devices are highlighted.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Maximum scan duration (0 = until the radio finishes)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, plain)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "plain" {
		return fmt.Errorf("invalid format '%s': must be table or plain", scanFormat)
	}

	c, err := newCore(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := scanDuration
	if duration == 0 {
		duration = c.cfg.ScanTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	feed, err := c.discovery.Start(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Scanning for Bluetooth devices...")

	var found []platform.RemoteDevice
	for dev := range feed {
		found = append(found, dev)
	}

	return displayDevices(os.Stdout, found, scanFormat)
}

func displayDevices(out io.Writer, devices []platform.RemoteDevice, format string) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})

	if format == "plain" {
		for _, dev := range devices {
			fmt.Fprintf(out, "%s %s\n", dev.Address, dev.Name)
		}
		return nil
	}

	bonded := color.New(color.FgGreen)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tBONDED")
	fmt.Fprintln(w, strings.Repeat("-", 44))
	for _, dev := range devices {
		name := dev.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		mark := ""
		if dev.Bonded {
			mark = bonded.Sprint("yes")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", dev.Address, name, mark)
	}
	return w.Flush()
}
