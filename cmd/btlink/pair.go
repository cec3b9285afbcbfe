package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/btlink/internal/platform"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair <address>",
	Short: "Pair (bond) with a remote device",
	Long: `Initiate bonding with the device at the given address.

If the device is already bonded this succeeds immediately. Otherwise the
bond request is sent and the command waits for the remote side to accept
or reject it, up to --timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

var pairTimeout time.Duration

func init() {
	pairCmd.Flags().DurationVarP(&pairTimeout, "timeout", "t", 0, "How long to wait for the bond outcome (0 = config default)")
}

func runPair(cmd *cobra.Command, args []string) error {
	address := args[0]

	c, err := newCore(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cmd.SilenceUsage = true

	timeout := pairTimeout
	if timeout == 0 {
		timeout = c.cfg.PairTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Pairing with %s...\n", address)

	bonded, err := c.pairer.Pair(ctx, platform.RemoteDevice{Address: address})
	if err != nil {
		return err
	}
	if !bonded {
		return platform.ErrPairingFailed
	}

	fmt.Printf("Paired with %s\n", address)
	return nil
}
