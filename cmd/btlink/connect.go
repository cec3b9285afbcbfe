package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/btlink/bridge"
	"github.com/srg/btlink/internal/platform"
	"github.com/srg/btlink/pkg/connection"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Open a serial-port connection to a remote device",
	Long: `Pair (if needed) and open an SPP/RFCOMM connection to the device.

By default the session is interactive: your terminal is put in raw mode
and bytes flow directly between it and the remote serial port. With
--pty the socket is instead exposed as a local pseudo-terminal for other
serial tools to attach to.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectService string
	connectPty     bool
	connectSymlink string
)

func init() {
	connectCmd.Flags().StringVarP(&connectService, "service", "s", "", "Service UUID to connect to (default SPP)")
	connectCmd.Flags().BoolVar(&connectPty, "pty", false, "Expose the connection as a local PTY instead of an interactive session")
	connectCmd.Flags().StringVar(&connectSymlink, "tty-symlink", "", "Create a symlink to the PTY slave (implies --pty)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	address := args[0]

	c, err := newCore(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	cmd.SilenceUsage = true

	serviceUUID := connectService
	if serviceUUID == "" {
		serviceUUID = c.cfg.ServiceUUID
	}
	symlink := connectSymlink
	if symlink == "" {
		symlink = c.cfg.TTYSymlink
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("Connecting to %s...\n", address)

	socket, err := c.connector.Connect(ctx, platform.RemoteDevice{Address: address}, &connection.ConnectOptions{
		ServiceUUID:    serviceUUID,
		ConnectTimeout: c.cfg.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := socket.Close(); err != nil {
			c.logger.WithError(err).Warn("Socket close failed")
		}
	}()

	if connectPty || symlink != "" {
		return bridge.Run(ctx, socket, &bridge.Options{
			TTYSymlinkPath: symlink,
			Logger:         c.logger,
			OnReady: func(b *bridge.Bridge) {
				fmt.Printf("Serial bridge ready on %s\n", b.TTYName())
				if b.TTYSymlink() != "" {
					fmt.Printf("Symlinked at %s\n", b.TTYSymlink())
				}
			},
		})
	}

	return runInteractive(ctx, socket)
}

// runInteractive wires the local terminal directly to the remote serial
// port. Raw mode is only engaged when stdin actually is a terminal, so
// piped input still works.
func runInteractive(ctx context.Context, socket platform.Socket) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() {
			_ = term.Restore(fd, oldState)
		}()
		fmt.Printf("Connected to %s - press Ctrl+C to exit\r\n", socket.RemoteAddress())
	}

	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(socket, os.Stdin)
		done <- err
	}()
	go func() {
		_, err := io.Copy(os.Stdout, socket)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	}
}
