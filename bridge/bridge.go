// Package bridge exposes an established SPP socket as a local
// pseudo-terminal, so ordinary serial tools can talk to the remote device.
// It moves raw bytes only; framing and protocol are the endpoints' problem.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/btlink/internal/groutine"
	"github.com/srg/btlink/internal/platform"
)

const (
	// DefaultStdinBufferSize is the default size, in bytes, of the ring
	// buffer between the PTY and the socket.
	DefaultStdinBufferSize = 4096

	// DefaultStdoutBufferSize is the default size, in bytes, of the ring
	// buffer between the socket and the PTY.
	DefaultStdoutBufferSize = 4096
)

// Options configures a bridge run.
type Options struct {
	TTYSymlinkPath   string         // optional symlink to the PTY slave (e.g. /tmp/btlink-dev)
	StdinBufferSize  int            // PTY -> socket buffer (0 = default)
	StdoutBufferSize int            // socket -> PTY buffer (0 = default)
	Logger           *logrus.Logger
	OnReady          func(*Bridge)  // called once the PTY is up, before pumping
}

// Bridge is a running socket<->PTY pump.
type Bridge struct {
	master  *os.File
	ttyName string
	symlink string
	logger  *logrus.Logger
}

// TTYName returns the slave device path (e.g. /dev/pts/3).
func (b *Bridge) TTYName() string {
	return b.ttyName
}

// TTYSymlink returns the symlink path, empty if none was created.
func (b *Bridge) TTYSymlink() string {
	return b.symlink
}

// Run opens a PTY pair, pumps bytes between the socket and the PTY slave's
// master side, and blocks until ctx is cancelled or either endpoint hits
// EOF. The socket is not closed; the caller owns it.
func Run(ctx context.Context, socket platform.Socket, opts *Options) error {
	if socket == nil {
		return errors.New("bridge: socket is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	stdinSize := opts.StdinBufferSize
	if stdinSize == 0 {
		stdinSize = DefaultStdinBufferSize
	}
	stdoutSize := opts.StdoutBufferSize
	if stdoutSize == 0 {
		stdoutSize = DefaultStdoutBufferSize
	}

	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("bridge: open pty: %w", err)
	}
	ttyName := slave.Name()
	// The slave side belongs to whatever serial tool attaches to ttyName.
	if err := slave.Close(); err != nil {
		logger.WithError(err).Warn("Closing PTY slave handle failed")
	}

	b := &Bridge{
		master:  master,
		ttyName: ttyName,
		logger:  logger,
	}

	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(ttyName, opts.TTYSymlinkPath); err != nil {
			_ = master.Close()
			return fmt.Errorf("bridge: create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, ttyName, err)
		}
		b.symlink = opts.TTYSymlinkPath
	}

	logger.WithFields(logrus.Fields{
		"tty":    ttyName,
		"remote": socket.RemoteAddress(),
	}).Info("PTY bridge running")

	if opts.OnReady != nil {
		opts.OnReady(b)
	}

	defer func() {
		if b.symlink != "" {
			if err := os.Remove(b.symlink); err != nil {
				logger.WithError(err).WithField("symlink", b.symlink).Warn("Failed to remove tty symlink")
			}
		}
		_ = master.Close()
	}()

	// Elastic pipes decouple the two endpoints: a stalled PTY reader does
	// not back-pressure the radio link and vice versa.
	toSocket := ringbuffer.New(stdinSize).SetBlocking(true)
	toPty := ringbuffer.New(stdoutSize).SetBlocking(true)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)

	pump := func(name string, dst io.Writer, src io.Reader) {
		groutine.Go(runCtx, name, func(_ context.Context) {
			defer wg.Done()
			defer cancel()
			if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, os.ErrClosed) {
				logger.WithError(err).WithField("pump", name).Debug("Bridge pump ended")
			}
		})
	}

	pump("bridge-pty-read", toSocket, master)
	pump("bridge-socket-write", socket, toSocket)
	pump("bridge-socket-read", toPty, socket)
	pump("bridge-pty-write", master, toPty)

	<-runCtx.Done()

	// Unblock the ring buffers and the master reads so all pumps exit.
	toSocket.CloseWithError(io.EOF)
	toPty.CloseWithError(io.EOF)
	_ = master.Close()
	wg.Wait()

	logger.WithField("tty", ttyName).Info("PTY bridge stopped")

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
