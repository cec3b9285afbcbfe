package bridge

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/btlink/internal/testutils"
)

// pipeSocket adapts one end of a net.Pipe into a platform.Socket that
// blocks on Read like a real link, unlike the in-memory FakeSocket.
type pipeSocket struct {
	net.Conn
	addr string
}

func (p *pipeSocket) RemoteAddress() string { return p.addr }

func newPipeSocket() (*pipeSocket, net.Conn) {
	local, remote := net.Pipe()
	return &pipeSocket{Conn: local, addr: "AA:BB:CC:DD:EE:FF"}, remote
}

func TestRunRequiresSocket(t *testing.T) {
	err := Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := testutils.NewTestHelper(t)
	socket, remote := newPipeSocket()
	defer socket.Close()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan *Bridge, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, socket, &Options{
			Logger:  h.Logger,
			OnReady: func(b *Bridge) { ready <- b },
		})
	}()

	b := testutils.Recv(t, ready, 2*time.Second)
	assert.NotEmpty(t, b.TTYName())
	assert.Empty(t, b.TTYSymlink())

	cancel()
	assert.NoError(t, testutils.Recv(t, done, 2*time.Second))
}

func TestRunStopsWhenSocketEnds(t *testing.T) {
	h := testutils.NewTestHelper(t)
	socket, remote := newPipeSocket()
	defer socket.Close()

	ready := make(chan *Bridge, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), socket, &Options{
			Logger:  h.Logger,
			OnReady: func(b *Bridge) { ready <- b },
		})
	}()

	testutils.Recv(t, ready, 2*time.Second)

	// The remote link dropping must wind the bridge down on its own.
	remote.Close()
	assert.NoError(t, testutils.Recv(t, done, 2*time.Second))
}

func TestRunManagesSymlink(t *testing.T) {
	h := testutils.NewTestHelper(t)
	socket, remote := newPipeSocket()
	defer socket.Close()
	defer remote.Close()

	link := filepath.Join(t.TempDir(), "tty")
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan *Bridge, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, socket, &Options{
			TTYSymlinkPath: link,
			Logger:         h.Logger,
			OnReady:        func(b *Bridge) { ready <- b },
		})
	}()

	b := testutils.Recv(t, ready, 2*time.Second)
	assert.Equal(t, link, b.TTYSymlink())

	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, b.TTYName(), target)

	cancel()
	require.NoError(t, testutils.Recv(t, done, 2*time.Second))

	// Cleaned up on shutdown.
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
}

func TestRunRejectsExistingSymlinkTarget(t *testing.T) {
	h := testutils.NewTestHelper(t)
	socket, remote := newPipeSocket()
	defer socket.Close()
	defer remote.Close()

	link := filepath.Join(t.TempDir(), "tty")
	require.NoError(t, os.WriteFile(link, []byte("occupied"), 0o644))

	err := Run(context.Background(), socket, &Options{
		TTYSymlinkPath: link,
		Logger:         h.Logger,
	})
	assert.Error(t, err)
}
