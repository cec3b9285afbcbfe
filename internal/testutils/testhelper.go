package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/btlink/internal/platform"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Device builds a RemoteDevice for tests.
func Device(address, name string) platform.RemoteDevice {
	return platform.RemoteDevice{Address: address, Name: name}
}

// BondedDevice builds an already-bonded RemoteDevice.
func BondedDevice(address, name string) platform.RemoteDevice {
	return platform.RemoteDevice{Address: address, Name: name, Bonded: true}
}

// Recv receives from ch or fails the test after timeout.
func Recv[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while waiting for value")
		}
		return v
	case <-time.After(timeout):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

// RecvClosed asserts that ch is closed (possibly after draining pending
// values) within timeout.
func RecvClosed[T any](t *testing.T, ch <-chan T, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}

// NoRecv asserts that nothing arrives on ch within d.
func NoRecv[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value received: %v", v)
		}
	case <-time.After(d):
	}
}
