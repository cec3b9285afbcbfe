package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}

func TestSendOverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the last 3 values survive.
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestForceSendNeverBlocks(t *testing.T) {
	rc := New[string](1)

	dropped := rc.ForceSend("a")
	assert.False(t, dropped)

	dropped = rc.ForceSend("b")
	assert.True(t, dropped)

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestReceiveAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(42)
	rc.Close()

	v, ok := rc.Receive()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestLenAndCap(t *testing.T) {
	rc := New[int](4)
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())

	rc.Send(1)
	rc.Send(2)
	assert.Equal(t, 2, rc.Len())
}
