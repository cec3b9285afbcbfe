// Package replay provides a last-value broadcast variable: subscribers
// joining late immediately receive the most recently set value, then all
// subsequent ones.
package replay

import (
	"sync"

	"github.com/srg/btlink/internal/ringchan"
)

// Var is a broadcast variable with replay-of-last-value semantics.
// It is safe for one or more writers and any number of subscribers.
type Var[T any] struct {
	mu     sync.Mutex
	has    bool
	last   T
	nextID uint64
	subs   map[uint64]*ringchan.RingChannel[T]
	closed bool
}

// NewVar creates an empty Var. Until the first Set, subscribers receive
// nothing on attach.
func NewVar[T any]() *Var[T] {
	return &Var[T]{
		subs: make(map[uint64]*ringchan.RingChannel[T]),
	}
}

// Set stores val as the current value and broadcasts it to all
// subscribers. Slow subscribers lose their own oldest values.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}

	v.has = true
	v.last = val
	for _, sub := range v.subs {
		sub.ForceSend(val)
	}
}

// Get returns the current value. The ok result is false if Set was never
// called.
func (v *Var[T]) Get() (val T, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last, v.has
}

// Subscribe attaches a new subscriber. If a value has been set, it is
// delivered first. The cancel function detaches the subscriber and closes
// its channel.
func (v *Var[T]) Subscribe(buffer int) (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rc := ringchan.New[T](buffer)
	if v.closed {
		rc.Close()
		return rc.C(), func() {}
	}

	if v.has {
		rc.Send(v.last)
	}

	id := v.nextID
	v.nextID++
	v.subs[id] = rc

	cancel := func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if sub, ok := v.subs[id]; ok {
			delete(v.subs, id)
			sub.Close()
		}
	}

	return rc.C(), cancel
}

// Close detaches and closes all subscribers. Further Sets are ignored.
// Idempotent.
func (v *Var[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	for id, sub := range v.subs {
		delete(v.subs, id)
		sub.Close()
	}
}
