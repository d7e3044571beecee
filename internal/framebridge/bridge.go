// Package framebridge hands frames from a pipeline callback thread to a
// single consumer through a one-slot mailbox.
//
// The producer never blocks. When the slot is occupied the frame being sent
// is discarded and the pending one stays ("existing frame wins"). The
// consumer either blocks (Receive) or polls once per UI tick (TryReceive).
package framebridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/camrecorder/internal/types"
)

// ErrDisconnected is returned by Receive when no frame is pending and the
// other side has gone away. It is an end-of-stream signal, not a failure.
var ErrDisconnected = errors.New("framebridge: disconnected")

// SendResult is the outcome of a TrySend
type SendResult int

const (
	// Delivered means the frame now occupies the slot
	Delivered SendResult = iota
	// DroppedFull means the slot was occupied and the frame was discarded
	DroppedFull
	// Disconnected means the consumer is gone; the producer should stop sending
	Disconnected
)

// String returns a human-readable representation of the result
func (r SendResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case DroppedFull:
		return "dropped_full"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Stats contains bridge counters
type Stats struct {
	Delivered    uint64
	Dropped      uint64
	Disconnected uint64
	Received     uint64
	// DropRate is the percentage of send attempts that were dropped (0-100)
	DropRate float64
}

// Bridge is a capacity-1 frame mailbox.
//
// Any number of goroutines may call TrySend. Receive and TryReceive are meant
// for a single consumer.
type Bridge struct {
	mu           sync.Mutex
	slot         *types.Frame
	consumerGone bool
	senderClosed bool

	// ready wakes a blocked Receive. Capacity 1, signals coalesce.
	ready chan struct{}

	delivered    atomic.Uint64
	dropped      atomic.Uint64
	disconnected atomic.Uint64
	received     atomic.Uint64
}

// New creates an empty bridge
func New() *Bridge {
	return &Bridge{ready: make(chan struct{}, 1)}
}

// TrySend offers a frame without blocking.
func (b *Bridge) TrySend(frame types.Frame) SendResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumerGone || b.senderClosed {
		b.disconnected.Add(1)
		return Disconnected
	}
	if b.slot != nil {
		b.dropped.Add(1)
		return DroppedFull
	}

	b.slot = &frame
	b.delivered.Add(1)
	b.signal()
	return Delivered
}

// TryReceive takes the pending frame, if any, without blocking.
func (b *Bridge) TryReceive() (types.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.take()
}

// Receive blocks until a frame is pending, the bridge is disconnected or ctx
// is done. A frame already in the slot is returned even after CloseSender.
func (b *Bridge) Receive(ctx context.Context) (types.Frame, error) {
	for {
		b.mu.Lock()
		if f, ok := b.take(); ok {
			b.mu.Unlock()
			return f, nil
		}
		if b.senderClosed || b.consumerGone {
			b.mu.Unlock()
			return types.Frame{}, ErrDisconnected
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-ctx.Done():
			return types.Frame{}, ctx.Err()
		}
	}
}

// Disconnect marks the consumer as gone and discards any pending frame.
// Subsequent TrySend calls return Disconnected. Idempotent.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumerGone = true
	b.slot = nil
	b.signal()
}

// CloseSender marks the producer as finished. A pending frame can still be
// received; after that Receive returns ErrDisconnected. Idempotent.
func (b *Bridge) CloseSender() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.senderClosed = true
	b.signal()
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (b *Bridge) Stats() Stats {
	delivered := b.delivered.Load()
	dropped := b.dropped.Load()

	var dropRate float64
	if total := delivered + dropped; total > 0 {
		dropRate = float64(dropped) / float64(total) * 100.0
	}

	return Stats{
		Delivered:    delivered,
		Dropped:      dropped,
		Disconnected: b.disconnected.Load(),
		Received:     b.received.Load(),
		DropRate:     dropRate,
	}
}

// take must be called with mu held
func (b *Bridge) take() (types.Frame, bool) {
	if b.slot == nil {
		return types.Frame{}, false
	}
	f := *b.slot
	b.slot = nil
	b.received.Add(1)
	return f, true
}

// signal must be called with mu held
func (b *Bridge) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
