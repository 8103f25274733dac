// Package channel contains the bounded FIFO channel between dumpers and importers.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/huangjunwen/scaling/record"
)

var (
	// DefaultCapacity is the default capacity of MemoryChannel.
	DefaultCapacity = 10000

	// ErrClosed is returned when pushing to a closed channel.
	ErrClosed = errors.New("scaling.channel: Closed.")
)

// Channel is consumed by importers.
type Channel interface {
	// FetchRecords returns at most max records, waits no longer than timeout. The result
	// may be empty.
	FetchRecords(max int, timeout time.Duration) []record.Record

	// Ack marks records durably consumed. Must be called only after they have been
	// committed to the target.
	Ack(records []record.Record)
}

// Pusher is used by dumpers to send records.
type Pusher interface {
	// Push sends a record, it blocks when the underlying buffer is full.
	Push(ctx context.Context, r record.Record) error
}

// AckCallback is called with acknowledged records.
type AckCallback func(records []record.Record)

// MemoryChannel is a bounded in memory channel. Push blocks when the channel is full.
type MemoryChannel struct {
	ch    chan record.Record
	done  chan struct{}
	onAck AckCallback
}

var (
	_ Channel = (*MemoryChannel)(nil)
	_ Pusher  = (*MemoryChannel)(nil)
)

// NewMemoryChannel creates a MemoryChannel. If capacity <= 0, DefaultCapacity is used.
// onAck can be nil.
func NewMemoryChannel(capacity int, onAck AckCallback) *MemoryChannel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryChannel{
		ch:    make(chan record.Record, capacity),
		done:  make(chan struct{}),
		onAck: onAck,
	}
}

// Push pushes a record, blocks when the channel is full.
func (c *MemoryChannel) Push(ctx context.Context, r record.Record) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.ch <- r:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchRecords implements Channel interface.
func (c *MemoryChannel) FetchRecords(max int, timeout time.Duration) []record.Record {
	ret := make([]record.Record, 0, max)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(ret) < max {
		select {
		case r := <-c.ch:
			ret = append(ret, r)
			// A finished record ends the stream.
			if _, ok := r.(*record.FinishedRecord); ok {
				return ret
			}
		case <-timer.C:
			return ret
		case <-c.done:
			return ret
		}
	}
	return ret
}

// Ack implements Channel interface.
func (c *MemoryChannel) Ack(records []record.Record) {
	if c.onAck != nil && len(records) != 0 {
		c.onAck(records)
	}
}

// Len returns the number of buffered records.
func (c *MemoryChannel) Len() int {
	return len(c.ch)
}

// Close closes the channel: blocking Push/FetchRecords return.
func (c *MemoryChannel) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
