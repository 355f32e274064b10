package iqscope

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	Qt "github.com/maroda/iqscope/types"
)

// Buffer is the bounded FIFO between the device callback and the consumer.
// Push runs on the producer's goroutine and never blocks unboundedly.
// Pop runs on the consumer's goroutine and waits a bounded time for data.
type Buffer struct {
	MU          sync.Mutex
	queue       []Qt.RawChunk
	capacity    int
	policy      OverflowPolicy
	pushTimeout time.Duration
	popTimeout  time.Duration
	popStep     time.Duration
	warmupLeft  int // chunks still to discard before anything is queued
	skip        int
	cycle       int // position within the current skip cycle
	notify      chan struct{}
	space       chan struct{}
	status      *Status
}

// NewBuffer builds the queue from Config, reporting into status
func NewBuffer(cfg Config, status *Status) *Buffer {
	if status == nil {
		status = NewStatus()
	}
	policy := cfg.OverflowPolicy
	if policy == "" {
		policy = OverflowFatal
	}
	capacity := cfg.QueueCapacity
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		queue:       make([]Qt.RawChunk, 0, capacity),
		capacity:    capacity,
		policy:      policy,
		pushTimeout: cfg.PushTimeout,
		popTimeout:  cfg.PopTimeout,
		popStep:     cfg.PopStep,
		warmupLeft:  cfg.WarmupChunks,
		skip:        cfg.Skip,
		notify:      make(chan struct{}, 1),
		space:       make(chan struct{}, 1),
		status:      status,
	}
}

// admitLocked advances the skip cycle and reports whether this chunk is kept.
// skip=N keeps N of every N+1 chunks, skip=-N keeps 1 of every N+1.
func (b *Buffer) admitLocked() bool {
	switch {
	case b.skip > 0:
		pos := b.cycle
		b.cycle = (b.cycle + 1) % (b.skip + 1)
		return pos != b.skip
	case b.skip < 0:
		pos := b.cycle
		b.cycle = (b.cycle + 1) % (-b.skip + 1)
		return pos == 0
	default:
		return true
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Push offers one chunk from the producer.
// Warm-up and skip discards return nil. A full queue is handled by the
// overflow policy; only the fatal and block policies return ErrQueueFull.
func (b *Buffer) Push(chunk Qt.RawChunk) error {
	b.status.addPushed()

	b.MU.Lock()
	if b.warmupLeft > 0 {
		b.warmupLeft--
		b.MU.Unlock()
		b.status.addWarmup()
		return nil
	}
	if !b.admitLocked() {
		b.MU.Unlock()
		b.status.addSkipped()
		return nil
	}
	if len(b.queue) < b.capacity {
		b.queue = append(b.queue, chunk)
		b.MU.Unlock()
		b.status.addQueued()
		wake(b.notify)
		return nil
	}

	// Full from here on
	switch b.policy {
	case OverflowDropNewest:
		b.MU.Unlock()
		b.status.RaiseOverrun()
		b.status.addDropped()
		return nil

	case OverflowDropOldest:
		b.queue[0] = nil
		b.queue = append(b.queue[1:], chunk)
		b.MU.Unlock()
		b.status.RaiseOverrun()
		b.status.addDropped()
		b.status.addQueued()
		wake(b.notify)
		return nil

	case OverflowBlock:
		b.MU.Unlock()
		b.status.RaiseOverrun()
		return b.pushWait(chunk)

	default:
		b.MU.Unlock()
		b.status.RaiseOverrun()
		slog.Error("Acquisition queue is full, reconfigure to use less CPU",
			slog.Int("capacity", b.capacity))
		return fmt.Errorf("%w: capacity %d", ErrQueueFull, b.capacity)
	}
}

// pushWait retries a push on a full queue until PushTimeout runs out
func (b *Buffer) pushWait(chunk Qt.RawChunk) error {
	timer := time.NewTimer(b.pushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-b.space:
			b.MU.Lock()
			if len(b.queue) < b.capacity {
				b.queue = append(b.queue, chunk)
				b.MU.Unlock()
				b.status.addQueued()
				wake(b.notify)
				return nil
			}
			b.MU.Unlock()
		case <-timer.C:
			return fmt.Errorf("%w: blocked for %s", ErrQueueFull, b.pushTimeout)
		}
	}
}

// Pop takes the oldest chunk, waiting up to timeout in PopStep increments.
// A push wakes the wait early. A zero timeout uses the configured PopTimeout.
func (b *Buffer) Pop(ctx context.Context, timeout time.Duration) (Qt.RawChunk, error) {
	if timeout <= 0 {
		timeout = b.popTimeout
	}
	step := b.popStep
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	for {
		b.MU.Lock()
		if len(b.queue) > 0 {
			chunk := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.MU.Unlock()
			wake(b.space)
			return chunk, nil
		}
		b.MU.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w after %s", ErrQueueTimeout, timeout)
		}

		wait := min(step, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-b.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// MarkOverflow records a dropped buffer reported by the hardware
func (b *Buffer) MarkOverflow() {
	b.status.RaiseOverrun()
}

// Depth is the number of queued chunks
func (b *Buffer) Depth() int {
	b.MU.Lock()
	defer b.MU.Unlock()
	return len(b.queue)
}

// Capacity is the configured queue bound
func (b *Buffer) Capacity() int {
	return b.capacity
}
