// Package ringchan provides a bounded, drop-oldest channel for producers that
// must never block, such as BLE notification callbacks.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded buffer with overwrite-oldest semantics.
//
// Producers call Send from any goroutine and never block: when the buffer is
// full the oldest element is discarded. A single consumer reads with Receive
// or ranges over C until Close.
//
//	rc := ringchan.New[[]byte](16)
//	go func() {
//	    for frame := range rc.C() {
//	        handle(frame)
//	    }
//	}()
//	rc.Send(payload)
//	rc.Close()
//
// Send after Close is a silent no-op, so late transport callbacks are safe.
type RingChannel[T any] struct {
	mu      sync.Mutex // serializes producers with Close
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. Reads through C are not counted in Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send enqueues v, evicting the oldest element if the buffer is full.
// It reports false when v was dropped because the channel is closed.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		rc.metrics.addDropped()
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.metrics.addWritten()
			return true
		default:
		}
		select {
		case <-rc.ch:
			rc.metrics.addOverwritten()
		default:
		}
	}
}

// Receive blocks until a value is available or the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addProcessed()
	}
	return v, ok
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the buffer capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Buffered values can still be received. Close is idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Dropped:     atomic.LoadInt64(&rc.metrics.Dropped),
	}
}

// Metrics counts channel traffic. Fields are updated atomically.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
	Dropped     int64 // sends after Close
}

func (m *Metrics) addProcessed()   { atomic.AddInt64(&m.Processed, 1) }
func (m *Metrics) addWritten()     { atomic.AddInt64(&m.Written, 1) }
func (m *Metrics) addOverwritten() { atomic.AddInt64(&m.Overwritten, 1) }
func (m *Metrics) addDropped()     { atomic.AddInt64(&m.Dropped, 1) }
