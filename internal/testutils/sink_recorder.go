package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/heaterbridge/internal/telemetry"
)

// SinkRecorder is an in-memory telemetry sink for tests.
type SinkRecorder struct {
	mu      sync.Mutex
	updates []telemetry.Update
	ch      chan telemetry.Update
	err     error
	closed  bool
}

// NewSinkRecorder creates a recorder that buffers up to 64 unread updates on C.
func NewSinkRecorder() *SinkRecorder {
	return &SinkRecorder{ch: make(chan telemetry.Update, 64)}
}

// FailWith makes subsequent Publish calls return err.
func (r *SinkRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *SinkRecorder) Publish(_ context.Context, u telemetry.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.updates = append(r.updates, u)
	select {
	case r.ch <- u:
	default:
	}
	return nil
}

func (r *SinkRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *SinkRecorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Updates returns a copy of everything published so far.
func (r *SinkRecorder) Updates() []telemetry.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Update(nil), r.updates...)
}

// Next waits up to timeout for the next published update.
func (r *SinkRecorder) Next(timeout time.Duration) (telemetry.Update, bool) {
	select {
	case u := <-r.ch:
		return u, true
	case <-time.After(timeout):
		return telemetry.Update{}, false
	}
}
