// Package sink delivers heater telemetry updates to their destinations.
package sink

import (
	"context"
	"errors"

	"github.com/srg/heaterbridge/internal/telemetry"
)

// Sink publishes one update per call. Implementations must be safe for
// concurrent use.
type Sink interface {
	Publish(ctx context.Context, update telemetry.Update) error
	Close() error
}

// Multi fans an update out to every sink. A failing sink does not stop the
// others; all failures are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, update telemetry.Update) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
