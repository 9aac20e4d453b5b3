package session

import "errors"

var (
	// ErrServiceUnavailable is returned by Start when the heater's GATT service or
	// characteristic cannot be resolved or subscribed.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrWriteFailure wraps a failed ping write. It is logged, never returned.
	ErrWriteFailure = errors.New("ping write failed")

	// ErrTeardown wraps every error collected while stopping a session.
	ErrTeardown = errors.New("teardown failed")

	// ErrInvalidTransition is returned when an operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
