package main

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/heater"
	"github.com/srg/heaterbridge/internal/lifecycle"
	"github.com/srg/heaterbridge/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost means the heater went away and no reconnect was configured
	// or every reconnect attempt failed.
	ErrConnectionLost = errors.New("connection lost")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// FormatUserError turns an error chain into a one-line hint for the terminal.
func FormatUserError(err error) string {
	var hint string
	switch {
	case errors.Is(err, ErrInvalidConfig):
		hint = "check heaterbridge.yaml or run \"heaterbridge config init\""
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on and try again"
	case device.IsConnectionState(err, device.NotInitialized):
		hint = "the Bluetooth adapter is not ready; check it is powered and this process may use it"
	case errors.Is(err, device.ErrUnsupported):
		hint = "this transport backend is not available on this platform; set transport.backend"
	case errors.Is(err, session.ErrServiceUnavailable):
		hint = "the device does not look like a supported heater (service ffe0/ffe1 missing)"
	case errors.Is(err, context.DeadlineExceeded):
		hint = "the heater did not answer in time; is it powered and in range?"
	case errors.Is(err, ErrConnectionLost):
		hint = "enable reconnect.max_attempts to keep retrying"
	case errors.Is(err, lifecycle.ErrAlreadyRunning):
		hint = "a session is already running"
	case errors.Is(err, heater.ErrMalformedFrame):
		hint = "a status frame is at least 18 bytes"
	}

	msg := strings.TrimSpace(err.Error())
	if hint == "" {
		return msg
	}
	return msg + " (" + hint + ")"
}
