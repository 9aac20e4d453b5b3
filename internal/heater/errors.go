package heater

import "errors"

var (
	// ErrMalformedFrame is returned when a frame is too short to decode.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrChecksumMismatch is returned when a command frame carries a wrong checksum byte.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)
