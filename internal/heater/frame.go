package heater

import (
	"encoding/hex"
	"fmt"
)

// Preamble is the fixed magic prefix of every command frame.
var Preamble = [4]byte{0xAA, 0x55, 0x0C, 0x22}

const (
	// checksumFrom and checksumTo bound the bytes covered by the checksum (inclusive).
	checksumFrom = 2
	checksumTo   = 6

	// CmdPing requests a status frame without changing heater settings.
	CmdPing byte = 0x01
)

// CommandFrame is an outgoing request frame. The zero value is not a valid frame;
// use BuildPing or NewCommandFrame.
type CommandFrame struct {
	b []byte
}

// NewCommandFrame builds a frame from the preamble, a command byte and its two
// argument bytes, then appends the checksum.
func NewCommandFrame(cmd, arg1, arg2 byte) CommandFrame {
	b := make([]byte, 0, 8)
	b = append(b, Preamble[:]...)
	b = append(b, cmd, arg1, arg2)
	b = append(b, Checksum(b))
	return CommandFrame{b: b}
}

// BuildPing returns the keep-alive frame that makes the heater report its status.
func BuildPing() CommandFrame {
	return NewCommandFrame(CmdPing, 0x00, 0x00)
}

// Bytes returns a copy of the encoded frame.
func (f CommandFrame) Bytes() []byte {
	out := make([]byte, len(f.b))
	copy(out, f.b)
	return out
}

// Len returns the encoded frame length.
func (f CommandFrame) Len() int {
	return len(f.b)
}

// String renders the frame as lowercase hex.
func (f CommandFrame) String() string {
	return hex.EncodeToString(f.b)
}

// Checksum computes the modular sum of bytes 2..6. The input must hold at least 7 bytes.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b[checksumFrom : checksumTo+1] {
		sum += v
	}
	return sum
}

// VerifyChecksum checks that b is a complete command frame whose trailing byte matches Checksum.
func VerifyChecksum(b []byte) error {
	if len(b) < checksumTo+2 {
		return fmt.Errorf("%w: command frame needs %d bytes, got %d", ErrMalformedFrame, checksumTo+2, len(b))
	}
	if want, got := Checksum(b), b[checksumTo+1]; want != got {
		return fmt.Errorf("%w: want 0x%02x, got 0x%02x", ErrChecksumMismatch, want, got)
	}
	return nil
}
