package goble

import (
	"fmt"
	"strings"

	"github.com/srg/heaterbridge/internal/device"
)

// NormalizeError maps go-ble specific messages onto device errors, then falls
// back to the generic mapping.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "central manager has invalid state"),
		strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return device.NormalizeError(err)
	}
}
