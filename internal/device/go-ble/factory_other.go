//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/heaterbridge/internal/device"
)

func newHostDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble has no host driver for %s", device.ErrUnsupported, runtime.GOOS)
}
