package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/groutine"
)

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newHostDevice

// Adapter implements device.Adapter on top of go-ble.
type Adapter struct {
	logger *logrus.Logger

	mu     sync.Mutex
	dev    ble.Device
	cancel context.CancelFunc
	seenCh chan struct{} // closed and replaced whenever a new address is seen

	discovering atomic.Bool
	scanDone    chan struct{}
	seen        *hashmap.Map[string, ble.Advertisement]
}

// NewAdapter creates an adapter. The host device is opened lazily on first use.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger: logger,
		seenCh: make(chan struct{}),
		seen:   hashmap.New[string, ble.Advertisement](),
	}
}

func (a *Adapter) hostDevice() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		a.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	a.dev = dev
	return dev, nil
}

// IsDiscovering reports whether a scan is running.
func (a *Adapter) IsDiscovering() bool {
	return a.discovering.Load()
}

// StartDiscovery starts a background scan that records every advertising address.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if !a.discovering.CompareAndSwap(false, true) {
		return nil
	}

	dev, err := a.hostDevice()
	if err != nil {
		a.discovering.Store(false)
		return err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.cancel = cancel
	a.scanDone = done
	a.mu.Unlock()

	a.logger.Debug("Starting BLE discovery...")
	groutine.Go(scanCtx, "goble-discovery", func(ctx context.Context) {
		defer close(done)
		defer a.discovering.Store(false)

		err := dev.Scan(ctx, true, a.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			a.logger.WithField("error", err).Warn("BLE discovery ended with error")
			return
		}
		a.logger.Debug("BLE discovery stopped")
	})
	return nil
}

func (a *Adapter) handleAdvertisement(adv ble.Advertisement) {
	if adv == nil || adv.Addr() == nil {
		return
	}
	key := addressKey(adv.Addr().String())
	_, known := a.seen.Get(key)
	a.seen.Set(key, adv)
	if known {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"address": adv.Addr().String(),
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
	}).Debug("Discovered BLE device")

	a.mu.Lock()
	close(a.seenCh)
	a.seenCh = make(chan struct{})
	a.mu.Unlock()
}

// StopDiscovery cancels a running scan and waits for it to exit.
func (a *Adapter) StopDiscovery() {
	a.mu.Lock()
	cancel, done := a.cancel, a.scanDone
	a.cancel, a.scanDone = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// WaitForDevice blocks until address has been advertised, then stops discovery
// so the radio is free to connect.
func (a *Adapter) WaitForDevice(ctx context.Context, address string) (device.Device, error) {
	key := addressKey(address)
	for {
		a.mu.Lock()
		wake := a.seenCh
		a.mu.Unlock()

		if adv, ok := a.seen.Get(key); ok {
			a.StopDiscovery()
			return newPeripheral(a, adv.Addr().String(), adv.LocalName()), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", address, ctx.Err())
		case <-wake:
		}
	}
}

// Seen returns the number of distinct addresses discovered so far.
func (a *Adapter) Seen() int {
	return a.seen.Len()
}

// Close stops discovery and releases the host device.
func (a *Adapter) Close() error {
	a.StopDiscovery()

	a.mu.Lock()
	dev := a.dev
	a.dev = nil
	a.mu.Unlock()

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

var _ device.Adapter = (*Adapter)(nil)
