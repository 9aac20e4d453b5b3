// Package tinygo implements the device transport on tinygo.org/x/bluetooth,
// which drives BlueZ over D-Bus on Linux and CoreBluetooth on macOS.
//
// On macOS device addresses are CoreBluetooth UUIDs rather than MAC addresses.
package tinygo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// Adapter implements device.Adapter on a tinygo bluetooth adapter.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	discovering atomic.Bool
	scanDone    chan struct{}

	mu     sync.Mutex
	seenCh chan struct{}

	seen  *hashmap.Map[string, bluetooth.ScanResult]
	conns *hashmap.Map[string, *peripheral] // live connections by address key
}

// NewAdapter wraps bluetooth.DefaultAdapter.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		seenCh:  make(chan struct{}),
		seen:    hashmap.New[string, bluetooth.ScanResult](),
		conns:   hashmap.New[string, *peripheral](),
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.adapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("enable adapter: %w", device.NormalizeError(err))
			return
		}

		a.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			a.connectionChanged(d.Address.String(), connected)
		})
	})
	return a.enableErr
}

// connectionChanged handles the adapter-level connect event. Link loss arrives
// there with connected=false.
func (a *Adapter) connectionChanged(address string, connected bool) {
	if connected {
		return
	}
	if p, ok := a.conns.Get(addressKey(address)); ok {
		a.logger.WithField("address", p.address).Warn("BLE link reported disconnection")
		p.markDisconnected()
	}
}

func (a *Adapter) IsDiscovering() bool {
	return a.discovering.Load()
}

// StartDiscovery runs a scan on a background goroutine until ctx ends or the
// target device is found.
func (a *Adapter) StartDiscovery(ctx context.Context) error {
	if err := a.enable(); err != nil {
		return err
	}
	if !a.discovering.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.scanDone = done
	a.mu.Unlock()

	groutine.Go(ctx, "tinygo-discovery", func(ctx context.Context) {
		defer close(done)
		defer a.discovering.Store(false)

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = a.adapter.StopScan()
			case <-stop:
			}
		}()

		a.logger.Debug("Starting BLE discovery...")
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			a.record(result)
		})
		if err != nil && ctx.Err() == nil {
			a.logger.WithField("error", err).Warn("BLE discovery ended with error")
		}
	})
	return nil
}

func (a *Adapter) record(result bluetooth.ScanResult) {
	key := addressKey(result.Address.String())
	_, known := a.seen.Get(key)
	a.seen.Set(key, result)
	if known {
		return
	}

	a.logger.WithFields(logrus.Fields{
		"address": result.Address.String(),
		"name":    result.LocalName(),
		"rssi":    result.RSSI,
	}).Debug("Discovered BLE device")

	a.mu.Lock()
	close(a.seenCh)
	a.seenCh = make(chan struct{})
	a.mu.Unlock()
}

// StopDiscovery stops a running scan and waits for the scan goroutine.
func (a *Adapter) StopDiscovery() {
	a.mu.Lock()
	done := a.scanDone
	a.scanDone = nil
	a.mu.Unlock()

	if done == nil {
		return
	}
	if a.discovering.Load() {
		if err := a.adapter.StopScan(); err != nil {
			a.logger.WithField("error", err).Debug("StopScan failed")
		}
	}
	<-done
}

func (a *Adapter) WaitForDevice(ctx context.Context, address string) (device.Device, error) {
	key := addressKey(address)
	for {
		a.mu.Lock()
		wake := a.seenCh
		a.mu.Unlock()

		if result, ok := a.seen.Get(key); ok {
			a.StopDiscovery()
			return &peripheral{
				adapter: a,
				address: result.Address.String(),
				addr:    result.Address,
				logger:  a.logger,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", address, ctx.Err())
		case <-wake:
		}
	}
}

func (a *Adapter) Close() error {
	a.StopDiscovery()
	return nil
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

var _ device.Adapter = (*Adapter)(nil)
