package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
)

// peripheral is a discovered device reachable through the adapter's host device.
type peripheral struct {
	adapter *Adapter
	address string
	name    string
	logger  *logrus.Logger

	mu           sync.Mutex
	client       ble.Client
	disconnected chan struct{}
	closeOnce    *sync.Once
}

func newPeripheral(a *Adapter, address, name string) *peripheral {
	return &peripheral{
		adapter: a,
		address: address,
		name:    name,
		logger:  a.logger,
	}
}

func (p *peripheral) Address() string {
	return p.address
}

func (p *peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return device.ErrAlreadyConnected
	}

	dev, err := p.adapter.hostDevice()
	if err != nil {
		return err
	}

	p.logger.WithField("address", p.address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(p.address))
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"address": p.address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", p.address, NormalizeError(err))
	}

	p.client = client
	p.disconnected = make(chan struct{})
	p.closeOnce = &sync.Once{}

	// the client closes its Disconnected channel when the link drops
	done, once, lost := p.disconnected, p.closeOnce, client.Disconnected()
	go func() {
		select {
		case <-lost:
			p.logger.WithField("address", p.address).Warn("BLE link reported disconnection")
			once.Do(func() { close(done) })
		case <-done:
		}
	}()

	p.logger.WithFields(logrus.Fields{
		"address": p.address,
		"name":    p.name,
	}).Info("BLE device connected")
	return nil
}

func (p *peripheral) Disconnect() error {
	p.mu.Lock()
	client, done, once := p.client, p.disconnected, p.closeOnce
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	err := client.CancelConnection()
	once.Do(func() { close(done) })
	if err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", p.address, NormalizeError(err))
	}
	return nil
}

func (p *peripheral) Disconnected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

func (p *peripheral) GATT(ctx context.Context) (device.GATTServer, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, device.ErrNotConnected
	}

	type result struct {
		profile *ble.Profile
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		profile, err := client.DiscoverProfile(true)
		ch <- result{profile, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("profile discovery: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(r.err))
		}
		p.logger.WithFields(logrus.Fields{
			"address":  p.address,
			"services": len(r.profile.Services),
		}).Debug("Profile discovered successfully")
		return &gattServer{client: client, profile: r.profile}, nil
	}
}

var _ device.Device = (*peripheral)(nil)
