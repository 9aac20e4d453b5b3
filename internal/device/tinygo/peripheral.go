package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	"tinygo.org/x/bluetooth"
)

type peripheral struct {
	adapter *Adapter
	address string
	addr    bluetooth.Address
	logger  *logrus.Logger

	mu           sync.Mutex
	dev          *bluetooth.Device
	disconnected chan struct{}
	closeOnce    *sync.Once
}

// Connect dials the device. tinygo's Connect cannot be cancelled, so a
// cancelled ctx returns immediately and a late success is disconnected.
func (p *peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.dev != nil {
		p.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	p.mu.Unlock()

	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := p.adapter.adapter.Connect(p.addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return fmt.Errorf("connect to %s: %w", p.address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("connect to %s: %w", p.address, device.NormalizeError(r.err))
		}
		p.mu.Lock()
		p.dev = &r.dev
		p.disconnected = make(chan struct{})
		p.closeOnce = &sync.Once{}
		p.mu.Unlock()

		p.adapter.conns.Set(addressKey(p.address), p)
		p.logger.WithField("address", p.address).Info("BLE device connected")
		return nil
	}
}

func (p *peripheral) markDisconnected() {
	p.mu.Lock()
	done, once := p.disconnected, p.closeOnce
	p.mu.Unlock()
	if once != nil {
		once.Do(func() { close(done) })
	}
}

func (p *peripheral) Disconnect() error {
	p.mu.Lock()
	dev := p.dev
	p.dev = nil
	p.mu.Unlock()

	if dev == nil {
		return nil
	}
	p.adapter.conns.Del(addressKey(p.address))
	err := dev.Disconnect()
	p.markDisconnected()
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", p.address, device.NormalizeError(err))
	}
	return nil
}

func (p *peripheral) Address() string {
	return p.address
}

func (p *peripheral) Disconnected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

func (p *peripheral) GATT(_ context.Context) (device.GATTServer, error) {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev == nil {
		return nil, device.ErrNotConnected
	}
	return &gattServer{dev: dev}, nil
}

type gattServer struct {
	dev *bluetooth.Device
}

func (g *gattServer) GetPrimaryService(uuid string) (device.Service, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("parse service UUID %q: %w", uuid, err)
	}
	svcs, err := g.dev.DiscoverServices([]bluetooth.UUID{id})
	if err != nil || len(svcs) == 0 {
		return nil, fmt.Errorf("%w: %v", &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}, err)
	}
	return &service{svc: svcs[0], uuid: uuid}, nil
}

type service struct {
	svc  bluetooth.DeviceService
	uuid string
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.uuid)
}

func (s *service) GetCharacteristic(uuid string) (device.Characteristic, error) {
	id, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic UUID %q: %w", uuid, err)
	}
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{id})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("%w: %v", &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}, err)
	}
	return &characteristic{char: chars[0], uuid: uuid}, nil
}

// characteristic always implements device.CharacteristicWriter; tinygo does
// not expose GATT properties uniformly across platforms.
type characteristic struct {
	char bluetooth.DeviceCharacteristic
	uuid string
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.uuid)
}

func (c *characteristic) StartNotifications(_ context.Context, handler func(data []byte)) error {
	err := c.char.EnableNotifications(func(buf []byte) {
		handler(buf)
	})
	if err != nil {
		return fmt.Errorf("enable notifications on %s: %w", c.UUID(), device.NormalizeError(err))
	}
	return nil
}

func (c *characteristic) StopNotifications() error {
	if err := c.char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", c.UUID(), device.NormalizeError(err))
	}
	return nil
}

func (c *characteristic) WriteValue(_ context.Context, data []byte) error {
	if _, err := c.char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write %s: %w", c.UUID(), device.NormalizeError(err))
	}
	return nil
}

var (
	_ device.Device               = (*peripheral)(nil)
	_ device.CharacteristicWriter = (*characteristic)(nil)
)
