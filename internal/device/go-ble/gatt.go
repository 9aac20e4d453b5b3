package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/heaterbridge/internal/device"
)

type gattServer struct {
	client  ble.Client
	profile *ble.Profile
}

func (g *gattServer) GetPrimaryService(uuid string) (device.Service, error) {
	for _, svc := range g.profile.Services {
		if device.SameUUID(svc.UUID.String(), uuid) {
			return &service{client: g.client, svc: svc}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

type service struct {
	client ble.Client
	svc    *ble.Service
}

func (s *service) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

// GetCharacteristic returns a device.CharacteristicWriter only when the
// characteristic advertises a write property.
func (s *service) GetCharacteristic(uuid string) (device.Characteristic, error) {
	for _, c := range s.svc.Characteristics {
		if !device.SameUUID(c.UUID.String(), uuid) {
			continue
		}
		base := &characteristic{client: s.client, char: c}
		if c.Property&(ble.CharWrite|ble.CharWriteNR) != 0 {
			return &writableCharacteristic{characteristic: base}, nil
		}
		return base, nil
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
}

type characteristic struct {
	client ble.Client
	char   *ble.Characteristic
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.char.UUID.String())
}

// indicate reports whether the characteristic only supports indications.
func (c *characteristic) indicate() bool {
	return c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
}

func (c *characteristic) StartNotifications(_ context.Context, handler func(data []byte)) error {
	if c.char.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("%s: %w", c.UUID(), device.ErrNoNotify)
	}
	err := c.client.Subscribe(c.char, c.indicate(), func(req []byte) {
		handler(req)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}

func (c *characteristic) StopNotifications() error {
	if err := c.client.Unsubscribe(c.char, c.indicate()); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}

type writableCharacteristic struct {
	*characteristic
}

// WriteValue prefers write-without-response when the characteristic offers it.
func (c *writableCharacteristic) WriteValue(_ context.Context, data []byte) error {
	noRsp := c.char.Property&ble.CharWriteNR != 0
	if err := c.client.WriteCharacteristic(c.char, data, noRsp); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.UUID(), NormalizeError(err))
	}
	return nil
}

var (
	_ device.Characteristic       = (*characteristic)(nil)
	_ device.CharacteristicWriter = (*writableCharacteristic)(nil)
)
