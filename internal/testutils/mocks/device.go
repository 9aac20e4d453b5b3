// Package mocks holds testify mocks of the device transport interfaces.
package mocks

import (
	"context"

	"github.com/srg/heaterbridge/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock of device.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) IsDiscovering() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdapter) StartDiscovery(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAdapter) WaitForDevice(ctx context.Context, address string) (device.Device, error) {
	args := m.Called(ctx, address)
	dev, _ := args.Get(0).(device.Device)
	return dev, args.Error(1)
}

func (m *MockAdapter) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockDevice is a mock of device.Device.
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Address() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDevice) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDevice) Disconnect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockDevice) GATT(ctx context.Context) (device.GATTServer, error) {
	args := m.Called(ctx)
	gatt, _ := args.Get(0).(device.GATTServer)
	return gatt, args.Error(1)
}

func (m *MockDevice) Disconnected() <-chan struct{} {
	args := m.Called()
	ch, _ := args.Get(0).(chan struct{})
	return ch
}

// MockGATTServer is a mock of device.GATTServer.
type MockGATTServer struct {
	mock.Mock
}

func (m *MockGATTServer) GetPrimaryService(uuid string) (device.Service, error) {
	args := m.Called(uuid)
	svc, _ := args.Get(0).(device.Service)
	return svc, args.Error(1)
}

// MockService is a mock of device.Service.
type MockService struct {
	mock.Mock
}

func (m *MockService) UUID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockService) GetCharacteristic(uuid string) (device.Characteristic, error) {
	args := m.Called(uuid)
	char, _ := args.Get(0).(device.Characteristic)
	return char, args.Error(1)
}

// MockCharacteristic is a mock of device.Characteristic without write support.
type MockCharacteristic struct {
	mock.Mock
}

func (m *MockCharacteristic) UUID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockCharacteristic) StartNotifications(ctx context.Context, handler func(data []byte)) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockCharacteristic) StopNotifications() error {
	args := m.Called()
	return args.Error(0)
}

// MockWritableCharacteristic adds device.CharacteristicWriter to MockCharacteristic.
type MockWritableCharacteristic struct {
	MockCharacteristic
}

func (m *MockWritableCharacteristic) WriteValue(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

var (
	_ device.Adapter              = (*MockAdapter)(nil)
	_ device.Device               = (*MockDevice)(nil)
	_ device.GATTServer           = (*MockGATTServer)(nil)
	_ device.Service              = (*MockService)(nil)
	_ device.Characteristic       = (*MockCharacteristic)(nil)
	_ device.CharacteristicWriter = (*MockWritableCharacteristic)(nil)
)
