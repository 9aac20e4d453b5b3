package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a GATT characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "notify,write"
}

// ServiceConfig represents a GATT service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig represents the complete mocked peripheral
type PeripheralConfig struct {
	Address  string          `json:"address"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked adapter and peripheral wired through the device interfaces
type PeripheralDeviceBuilder struct {
	config PeripheralConfig

	discovering        bool
	discoveryErr       error
	waitErr            error
	connectErr         error
	gattErr            error
	subscribeErr       error
	writeErr           error
	stopNotifyErr      error
	disconnectErr      error
	closeOnDisconnect  bool
	blockWaitForDevice bool
}

// NewPeripheralDeviceBuilder creates a builder with no services
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		config:            PeripheralConfig{Address: "AA:BB:CC:DD:EE:FF"},
		closeOnDisconnect: true,
	}
}

// WithAddress sets the advertised address
func (b *PeripheralDeviceBuilder) WithAddress(address string) *PeripheralDeviceBuilder {
	b.config.Address = address
	return b
}

// WithService adds a service to the peripheral
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.config.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.config.Services) - 1
	b.config.Services[last].Characteristics = append(b.config.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON fills the peripheral configuration from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.Address == "" {
		config.Address = b.config.Address
	}
	b.config = config
	return b
}

// AlreadyDiscovering makes the adapter report a running scan
func (b *PeripheralDeviceBuilder) AlreadyDiscovering() *PeripheralDeviceBuilder {
	b.discovering = true
	return b
}

// NeverAdvertises makes WaitForDevice block until its context ends
func (b *PeripheralDeviceBuilder) NeverAdvertises() *PeripheralDeviceBuilder {
	b.blockWaitForDevice = true
	return b
}

// KeepLinkOnDisconnect stops Disconnect from closing the Disconnected channel
func (b *PeripheralDeviceBuilder) KeepLinkOnDisconnect() *PeripheralDeviceBuilder {
	b.closeOnDisconnect = false
	return b
}

// WithErrors configures failures; keys are operation names such as "connect" or "write".
func (b *PeripheralDeviceBuilder) WithErrors(errs map[string]error) *PeripheralDeviceBuilder {
	for op, err := range errs {
		switch op {
		case "discovery":
			b.discoveryErr = err
		case "wait":
			b.waitErr = err
		case "connect":
			b.connectErr = err
		case "gatt":
			b.gattErr = err
		case "subscribe":
			b.subscribeErr = err
		case "write":
			b.writeErr = err
		case "unsubscribe":
			b.stopNotifyErr = err
		case "disconnect":
			b.disconnectErr = err
		default:
			panic("WithErrors: unknown operation " + op)
		}
	}
	return b
}

// MockPeripheral is a built mock with hooks for driving notifications and link loss.
type MockPeripheral struct {
	Adapter *mocks.MockAdapter
	Device  *mocks.MockDevice
	GATT    *mocks.MockGATTServer

	Services        map[string]*mocks.MockService
	Characteristics map[string]*mocks.MockCharacteristic

	mu           sync.Mutex
	handler      func([]byte)
	writes       chan []byte
	disconnected chan struct{}
	dropOnce     sync.Once
}

// Notify delivers a notification through the registered handler.
// It reports false if nothing is subscribed.
func (p *MockPeripheral) Notify(data []byte) bool {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether a notification handler is registered.
func (p *MockPeripheral) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}

// Writes returns the values written to any writable characteristic.
func (p *MockPeripheral) Writes() <-chan []byte {
	return p.writes
}

// DropLink simulates the device going out of range.
func (p *MockPeripheral) DropLink() {
	p.dropOnce.Do(func() { close(p.disconnected) })
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Split(props, ",") {
		if strings.TrimSpace(p) == want {
			return true
		}
	}
	return false
}

// Build creates the mocks with all expectations registered
func (b *PeripheralDeviceBuilder) Build() *MockPeripheral {
	p := &MockPeripheral{
		Adapter:         &mocks.MockAdapter{},
		Device:          &mocks.MockDevice{},
		GATT:            &mocks.MockGATTServer{},
		Services:        map[string]*mocks.MockService{},
		Characteristics: map[string]*mocks.MockCharacteristic{},
		writes:          make(chan []byte, 64),
		disconnected:    make(chan struct{}),
	}

	p.Adapter.On("IsDiscovering").Return(b.discovering)
	p.Adapter.On("StartDiscovery", mock.Anything).Return(b.discoveryErr)
	p.Adapter.On("Close").Return(nil)

	wait := p.Adapter.On("WaitForDevice", mock.Anything, b.config.Address)
	switch {
	case b.blockWaitForDevice:
		wait.Return(nil, context.DeadlineExceeded).Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		})
	case b.waitErr != nil:
		wait.Return(nil, b.waitErr)
	default:
		wait.Return(p.Device, nil)
	}

	p.Device.On("Address").Return(b.config.Address)
	p.Device.On("Connect", mock.Anything).Return(b.connectErr)
	p.Device.On("Disconnected").Return(p.disconnected)
	p.Device.On("Disconnect").Return(b.disconnectErr).Run(func(mock.Arguments) {
		if b.closeOnDisconnect {
			p.DropLink()
		}
	})
	if b.gattErr != nil {
		p.Device.On("GATT", mock.Anything).Return(nil, b.gattErr)
	} else {
		p.Device.On("GATT", mock.Anything).Return(p.GATT, nil)
	}

	for _, svcConfig := range b.config.Services {
		svc := &mocks.MockService{}
		svc.On("UUID").Return(device.NormalizeUUID(svcConfig.UUID))
		p.Services[device.NormalizeUUID(svcConfig.UUID)] = svc

		for _, charConfig := range svcConfig.Characteristics {
			var char device.Characteristic
			var base *mocks.MockCharacteristic
			if hasProperty(charConfig.Properties, "write") {
				w := &mocks.MockWritableCharacteristic{}
				w.On("WriteValue", mock.Anything, mock.Anything).Return(b.writeErr).Run(func(args mock.Arguments) {
					data := args.Get(1).([]byte)
					select {
					case p.writes <- append([]byte(nil), data...):
					default:
					}
				})
				base, char = &w.MockCharacteristic, w
			} else {
				base = &mocks.MockCharacteristic{}
				char = base
			}

			base.On("UUID").Return(device.NormalizeUUID(charConfig.UUID))
			start := base.On("StartNotifications", mock.Anything, mock.Anything).Return(b.subscribeErr)
			if b.subscribeErr == nil {
				start.Run(func(args mock.Arguments) {
					p.mu.Lock()
					p.handler = args.Get(1).(func([]byte))
					p.mu.Unlock()
				})
			}
			base.On("StopNotifications").Return(b.stopNotifyErr).Run(func(mock.Arguments) {
				p.mu.Lock()
				p.handler = nil
				p.mu.Unlock()
			})

			svc.On("GetCharacteristic", mock.MatchedBy(func(uuid string) bool {
				return device.SameUUID(uuid, charConfig.UUID)
			})).Return(char, nil)
			p.Characteristics[device.NormalizeUUID(charConfig.UUID)] = base
		}
		svc.On("GetCharacteristic", mock.Anything).Return(nil,
			&device.NotFoundError{Resource: "characteristic", UUIDs: []string{svcConfig.UUID}})

		p.GATT.On("GetPrimaryService", mock.MatchedBy(func(uuid string) bool {
			return device.SameUUID(uuid, svcConfig.UUID)
		})).Return(svc, nil)
	}
	p.GATT.On("GetPrimaryService", mock.Anything).Return(nil, &device.NotFoundError{Resource: "service"})

	return p
}

// CreateHeaterPeripheral returns a builder preconfigured with the heater's service and characteristic.
func CreateHeaterPeripheral() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(`{
		"services": [
			{
				"uuid": "0000ffe0-0000-1000-8000-00805f9b34fb",
				"characteristics": [
					{"uuid": "0000ffe1-0000-1000-8000-00805f9b34fb", "properties": "notify,write"}
				]
			}
		]
	}`)
}
