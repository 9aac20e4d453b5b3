package testutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/heaterbridge/internal/device"
	"github.com/stretchr/testify/suite"
)

// PeripheralDeviceBuilderTestSuite tests PeripheralDeviceBuilder functionality
type PeripheralDeviceBuilderTestSuite struct {
	suite.Suite
}

func (s *PeripheralDeviceBuilderTestSuite) connect(p *MockPeripheral) device.Device {
	ctx := context.Background()
	s.Require().NoError(p.Adapter.StartDiscovery(ctx))
	dev, err := p.Adapter.WaitForDevice(ctx, "AA:BB:CC:DD:EE:FF")
	s.Require().NoError(err)
	s.Require().NoError(dev.Connect(ctx))
	return dev
}

func (s *PeripheralDeviceBuilderTestSuite) TestHeaterPeripheral_ResolvesShortAndLongUUIDs() {
	p := CreateHeaterPeripheral().Build()
	dev := s.connect(p)

	gatt, err := dev.GATT(context.Background())
	s.Require().NoError(err)

	for _, uuid := range []string{"ffe0", "0000ffe0-0000-1000-8000-00805f9b34fb", "FFE0"} {
		svc, err := gatt.GetPrimaryService(uuid)
		s.Require().NoError(err, uuid)
		s.Equal("ffe0", svc.UUID())

		char, err := svc.GetCharacteristic("ffe1")
		s.Require().NoError(err)
		s.Equal("ffe1", char.UUID())
		s.Implements((*device.CharacteristicWriter)(nil), char)
	}
}

func (s *PeripheralDeviceBuilderTestSuite) TestMissingResourcesReturnNotFound() {
	p := CreateHeaterPeripheral().Build()
	gatt, err := s.connect(p).GATT(context.Background())
	s.Require().NoError(err)

	_, err = gatt.GetPrimaryService("180f")
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("service", nf.Resource)

	svc, err := gatt.GetPrimaryService("ffe0")
	s.Require().NoError(err)
	_, err = svc.GetCharacteristic("ffe2")
	s.Require().ErrorAs(err, &nf)
	s.Equal("characteristic", nf.Resource)
}

func (s *PeripheralDeviceBuilderTestSuite) TestNotifyAndWrites() {
	p := CreateHeaterPeripheral().Build()
	gatt, _ := s.connect(p).GATT(context.Background())
	svc, _ := gatt.GetPrimaryService("ffe0")
	char, _ := svc.GetCharacteristic("ffe1")

	s.False(p.Notify([]byte{1}), "nothing subscribed yet")

	received := make(chan []byte, 1)
	s.Require().NoError(char.StartNotifications(context.Background(), func(data []byte) { received <- data }))
	s.True(p.Subscribed())
	s.True(p.Notify([]byte{0xAA, 0x55}))
	s.Equal([]byte{0xAA, 0x55}, <-received)

	w := char.(device.CharacteristicWriter)
	s.Require().NoError(w.WriteValue(context.Background(), []byte{1, 2, 3}))
	select {
	case data := <-p.Writes():
		s.Equal([]byte{1, 2, 3}, data)
	case <-time.After(time.Second):
		s.Fail("write not recorded")
	}

	s.Require().NoError(char.StopNotifications())
	s.False(p.Subscribed())
}

func (s *PeripheralDeviceBuilderTestSuite) TestReadOnlyCharacteristicIsNotWritable() {
	p := NewPeripheralDeviceBuilder().WithService("ffe0").WithCharacteristic("ffe1", "notify").Build()
	gatt, _ := s.connect(p).GATT(context.Background())
	svc, _ := gatt.GetPrimaryService("ffe0")
	char, err := svc.GetCharacteristic("ffe1")
	s.Require().NoError(err)

	_, ok := char.(device.CharacteristicWriter)
	s.False(ok)
}

func (s *PeripheralDeviceBuilderTestSuite) TestDisconnectDropsLink() {
	p := CreateHeaterPeripheral().Build()
	dev := s.connect(p)

	select {
	case <-dev.Disconnected():
		s.Fail("link dropped before Disconnect")
	default:
	}
	s.Require().NoError(dev.Disconnect())
	s.Eventually(func() bool {
		select {
		case <-dev.Disconnected():
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// DropLink after Disconnect must not panic on a closed channel
	p.DropLink()
}

func (s *PeripheralDeviceBuilderTestSuite) TestKeepLinkOnDisconnect() {
	p := CreateHeaterPeripheral().KeepLinkOnDisconnect().Build()
	dev := s.connect(p)

	s.Require().NoError(dev.Disconnect())
	select {
	case <-dev.Disconnected():
		s.Fail("link dropped on Disconnect")
	default:
	}
}

func (s *PeripheralDeviceBuilderTestSuite) TestWithErrors() {
	boom := errors.New("boom")
	p := CreateHeaterPeripheral().WithErrors(map[string]error{
		"connect": boom,
		"write":   boom,
	}).Build()

	dev, err := p.Adapter.WaitForDevice(context.Background(), "AA:BB:CC:DD:EE:FF")
	s.Require().NoError(err)
	s.ErrorIs(dev.Connect(context.Background()), boom)

	s.Panics(func() {
		CreateHeaterPeripheral().WithErrors(map[string]error{"teleport": boom})
	})
}

func (s *PeripheralDeviceBuilderTestSuite) TestNeverAdvertises() {
	p := CreateHeaterPeripheral().NeverAdvertises().Build()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Adapter.WaitForDevice(ctx, "AA:BB:CC:DD:EE:FF")
	s.ErrorIs(err, context.DeadlineExceeded)
	s.ErrorIs(ctx.Err(), context.DeadlineExceeded)
}

func (s *PeripheralDeviceBuilderTestSuite) TestFromJSONKeepsAddress() {
	p := NewPeripheralDeviceBuilder().
		WithAddress("11:22:33:44:55:66").
		FromJSON(`{"services": [{"uuid": "%s"}]}`, "ffe0").
		Build()

	dev, err := p.Adapter.WaitForDevice(context.Background(), "11:22:33:44:55:66")
	s.Require().NoError(err)
	s.Equal("11:22:33:44:55:66", dev.Address())
	s.Contains(p.Services, "ffe0")

	s.Panics(func() { NewPeripheralDeviceBuilder().FromJSON("{not json") })
	s.Panics(func() { NewPeripheralDeviceBuilder().WithCharacteristic("ffe1", "notify") })
}

func TestPeripheralDeviceBuilder(t *testing.T) {
	suite.Run(t, new(PeripheralDeviceBuilderTestSuite))
}
