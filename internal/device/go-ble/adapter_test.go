package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeAdv struct {
	ble.Advertisement
	addr string
	name string
}

func (a *fakeAdv) Addr() ble.Addr    { return ble.NewAddr(a.addr) }
func (a *fakeAdv) LocalName() string { return a.name }
func (a *fakeAdv) RSSI() int         { return -60 }

type fakeClient struct {
	ble.Client
	profile      *ble.Profile
	disconnected chan struct{}

	mu           sync.Mutex
	subscribed   map[string]ble.NotificationHandler
	writes       [][]byte
	noRsp        []bool
	cancelCalled int
}

func newFakeClient(profile *ble.Profile) *fakeClient {
	return &fakeClient{
		profile:      profile,
		disconnected: make(chan struct{}),
		subscribed:   map[string]ble.NotificationHandler{},
	}
}

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) { return c.profile, nil }
func (c *fakeClient) Disconnected() <-chan struct{}              { return c.disconnected }

func (c *fakeClient) Subscribe(ch *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[ch.UUID.String()] = h
	return nil
}

func (c *fakeClient) Unsubscribe(ch *ble.Characteristic, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribed, ch.UUID.String())
	return nil
}

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, v []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), v...))
	c.noRsp = append(c.noRsp, noRsp)
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalled++
	return nil
}

func (c *fakeClient) notify(uuid string, data []byte) {
	c.mu.Lock()
	h := c.subscribed[uuid]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

type fakeHost struct {
	ble.Device
	advs    []ble.Advertisement
	client  *fakeClient
	dialErr error

	mu      sync.Mutex
	dialed  []string
	stopped bool
}

func (h *fakeHost) Scan(ctx context.Context, _ bool, handler ble.AdvHandler) error {
	for _, a := range h.advs {
		handler(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (h *fakeHost) Dial(_ context.Context, a ble.Addr) (ble.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialed = append(h.dialed, a.String())
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	return h.client, nil
}

func (h *fakeHost) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

func heaterProfile(props ble.Property) *ble.Profile {
	return &ble.Profile{Services: []*ble.Service{
		{UUID: ble.MustParse("180f")},
		{
			UUID: ble.MustParse("0000ffe0-0000-1000-8000-00805f9b34fb"),
			Characteristics: []*ble.Characteristic{
				{UUID: ble.MustParse("0000ffe1-0000-1000-8000-00805f9b34fb"), Property: props},
			},
		},
	}}
}

type AdapterTestSuite struct {
	suite.Suite
	host            *fakeHost
	originalFactory func() (ble.Device, error)
}

func (s *AdapterTestSuite) SetupTest() {
	s.host = &fakeHost{
		advs: []ble.Advertisement{
			&fakeAdv{addr: "11:22:33:44:55:66", name: "other"},
			&fakeAdv{addr: "aa:bb:cc:dd:ee:ff", name: "heater"},
		},
		client: newFakeClient(heaterProfile(ble.CharNotify | ble.CharWriteNR)),
	}
	s.originalFactory = DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return s.host, nil }
}

func (s *AdapterTestSuite) TearDownTest() {
	DeviceFactory = s.originalFactory
}

func (s *AdapterTestSuite) connectHeater(a *Adapter) device.Device {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Require().NoError(a.StartDiscovery(ctx))
	dev, err := a.WaitForDevice(ctx, "AA:BB:CC:DD:EE:FF")
	s.Require().NoError(err)
	s.Require().NoError(dev.Connect(ctx))
	return dev
}

func (s *AdapterTestSuite) TestDiscoverConnectAndResolve() {
	a := NewAdapter(nil)
	dev := s.connectHeater(a)

	s.Equal(2, a.Seen())
	s.False(a.IsDiscovering(), "discovery stops once the device is found")
	s.Equal([]string{"aa:bb:cc:dd:ee:ff"}, s.host.dialed)

	gatt, err := dev.GATT(context.Background())
	s.Require().NoError(err)
	svc, err := gatt.GetPrimaryService("0000ffe0-0000-1000-8000-00805f9b34fb")
	s.Require().NoError(err)
	s.Equal("ffe0", svc.UUID())

	char, err := svc.GetCharacteristic("0000ffe1-0000-1000-8000-00805f9b34fb")
	s.Require().NoError(err)
	s.Equal("ffe1", char.UUID())

	got := make(chan []byte, 1)
	s.Require().NoError(char.StartNotifications(context.Background(), func(b []byte) { got <- b }))
	s.host.client.notify(ble.MustParse("0000ffe1-0000-1000-8000-00805f9b34fb").String(), []byte{0xAA, 0x55})
	s.Equal([]byte{0xAA, 0x55}, <-got)

	w, ok := char.(device.CharacteristicWriter)
	s.Require().True(ok)
	s.Require().NoError(w.WriteValue(context.Background(), []byte{1, 2, 3}))
	s.Equal([][]byte{{1, 2, 3}}, s.host.client.writes)
	s.Equal([]bool{true}, s.host.client.noRsp)

	s.Require().NoError(char.StopNotifications())
	s.Empty(s.host.client.subscribed)

	s.Require().NoError(dev.Disconnect())
	s.Equal(1, s.host.client.cancelCalled)
	select {
	case <-dev.Disconnected():
	default:
		s.Fail("Disconnected channel must be closed after Disconnect")
	}
	s.NoError(dev.Disconnect(), "second disconnect is a no-op")

	s.Require().NoError(a.Close())
	s.True(s.host.stopped)
}

func (s *AdapterTestSuite) TestMissingServiceAndCharacteristic() {
	a := NewAdapter(nil)
	dev := s.connectHeater(a)
	defer a.Close()

	gatt, err := dev.GATT(context.Background())
	s.Require().NoError(err)

	_, err = gatt.GetPrimaryService("fff0")
	var nf *device.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("service", nf.Resource)

	svc, err := gatt.GetPrimaryService("ffe0")
	s.Require().NoError(err)
	_, err = svc.GetCharacteristic("ffe2")
	s.Require().ErrorAs(err, &nf)
	s.Equal("characteristic", nf.Resource)
}

func (s *AdapterTestSuite) TestReadOnlyCharacteristicIsNotWriter() {
	s.host.client = newFakeClient(heaterProfile(ble.CharNotify))
	a := NewAdapter(nil)
	dev := s.connectHeater(a)
	defer a.Close()

	gatt, err := dev.GATT(context.Background())
	s.Require().NoError(err)
	svc, err := gatt.GetPrimaryService("ffe0")
	s.Require().NoError(err)
	char, err := svc.GetCharacteristic("ffe1")
	s.Require().NoError(err)

	_, ok := char.(device.CharacteristicWriter)
	s.False(ok)
}

func (s *AdapterTestSuite) TestLinkLossClosesDisconnected() {
	a := NewAdapter(nil)
	dev := s.connectHeater(a)
	defer a.Close()

	close(s.host.client.disconnected)

	select {
	case <-dev.Disconnected():
	case <-time.After(time.Second):
		s.Fail("link loss was not reported")
	}
}

func (s *AdapterTestSuite) TestWaitForDeviceTimesOut() {
	a := NewAdapter(nil)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Require().NoError(a.StartDiscovery(ctx))

	_, err := a.WaitForDevice(ctx, "00:00:00:00:00:01")
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *AdapterTestSuite) TestDialFailure() {
	s.host.dialErr = errors.New("device not connected")
	a := NewAdapter(nil)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(a.StartDiscovery(ctx))
	dev, err := a.WaitForDevice(ctx, "aa:bb:cc:dd:ee:ff")
	s.Require().NoError(err)

	err = dev.Connect(ctx)
	s.ErrorIs(err, device.ErrNotConnected)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

func TestNormalizeError(t *testing.T) {
	err := NormalizeError(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	assert.ErrorIs(t, err, device.ErrBluetoothOff)

	err = NormalizeError(errors.New("peripheral disconnected"))
	assert.ErrorIs(t, err, device.ErrNotConnected)

	require.NoError(t, NormalizeError(nil))
}
