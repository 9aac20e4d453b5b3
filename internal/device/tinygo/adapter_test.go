package tinygo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/heaterbridge/internal/device"
	"github.com/srg/heaterbridge/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// connectedPeripheral registers a peripheral the way Connect does, without a radio.
func connectedPeripheral(a *Adapter, address string) *peripheral {
	p := &peripheral{
		adapter:      a,
		address:      address,
		logger:       a.logger,
		disconnected: make(chan struct{}),
		closeOnce:    &sync.Once{},
	}
	a.conns.Set(addressKey(address), p)
	return p
}

func TestAddressKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{" aa:bb:cc:dd:ee:ff\n", "aa:bb:cc:dd:ee:ff"},
		{"5B2A4E34-1B9C-4B0E-9F3A-7E1D2C3B4A59", "5b2a4e34-1b9c-4b0e-9f3a-7e1d2c3b4a59"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, addressKey(tt.in))
		})
	}
}

func TestConnectionChanged_LinkLossClosesDisconnected(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	a := NewAdapter(helper.Logger)
	p := connectedPeripheral(a, "AA:BB:CC:DD:EE:FF")

	a.connectionChanged("aa:bb:cc:dd:ee:ff", true)
	assert.False(t, isClosed(p.Disconnected()), "connect events are ignored")

	a.connectionChanged("11:22:33:44:55:66", false)
	assert.False(t, isClosed(p.Disconnected()), "other devices do not affect this link")

	a.connectionChanged("aa:bb:cc:dd:ee:ff", false)
	assert.True(t, isClosed(p.Disconnected()))
	assert.True(t, helper.Logged(logrus.WarnLevel, "BLE link reported disconnection"))

	// repeated reports close the channel once
	assert.NotPanics(t, func() {
		a.connectionChanged("AA:BB:CC:DD:EE:FF", false)
		p.markDisconnected()
	})
}

func TestPeripheral_NotConnected(t *testing.T) {
	a := NewAdapter(nil)
	p := &peripheral{adapter: a, address: "AA:BB:CC:DD:EE:FF", logger: a.logger}

	assert.NotPanics(t, p.markDisconnected)
	assert.Nil(t, p.Disconnected())
	assert.NoError(t, p.Disconnect())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.Address())

	_, err := p.GATT(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestAdapter_WaitForDeviceHonoursContext(t *testing.T) {
	a := NewAdapter(nil)
	assert.False(t, a.IsDiscovering())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.WaitForDevice(ctx, "AA:BB:CC:DD:EE:FF")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, a.Close(), "closing without a scan is a no-op")
}
