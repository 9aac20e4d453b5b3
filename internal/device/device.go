package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Adapter is the local BLE radio.
type Adapter interface {
	// IsDiscovering reports whether a scan is already running.
	IsDiscovering() bool
	// StartDiscovery begins scanning for advertisements. The scan runs until
	// ctx is cancelled or Close is called.
	StartDiscovery(ctx context.Context) error
	// WaitForDevice blocks until a device with the given address has been seen.
	WaitForDevice(ctx context.Context, address string) (Device, error)
	// Close stops discovery and releases the radio.
	Close() error
}

// Device is a remote peripheral found by discovery.
type Device interface {
	Address() string
	Connect(ctx context.Context) error
	Disconnect() error
	// GATT returns the resolver for the connected device's services.
	GATT(ctx context.Context) (GATTServer, error)
	// Disconnected is closed when the link drops after a successful Connect.
	Disconnected() <-chan struct{}
}

// GATTServer resolves primary services on a connected device.
type GATTServer interface {
	GetPrimaryService(uuid string) (Service, error)
}

// Service resolves characteristics within a primary service.
type Service interface {
	UUID() string
	GetCharacteristic(uuid string) (Characteristic, error)
}

// Characteristic is a GATT value endpoint supporting notifications.
type Characteristic interface {
	UUID() string
	// StartNotifications subscribes to value changes. The handler may be
	// called from any goroutine and must not block.
	StartNotifications(ctx context.Context, handler func(data []byte)) error
	StopNotifications() error
}

// CharacteristicWriter is implemented by characteristics that accept writes.
type CharacteristicWriter interface {
	WriteValue(ctx context.Context, data []byte) error
}

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // Address or UUIDs, outermost first
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

var (
	ErrUnsupported  = errors.New("unsupported")
	ErrNotWritable  = errors.New("characteristic is not writable")
	ErrNoNotify     = errors.New("characteristic does not support notifications")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// NormalizeError maps known transport error strings to structured ConnectionError types.
// The original error is kept in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case strings.Contains(msg, "not initialized"), strings.Contains(msg, "not enabled"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
