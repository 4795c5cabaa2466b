package device

import (
	"context"

	"github.com/go-ble/ble"
)

// Characteristic is the read surface of a GATT characteristic that production
// code consumes. Both the go-ble backend and the simulator implement it.
type Characteristic interface {
	UUID() ble.UUID
	// Value returns the last value read, written by the peripheral, or notified.
	// nil means no value has been seen yet.
	Value() []byte
	IsNotifying() bool
	Properties() ble.Property
	// Service returns the owning service, or nil when the characteristic is detached.
	Service() Service
}

// Service is the read surface of a GATT service.
type Service interface {
	UUID() ble.UUID
	// Characteristics returns the characteristics in discovery order.
	Characteristics() []Characteristic
}

// Peripheral is the read surface of a remote BLE peripheral.
type Peripheral interface {
	Identifier() ble.UUID
	State() PeripheralState
}

// NotificationHandler receives notification payloads for a characteristic.
type NotificationHandler func(c Characteristic, data []byte)

// Discoverer supplies the peripheral -> service association. The data model
// never stores it; it is obtained through discovery.
type Discoverer interface {
	// DiscoverServices returns the services matching filter, or all services when filter is empty.
	DiscoverServices(ctx context.Context, filter []ble.UUID) ([]Service, error)
	// DiscoverCharacteristics returns the characteristics of svc matching filter, or all when filter is empty.
	DiscoverCharacteristics(ctx context.Context, filter []ble.UUID, svc Service) ([]Characteristic, error)
}

// Transport performs characteristic value operations.
type Transport interface {
	ReadValue(ctx context.Context, c Characteristic) ([]byte, error)
	WriteValue(ctx context.Context, c Characteristic, data []byte, withResponse bool) error
	// SetNotifyValue enables or disables notifications. handler is ignored when disabling.
	SetNotifyValue(ctx context.Context, c Characteristic, enabled bool, handler NotificationHandler) error
}

// Device is a connectable peripheral with discovery and value operations.
type Device interface {
	Peripheral
	Discoverer
	Transport

	Connect(ctx context.Context) error
	Disconnect() error
	ReadRSSI(ctx context.Context) (int, error)
}
