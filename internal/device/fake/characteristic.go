package fake

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/device"
)

// Characteristic is a settable GATT characteristic.
type Characteristic struct {
	uuid       ble.UUID
	value      []byte
	notifying  bool
	properties ble.Property

	// non-owning; cleared by the owning Service when it releases this characteristic
	service *Service
}

// NewCharacteristic creates a detached characteristic with the UUID parsed from uuid.
func NewCharacteristic(uuid string) (*Characteristic, error) {
	u, err := device.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	return &Characteristic{uuid: u}, nil
}

// MustCharacteristic is like NewCharacteristic but panics on a malformed UUID.
func MustCharacteristic(uuid string) *Characteristic {
	c, err := NewCharacteristic(uuid)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Characteristic) UUID() ble.UUID {
	return c.uuid
}

// Value returns the payload exactly as last set, including nil and empty slices.
// The slice is shared with the caller of SetValue.
func (c *Characteristic) Value() []byte {
	return c.value
}

func (c *Characteristic) IsNotifying() bool {
	return c.notifying
}

// Properties returns the property flags. Zero means "unspecified" and the
// simulator then permits every operation.
func (c *Characteristic) Properties() ble.Property {
	return c.properties
}

// Service returns the owning service, or nil when detached.
func (c *Characteristic) Service() device.Service {
	if c.service == nil {
		return nil
	}
	return c.service
}

// OwningService is Service with the concrete type.
func (c *Characteristic) OwningService() *Service {
	return c.service
}

func (c *Characteristic) SetUUID(u ble.UUID) {
	c.uuid = u
}

// SetValue stores data without copying or validation.
func (c *Characteristic) SetValue(data []byte) {
	c.value = data
}

func (c *Characteristic) SetNotifying(notifying bool) {
	c.notifying = notifying
}

func (c *Characteristic) SetProperties(p ble.Property) {
	c.properties = p
}

// SetService overwrites the back-reference only. It does not add c to the
// service's characteristic list; use Service.AddCharacteristic for that.
func (c *Characteristic) SetService(s *Service) {
	c.service = s
}

func (c *Characteristic) String() string {
	return "characteristic " + device.UUIDKey(c.uuid)
}
