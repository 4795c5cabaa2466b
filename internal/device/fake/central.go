package fake

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
)

// Advertisement is what a simulated device broadcasts during a scan.
type Advertisement struct {
	ID               ble.UUID
	Name             string
	RSSI             int
	ManufacturerData []byte
	Services         []ble.UUID
	Connectable      bool
}

// Central simulates a central manager that scans for and connects to
// registered simulated devices. It is safe for concurrent use.
type Central struct {
	devices   *hashmap.Map[string, *Device]
	poweredOn atomic.Bool
	logger    *logrus.Logger
}

// NewCentral creates a powered-on central with no devices.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Central{
		devices: hashmap.New[string, *Device](),
		logger:  logger,
	}
	c.poweredOn.Store(true)
	return c
}

// NewIdentifier returns a random 128-bit peripheral identifier.
func NewIdentifier() ble.UUID {
	return device.MustParseUUID(uuid.NewV4().String())
}

// SetPoweredOn simulates toggling the Bluetooth radio.
func (c *Central) SetPoweredOn(on bool) {
	c.poweredOn.Store(on)
	c.logger.WithField("powered_on", on).Debug("Central state updated")
}

func (c *Central) IsPoweredOn() bool {
	return c.poweredOn.Load()
}

func (c *Central) requirePoweredOn() error {
	if !c.poweredOn.Load() {
		return device.ErrBluetoothOff
	}
	return nil
}

// Add registers d. Returns ErrDuplicateUUID if its identifier is already registered.
func (c *Central) Add(d *Device) error {
	key := device.UUIDKey(d.Identifier())
	if _, loaded := c.devices.GetOrInsert(key, d); loaded {
		return fmt.Errorf("%w: peripheral %s already registered", device.ErrDuplicateUUID, key)
	}
	return nil
}

// Remove unregisters the device with the given identifier. Reports whether one was removed.
func (c *Central) Remove(id ble.UUID) bool {
	return c.devices.Del(device.UUIDKey(id))
}

// Get returns the registered device with the given identifier.
func (c *Central) Get(id ble.UUID) (*Device, error) {
	key := device.UUIDKey(id)
	d, ok := c.devices.Get(key)
	if !ok {
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{key}}
	}
	return d, nil
}

// Devices returns the registered devices ordered by identifier.
func (c *Central) Devices() []*Device {
	keys := make([]string, 0, c.devices.Len())
	c.devices.Range(func(key string, _ *Device) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)

	result := make([]*Device, 0, len(keys))
	for _, k := range keys {
		if d, ok := c.devices.Get(k); ok {
			result = append(result, d)
		}
	}
	return result
}

// Scan calls handler once per registered device advertising at least one of
// the filter services (every device when filter is empty), ordered by identifier.
func (c *Central) Scan(ctx context.Context, filter []ble.UUID, handler func(Advertisement)) error {
	if err := c.requirePoweredOn(); err != nil {
		return err
	}

	c.logger.WithField("device_count", c.devices.Len()).Debug("Starting simulated scan")
	for _, d := range c.Devices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		adv := advertise(d)
		if !advertisesAny(adv.Services, filter) {
			continue
		}
		handler(adv)
	}
	return nil
}

// Connect connects the registered device with the given identifier.
func (c *Central) Connect(ctx context.Context, id ble.UUID) (*Device, error) {
	if err := c.requirePoweredOn(); err != nil {
		return nil, err
	}
	d, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	c.logger.WithField("peripheral", device.ShortenUUID(device.UUIDKey(id))).Info("Connected to simulated peripheral")
	return d, nil
}

// CancelConnection disconnects the registered device with the given identifier.
func (c *Central) CancelConnection(id ble.UUID) error {
	d, err := c.Get(id)
	if err != nil {
		return err
	}
	return d.Disconnect()
}

func advertise(d *Device) Advertisement {
	adv := Advertisement{
		ID:               d.Identifier(),
		Name:             d.Name(),
		RSSI:             d.RSSI(),
		ManufacturerData: d.ManufacturerData(),
		Connectable:      d.State() == device.StateDisconnected,
	}
	for _, s := range d.Services() {
		adv.Services = append(adv.Services, s.UUID())
	}
	return adv
}

func advertisesAny(services, filter []ble.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range services {
		if device.MatchesFilter(filter, s) {
			return true
		}
	}
	return false
}
