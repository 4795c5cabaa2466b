package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/device/fake"
)

// Build creates a simulated device from p. The device starts in the profile's
// state (disconnected when unset). opts are applied after the profile's own settings.
func Build(p Profile, opts ...fake.Option) (*fake.Device, error) {
	periph := &fake.Peripheral{}
	if p.ID == "" {
		periph.SetIdentifier(fake.NewIdentifier())
	} else {
		id, err := device.ParseUUID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("peripheral id: %w", err)
		}
		periph.SetIdentifier(id)
	}

	base := []fake.Option{fake.WithName(p.Name), fake.WithManufacturerData(p.ManufacturerData)}
	if p.RSSI != 0 {
		base = append(base, fake.WithRSSI(p.RSSI))
	}
	dev := fake.NewDevice(periph, append(base, opts...)...)

	for i, sc := range p.Services {
		svc, err := buildService(sc)
		if err != nil {
			return nil, fmt.Errorf("service #%d: %w", i, err)
		}
		if err := dev.AddService(svc); err != nil {
			return nil, fmt.Errorf("service #%d: %w", i, err)
		}
	}

	if p.State != "" {
		state, err := device.ParsePeripheralState(p.State)
		if err != nil {
			return nil, err
		}
		periph.SetState(state)
	}
	return dev, nil
}

func buildService(sc ServiceConfig) (*fake.Service, error) {
	svc, err := fake.NewService(sc.UUID)
	if err != nil {
		return nil, err
	}

	for _, cc := range sc.Characteristics {
		c, err := fake.NewCharacteristic(cc.UUID)
		if err != nil {
			return nil, fmt.Errorf("characteristic: %w", err)
		}
		props, err := ParseProperties(cc.Properties)
		if err != nil {
			return nil, fmt.Errorf("characteristic %s: %w", cc.UUID, err)
		}
		c.SetProperties(props)
		if cc.Value != nil {
			c.SetValue([]byte(cc.Value))
		}
		c.SetNotifying(cc.Notifying)

		if err := svc.AddCharacteristic(c); err != nil {
			return nil, fmt.Errorf("service %s: %w", sc.UUID, err)
		}
	}
	return svc, nil
}

// Describe returns the profile of a simulated device without connecting to it.
func Describe(d *fake.Device) Profile {
	p := Profile{
		ID:               device.UUIDKey(d.Identifier()),
		Name:             d.Name(),
		RSSI:             d.RSSI(),
		State:            d.State().String(),
		ManufacturerData: d.ManufacturerData(),
		Services:         []ServiceConfig{},
	}
	for _, svc := range d.Services() {
		p.Services = append(p.Services, describeService(svc, svc.Characteristics()))
	}
	return p
}

// Snapshot discovers the whole GATT tree of a connected device and reads every
// readable characteristic. Read failures leave the value empty and are joined
// into the returned error alongside the partial profile.
func Snapshot(ctx context.Context, dev device.Device) (Profile, error) {
	p := Profile{
		ID:       device.UUIDKey(dev.Identifier()),
		State:    dev.State().String(),
		Services: []ServiceConfig{},
	}

	svcs, err := dev.DiscoverServices(ctx, nil)
	if err != nil {
		return p, err
	}

	var readErrs []error
	for _, svc := range svcs {
		chars, err := dev.DiscoverCharacteristics(ctx, nil, svc)
		if err != nil {
			return p, err
		}
		for _, c := range chars {
			if c.Properties() != 0 && c.Properties()&ble.CharRead == 0 {
				continue
			}
			if _, err := dev.ReadValue(ctx, c); err != nil {
				readErrs = append(readErrs, err)
			}
		}
		p.Services = append(p.Services, describeService(svc, chars))
	}
	return p, errors.Join(readErrs...)
}

func describeService(svc device.Service, chars []device.Characteristic) ServiceConfig {
	sc := ServiceConfig{
		UUID: device.UUIDKey(svc.UUID()),
		Name: device.ServiceName(svc.UUID()),
	}
	for _, c := range chars {
		sc.Characteristics = append(sc.Characteristics, CharacteristicConfig{
			UUID:       device.UUIDKey(c.UUID()),
			Name:       device.CharacteristicName(c.UUID()),
			Properties: FormatProperties(c.Properties()),
			Value:      c.Value(),
			Notifying:  c.IsNotifying(),
		})
	}
	return sc
}
