package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blesim/internal/device/fake"
	"github.com/srg/blesim/internal/profile"
	"gopkg.in/yaml.v3"
)

// PeripheralBuilder builds simulated devices from a fluent description or a
// JSON/YAML profile. Fixture errors panic.
type PeripheralBuilder struct {
	profile profile.Profile
	opts    []fake.Option
}

// NewPeripheralBuilder creates an empty builder.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		profile: profile.Profile{
			Services: []profile.ServiceConfig{},
		},
	}
}

// WithID sets the peripheral identifier.
func (b *PeripheralBuilder) WithID(id string) *PeripheralBuilder {
	b.profile.ID = id
	return b
}

// WithName sets the advertised local name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithRSSI sets the base signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.profile.RSSI = rssi
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, profile.ServiceConfig{
		UUID:            uuid,
		Characteristics: []profile.CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, profile.CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithOptions appends simulator options applied on Build.
func (b *PeripheralBuilder) WithOptions(opts ...fake.Option) *PeripheralBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// FromJSON replaces the profile with the formatted JSON document.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var p profile.Profile
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &p); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = p
	return b
}

// FromYAML replaces the profile with the formatted YAML document.
func (b *PeripheralBuilder) FromYAML(yamlStrFmt string, args ...interface{}) *PeripheralBuilder {
	var p profile.Profile
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(yamlStrFmt, args...)), &p); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromYAML: failed to unmarshal: %v", err))
	}
	b.profile = p
	return b
}

// Profile returns a copy of the profile built so far.
func (b *PeripheralBuilder) Profile() profile.Profile {
	return b.profile
}

// Build creates the simulated device.
func (b *PeripheralBuilder) Build() *fake.Device {
	dev, err := profile.Build(b.profile, b.opts...)
	if err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.Build: %v", err))
	}
	return dev
}

// DeviceToJSON renders the object graph of a simulated device as JSON.
func DeviceToJSON(d *fake.Device) string {
	return MustJSON(profile.Describe(d))
}

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
