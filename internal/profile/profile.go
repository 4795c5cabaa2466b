// Package profile describes simulated peripherals as YAML or JSON documents
// and converts between those documents and live device object graphs.
package profile

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blesim"
	"gopkg.in/yaml.v3"
)

// HexBytes is a byte slice written as a hex string in documents.
// Spaces, colons, dashes and a 0x prefix are ignored when parsing.
type HexBytes []byte

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// IsZero reports whether h is nil. An empty, non-nil value is not zero, so it
// survives an encode and parse round trip as "".
func (h HexBytes) IsZero() bool {
	return h == nil
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex value must be a string: %w", err)
	}
	return h.parse(s)
}

func (h HexBytes) MarshalYAML() (interface{}, error) {
	return h.String(), nil
}

func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("hex value must be a string: %w", err)
	}
	return h.parse(s)
}

func (h *HexBytes) parse(s string) error {
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// ParseHex decodes a loosely formatted hex string. An empty string yields an empty, non-nil slice.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// CharacteristicConfig describes one characteristic.
type CharacteristicConfig struct {
	UUID       string   `json:"uuid" yaml:"uuid"`
	Name       string   `json:"name,omitempty" yaml:"name,omitempty"`
	Properties string   `json:"properties,omitempty" yaml:"properties,omitempty"` // e.g., "read,write,notify"
	Value      HexBytes `json:"value,omitzero" yaml:"value,omitempty"`
	Notifying  bool     `json:"notifying,omitempty" yaml:"notifying,omitempty"`
}

// ServiceConfig describes one service and its characteristics in order.
type ServiceConfig struct {
	UUID            string                 `json:"uuid" yaml:"uuid"`
	Name            string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
}

// Profile describes a simulated peripheral.
type Profile struct {
	// ID is the peripheral identifier. Empty means a random one is assigned on Build.
	ID               string          `json:"id,omitempty" yaml:"id,omitempty"`
	Name             string          `json:"name,omitempty" yaml:"name,omitempty"`
	RSSI             int             `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	State            string          `json:"state,omitempty" yaml:"state,omitempty"`
	ManufacturerData HexBytes        `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
	Services         []ServiceConfig `json:"services" yaml:"services"`
}

// Fleet is a document holding several profiles.
type Fleet struct {
	Devices []Profile `json:"devices" yaml:"devices"`
}

// Format selects the document encoding.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// FormatFor picks the format from a file extension; anything but .json is YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a document holding either a single profile or a fleet.
func Parse(data []byte, format Format) ([]Profile, error) {
	unmarshal := yaml.Unmarshal
	if format == FormatJSON {
		unmarshal = json.Unmarshal
	}

	var fleet Fleet
	if err := unmarshal(data, &fleet); err == nil && len(fleet.Devices) > 0 {
		return fleet.Devices, nil
	}

	var p Profile
	if err := unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return []Profile{p}, nil
}

// LoadFile reads the profiles stored at path.
func LoadFile(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %q: %w", path, err)
	}
	profiles, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return profiles, nil
}

// Encode writes profiles in the given format. A single profile is written on its own.
func Encode(profiles []Profile, format Format) ([]byte, error) {
	var doc interface{} = Fleet{Devices: profiles}
	if len(profiles) == 1 {
		doc = profiles[0]
	}
	if format == FormatJSON {
		return json.MarshalIndent(doc, "", "  ")
	}
	return yaml.Marshal(doc)
}

// ----------------------------
// Properties
// ----------------------------

var propertyNames = []struct {
	name string
	prop ble.Property
}{
	{"broadcast", ble.CharBroadcast},
	{"read", ble.CharRead},
	{"write-without-response", ble.CharWriteNR},
	{"write", ble.CharWrite},
	{"notify", ble.CharNotify},
	{"indicate", ble.CharIndicate},
	{"signed-write", ble.CharSignedWrite},
	{"extended", ble.CharExtended},
}

// ParseProperties converts a comma separated property list to flags.
// An empty list yields 0, which the simulator treats as "everything allowed".
func ParseProperties(s string) (ble.Property, error) {
	var props ble.Property
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if part == "writenr" || part == "write_nr" {
			part = "write-without-response"
		}

		found := false
		for _, pn := range propertyNames {
			if pn.name == part {
				props |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return props, nil
}

// FormatProperties is the inverse of ParseProperties.
func FormatProperties(props ble.Property) string {
	var names []string
	for _, pn := range propertyNames {
		if props&pn.prop != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// Builtin returns the embedded default fleet.
func Builtin() []Profile {
	profiles, err := Parse([]byte(blesim.DefaultFleetProfile), FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded fleet profile is invalid: %v", err))
	}
	return profiles
}
