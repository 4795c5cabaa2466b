package device

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/bledb"
)

// Well-known GATT characteristic UUIDs (16-bit short form, normalized without dashes)
const (
	CharacteristicDeviceName         = "2a00"
	CharacteristicAppearance         = "2a01"
	CharacteristicBatteryLevel       = "2a19"
	CharacteristicManufacturerName   = "2a29"
	CharacteristicHeartRate          = "2a37"
	CharacteristicBodySensorLocation = "2a38"
	CharacteristicTemperature        = "2a6e"
	CharacteristicHumidity           = "2a6f"
)

// ValueParser renders a characteristic value in human-readable form.
type ValueParser func([]byte) (string, error)

// valueParsers maps normalized characteristic UUIDs to their parser functions
var valueParsers = map[string]ValueParser{
	CharacteristicDeviceName:         parseString,
	CharacteristicAppearance:         parseAppearance,
	CharacteristicBatteryLevel:       parseBatteryLevel,
	"2a24":                           parseString, // model number
	"2a25":                           parseString, // serial number
	"2a26":                           parseString, // firmware revision
	"2a27":                           parseString, // hardware revision
	CharacteristicManufacturerName:   parseString,
	CharacteristicHeartRate:          parseHeartRate,
	CharacteristicBodySensorLocation: parseBodySensorLocation,
	CharacteristicTemperature:        parseTemperature,
	CharacteristicHumidity:           parseHumidity,
}

// IsParsableCharacteristic reports whether DecodeValue knows the format of u.
func IsParsableCharacteristic(u ble.UUID) bool {
	_, exists := valueParsers[UUIDKey(u)]
	return exists
}

// DecodeValue renders value according to the SIG format of characteristic u.
// Returns "" without error for unknown characteristics and empty values.
func DecodeValue(u ble.UUID, value []byte) (string, error) {
	parser, exists := valueParsers[UUIDKey(u)]
	if !exists || len(value) == 0 {
		return "", nil
	}
	return parser(value)
}

func parseString(value []byte) (string, error) {
	if !utf8.Valid(value) {
		return "", fmt.Errorf("value is not valid UTF-8")
	}
	return fmt.Sprintf("%q", strings.TrimRight(string(value), "\x00")), nil
}

func parseAppearance(value []byte) (string, error) {
	if len(value) != 2 {
		return "", fmt.Errorf("appearance value must be 2 bytes, got %d", len(value))
	}

	code := binary.LittleEndian.Uint16(value)
	if name := bledb.LookupAppearanceCode(code); name != "" {
		return name, nil
	}
	return fmt.Sprintf("appearance 0x%04x", code), nil
}

func parseBatteryLevel(value []byte) (string, error) {
	if len(value) != 1 {
		return "", fmt.Errorf("battery level must be 1 byte, got %d", len(value))
	}
	if value[0] > 100 {
		return "", fmt.Errorf("battery level %d out of range", value[0])
	}
	return fmt.Sprintf("%d%%", value[0]), nil
}

// parseHeartRate decodes the flags byte and the 8 or 16 bit measurement that follows it.
func parseHeartRate(value []byte) (string, error) {
	if len(value) < 2 {
		return "", fmt.Errorf("heart rate measurement too short: %d bytes", len(value))
	}

	flags := value[0]
	if flags&0x01 == 0 {
		return fmt.Sprintf("%d bpm", value[1]), nil
	}
	if len(value) < 3 {
		return "", fmt.Errorf("16-bit heart rate measurement too short: %d bytes", len(value))
	}
	return fmt.Sprintf("%d bpm", binary.LittleEndian.Uint16(value[1:3])), nil
}

var bodySensorLocations = []string{"Other", "Chest", "Wrist", "Finger", "Hand", "Ear Lobe", "Foot"}

func parseBodySensorLocation(value []byte) (string, error) {
	if len(value) != 1 {
		return "", fmt.Errorf("body sensor location must be 1 byte, got %d", len(value))
	}
	if int(value[0]) >= len(bodySensorLocations) {
		return fmt.Sprintf("location 0x%02x", value[0]), nil
	}
	return bodySensorLocations[value[0]], nil
}

// parseTemperature decodes a signed 16-bit value in units of 0.01 degrees Celsius.
func parseTemperature(value []byte) (string, error) {
	if len(value) != 2 {
		return "", fmt.Errorf("temperature must be 2 bytes, got %d", len(value))
	}
	raw := int16(binary.LittleEndian.Uint16(value))
	return fmt.Sprintf("%.2f °C", float64(raw)/100), nil
}

// parseHumidity decodes an unsigned 16-bit value in units of 0.01 percent.
func parseHumidity(value []byte) (string, error) {
	if len(value) != 2 {
		return "", fmt.Errorf("humidity must be 2 bytes, got %d", len(value))
	}
	return fmt.Sprintf("%.2f%%", float64(binary.LittleEndian.Uint16(value))/100), nil
}
