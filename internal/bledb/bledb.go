// Package bledb normalizes BLE UUID strings and resolves well-known
// Bluetooth SIG service and characteristic names.
package bledb

import (
	"strings"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID (xxxxxxxx-0000-1000-8000-00805f9b34fb)
// once dashes are removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips braces and a 0x prefix. For full 128-bit UUIDs in Bluetooth SIG base format
// (0000xxxx-0000-1000-8000-00805f9b34fb) the 16-bit short form (xxxx) is returned.
// Returns "" when the input is not a hex string of 16 or 128 bits.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return ""
		}
	}

	switch len(s) {
	case 4:
		return s
	case 32:
		if strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
			return s[4:8]
		}
		return s
	default:
		return ""
	}
}

// NormalizeUUIDs normalizes a slice of UUID strings, preserving order.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, 0, len(uuids))
	for _, u := range uuids {
		result = append(result, NormalizeUUID(u))
	}
	return result
}

// LookupService returns the SIG-assigned name for a service UUID, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the SIG-assigned name for a characteristic UUID, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupCompany returns the SIG-assigned company name for id, or "" if unknown.
func LookupCompany(id uint16) string {
	return companies[id]
}

// LookupAppearanceCode returns the name of a GAP appearance code, or "" if unknown.
func LookupAppearanceCode(code uint16) string {
	return appearances[code]
}
