package device

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/bledb"
)

// ParseUUID parses a 16-bit ("180F", "0x180F") or 128-bit (dashed or not, optionally
// braced) UUID string. Malformed input yields an *InvalidUUIDError matching ErrInvalidUUID.
func ParseUUID(s string) (ble.UUID, error) {
	cleaned := strings.Trim(strings.TrimSpace(s), "{}")
	if len(cleaned) > 2 && (cleaned[:2] == "0x" || cleaned[:2] == "0X") {
		cleaned = cleaned[2:]
	}
	if cleaned == "" {
		return nil, &InvalidUUIDError{Input: s}
	}

	u, err := ble.Parse(cleaned)
	if err != nil {
		return nil, &InvalidUUIDError{Input: s, Err: err}
	}
	return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input. Intended for fixtures.
func MustParseUUID(s string) ble.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// NormalizeUUID is re-exported from bledb for convenience.
// It converts a UUID string to the internal format (lowercase, no dashes).
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// NormalizeUUIDs is re-exported from bledb for convenience.
func NormalizeUUIDs(uuids []string) []string {
	return bledb.NormalizeUUIDs(uuids)
}

// UUIDKey returns the normalized string form of u, suitable as a map key.
func UUIDKey(u ble.UUID) string {
	if len(u) == 0 {
		return ""
	}
	return bledb.NormalizeUUID(u.String())
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// SameUUID reports whether a and b name the same attribute. A 16-bit UUID and
// its 128-bit form on the Bluetooth base UUID compare equal.
func SameUUID(a, b ble.UUID) bool {
	return len(a) != 0 && UUIDKey(a) == UUIDKey(b)
}

// MatchesFilter reports whether u is selected by filter. An empty filter selects everything.
func MatchesFilter(filter []ble.UUID, u ble.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if SameUUID(f, u) {
			return true
		}
	}
	return false
}

// ServiceName returns the SIG-assigned name of a service UUID, or "" if unknown.
func ServiceName(u ble.UUID) string {
	return bledb.LookupService(UUIDKey(u))
}

// CharacteristicName returns the SIG-assigned name of a characteristic UUID, or "" if unknown.
func CharacteristicName(u ble.UUID) string {
	return bledb.LookupCharacteristic(UUIDKey(u))
}
