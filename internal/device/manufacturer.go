package device

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/blesim/internal/bledb"
)

// ManufacturerData is advertised manufacturer-specific data split into its
// company identifier and payload.
type ManufacturerData struct {
	CompanyID uint16
	Company   string // "" when the identifier is not in the SIG table
	Payload   []byte
}

func (m ManufacturerData) String() string {
	name := m.Company
	if name == "" {
		name = "unknown company"
	}
	return fmt.Sprintf("%s (0x%04x)", name, m.CompanyID)
}

// ParseManufacturerData splits raw manufacturer data. The company ID is the
// first 2 bytes, little-endian, following the BLE convention.
func ParseManufacturerData(raw []byte) (ManufacturerData, error) {
	if len(raw) < 2 {
		return ManufacturerData{}, fmt.Errorf("manufacturer data too short: %d bytes", len(raw))
	}

	id := binary.LittleEndian.Uint16(raw[0:2])
	return ManufacturerData{
		CompanyID: id,
		Company:   bledb.LookupCompany(id),
		Payload:   raw[2:],
	}, nil
}
