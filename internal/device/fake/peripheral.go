package fake

import (
	"github.com/go-ble/ble"
	"github.com/srg/blesim/internal/device"
)

// Peripheral is a settable peripheral identity and connection state.
// It does not own services; those come from a device.Discoverer.
type Peripheral struct {
	identifier ble.UUID
	state      device.PeripheralState
}

// NewPeripheral creates a disconnected peripheral with the identifier parsed from uuid.
func NewPeripheral(uuid string) (*Peripheral, error) {
	u, err := device.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}
	return &Peripheral{identifier: u, state: device.StateDisconnected}, nil
}

// MustPeripheral is like NewPeripheral but panics on a malformed UUID.
func MustPeripheral(uuid string) *Peripheral {
	p, err := NewPeripheral(uuid)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Peripheral) Identifier() ble.UUID {
	return p.identifier
}

func (p *Peripheral) State() device.PeripheralState {
	return p.state
}

func (p *Peripheral) SetIdentifier(u ble.UUID) {
	p.identifier = u
}

// SetState assigns any state. Transitions are not validated.
func (p *Peripheral) SetState(state device.PeripheralState) {
	p.state = state
}
