package device

import (
	"fmt"
	"strings"
)

// PeripheralState is the connection state of a peripheral.
// Values follow the platform enumeration order.
type PeripheralState int

const (
	StateDisconnected PeripheralState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s PeripheralState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("PeripheralState(%d)", int(s))
	}
}

// ParsePeripheralState parses the String form of a state, case-insensitively.
func ParsePeripheralState(s string) (PeripheralState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnected":
		return StateDisconnected, nil
	case "connecting":
		return StateConnecting, nil
	case "connected":
		return StateConnected, nil
	case "disconnecting":
		return StateDisconnecting, nil
	default:
		return StateDisconnected, fmt.Errorf("unknown peripheral state %q", s)
	}
}
