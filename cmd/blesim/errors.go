package main

import (
	"errors"
	"fmt"

	"github.com/srg/blesim/internal/device"
)

// Command-level errors
var (
	// ErrNoDevices indicates the loaded fleet is empty.
	ErrNoDevices = errors.New("no simulated devices")
	// ErrDeviceNotFound indicates no device in the fleet matched the name or identifier given.
	ErrDeviceNotFound = errors.New("no simulated device matches")
)

// FormatUserError turns internal errors into one-line messages for the terminal.
func FormatUserError(err error) string {
	var (
		notFound    *device.NotFoundError
		invalidUUID *device.InvalidUUIDError
	)

	switch {
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &invalidUUID):
		return fmt.Sprintf("%q is not a valid UUID (use 16-bit like 180f or 128-bit like 6e400001-b5a3-f393-e0a9-e50e24dcca9e)", invalidUUID.Input)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, device.ErrNotConnected):
		return "device is not connected"
	default:
		return err.Error()
	}
}
