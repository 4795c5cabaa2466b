package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
)

// DefaultConnectTimeout bounds Dial when the caller's context carries no deadline.
const DefaultConnectTimeout = 30 * time.Second

// Client is the subset of ble.Client the backend drives. Any ble.Client satisfies it.
type Client interface {
	Addr() ble.Addr
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ReadRSSI() int
	CancelConnection() error
}

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
// The default is selected per platform; unsupported platforms return device.ErrUnsupported.
var DeviceFactory = newPlatformDevice

// Dial opens a connection to the peripheral at address and returns it in the
// connected state. The returned peripheral redials the same address on Connect
// after a Disconnect.
func Dial(ctx context.Context, address string, logger *logrus.Logger) (*Peripheral, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	p := NewPeripheral(nil, logger)
	p.address = address
	p.dialer = func(ctx context.Context) (Client, error) {
		return dialAddress(ctx, address, logger)
	}
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAddress(ctx context.Context, address string, logger *logrus.Logger) (Client, error) {
	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}
	return client, nil
}
