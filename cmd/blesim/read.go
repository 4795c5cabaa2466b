package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesim/internal/device"
	goble "github.com/srg/blesim/internal/device/go-ble"
	"github.com/srg/blesim/internal/session"
)

type readOptions struct {
	device  string
	address string
}

func newReadCmd() *cobra.Command {
	var opts readOptions

	cmd := &cobra.Command{
		Use:   "read <service-uuid> <characteristic-uuid>",
		Short: "Read a characteristic value",
		Long: `Reads one characteristic and prints its value as hex.

By default the value is read from a simulated device (--device selects it by
name or identifier). With --address the value is read from real hardware
through the platform Bluetooth stack instead.`,
		Example: `  blesim read 180f 2a19 --device HRM-Sim
  blesim read 180a 2a29 --address AA:BB:CC:DD:EE:FF`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Simulated device name or identifier (default: first device)")
	cmd.Flags().StringVarP(&opts.address, "address", "a", "", "Read from real hardware at this address")
	return cmd
}

func runRead(cmd *cobra.Command, serviceArg, charArg string, opts readOptions) error {
	svcUUID, err := device.ParseUUID(serviceArg)
	if err != nil {
		return err
	}
	charUUID, err := device.ParseUUID(charArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.DeviceTimeout)
	defer cancel()

	var dev device.Device
	if opts.address != "" {
		p, err := goble.Dial(ctx, opts.address, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", opts.address, err)
		}
		dev = p
	} else {
		profiles, err := loadProfiles(cfg)
		if err != nil {
			return err
		}
		central, err := newCentral(cfg, profiles, logger)
		if err != nil {
			return err
		}
		d, err := selectDevice(central, opts.device)
		if err != nil {
			return err
		}
		if _, err := central.Connect(ctx, d.Identifier()); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", deviceLabel(d), err)
		}
		dev = d
	}
	defer func() {
		if err := dev.Disconnect(); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	return readValue(ctx, session.New(dev, session.WithLogger(logger)), svcUUID, charUUID, cmd.OutOrStdout(), logger)
}

// readValue resolves the characteristic through s and prints the value via a registered handler.
func readValue(ctx context.Context, s *session.Session, svcUUID, charUUID ble.UUID, out io.Writer, logger *logrus.Logger) error {
	s.Register(&valuePrinter{uuid: svcUUID, out: out, logger: logger})

	svcs, err := s.DiscoverServices(ctx, []ble.UUID{svcUUID})
	if err != nil {
		return err
	}
	if len(svcs) == 0 {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{device.UUIDKey(svcUUID)}}
	}

	chars, err := s.DiscoverCharacteristics(ctx, []ble.UUID{charUUID}, svcs[0])
	if err != nil {
		return err
	}
	if len(chars) == 0 {
		return &device.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{device.UUIDKey(svcUUID), device.UUIDKey(charUUID)},
		}
	}

	_, err = s.Read(ctx, chars[0])
	return err
}

// valuePrinter prints every value delivered for one service.
type valuePrinter struct {
	uuid   ble.UUID
	out    io.Writer
	logger *logrus.Logger
}

func (p *valuePrinter) UUID() ble.UUID {
	return p.uuid
}

func (p *valuePrinter) HandleServiceDiscovered(_ *session.Session, svc device.Service) {
	p.logger.WithField("service", device.UUIDKey(svc.UUID())).Debug("Service discovered")
}

func (p *valuePrinter) HandleCharacteristicsDiscovered(_ *session.Session, svc device.Service, chars []device.Characteristic) {
	p.logger.WithFields(logrus.Fields{
		"service": device.UUIDKey(svc.UUID()),
		"count":   len(chars),
	}).Debug("Characteristics discovered")
}

func (p *valuePrinter) HandleNotifyState(_ *session.Session, _ device.Characteristic) {}

func (p *valuePrinter) HandleData(_ *session.Session, c device.Characteristic, data []byte) {
	fmt.Fprintf(p.out, "%s%s: %x\n", device.UUIDKey(c.UUID()), label(device.CharacteristicName(c.UUID())), data)
}
