package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesim/internal/device"
	"github.com/srg/blesim/internal/device/fake"
	"github.com/srg/blesim/internal/profile"
	"github.com/srg/blesim/pkg/config"
)

// loadProfiles returns the profiles at cfg.ProfilePath, or the built-in fleet.
func loadProfiles(cfg *config.Config) ([]profile.Profile, error) {
	if cfg.ProfilePath == "" {
		return profile.Builtin(), nil
	}
	profiles, err := profile.LoadFile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDevices, cfg.ProfilePath)
	}
	return profiles, nil
}

// newCentral builds every profile and registers it with a simulated central.
// Each device gets its own jitter seed derived from cfg.RandSeed.
func newCentral(cfg *config.Config, profiles []profile.Profile, logger *logrus.Logger) (*fake.Central, error) {
	central := fake.NewCentral(logger)
	for i, p := range profiles {
		opts := []fake.Option{fake.WithLogger(logger)}
		if cfg.RandSeed != 0 {
			opts = append(opts, fake.WithRandSeed(cfg.RandSeed+int64(i)))
		}

		dev, err := profile.Build(p, opts...)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", profileLabel(p, i), err)
		}
		if err := central.Add(dev); err != nil {
			return nil, fmt.Errorf("profile %q: %w", profileLabel(p, i), err)
		}
	}
	return central, nil
}

// selectDevice finds a device by name (case-insensitive) or identifier.
// An empty query selects the first device in identifier order.
func selectDevice(central *fake.Central, query string) (*fake.Device, error) {
	devices := central.Devices()
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	if query == "" {
		return devices[0], nil
	}

	key := device.NormalizeUUID(query)
	for _, d := range devices {
		if strings.EqualFold(d.Name(), query) {
			return d, nil
		}
		if key != "" && device.UUIDKey(d.Identifier()) == key {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrDeviceNotFound, query)
}

func profileLabel(p profile.Profile, index int) string {
	if p.Name != "" {
		return p.Name
	}
	if p.ID != "" {
		return p.ID
	}
	return fmt.Sprintf("#%d", index)
}

// deviceLabel is the name of d, or its identifier when unnamed.
func deviceLabel(d *fake.Device) string {
	if d.Name() != "" {
		return d.Name()
	}
	return device.UUIDKey(d.Identifier())
}
