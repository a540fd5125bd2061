// go-sdspi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-sdspi.
//
// go-sdspi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-sdspi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-sdspi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	// Import all detectors to register them
	_ "github.com/ZaparooProject/go-sdspi/detection/bridge"
	_ "github.com/ZaparooProject/go-sdspi/detection/periph"
	_ "github.com/ZaparooProject/go-sdspi/detection/spidev"
	"github.com/ZaparooProject/go-sdspi/simcard"
	"github.com/ZaparooProject/go-sdspi/transport/bridge"
	"github.com/ZaparooProject/go-sdspi/transport/periph"
	"github.com/ZaparooProject/go-sdspi/transport/spidev"
	log "github.com/sirupsen/logrus"
)

var errNoChipSelect = errors.New("periph bus needs a chip select pin (--cs)")

// openBus opens the configured bus. Without a bus type the type is guessed
// from the device name, and without a device the first detected one is used.
func (a *app) openBus(ctx context.Context) (sdspi.Bus, error) {
	busType := a.cfg.bus
	if busType == "" {
		if a.cfg.device == "" {
			return a.detectBus(ctx)
		}
		busType = guessBusType(a.cfg.device)
	}

	switch sdspi.BusType(busType) {
	case sdspi.BusSimulated:
		return a.openSim()
	case sdspi.BusSpidev, sdspi.BusPeriph, sdspi.BusBridge:
		if a.cfg.device == "" {
			return nil, fmt.Errorf("%s bus needs a device (--device)", busType)
		}
		return a.newTransport(sdspi.BusType(busType), a.cfg.device)
	default:
		return nil, fmt.Errorf("unknown bus type %q", busType)
	}
}

func guessBusType(device string) string {
	lower := strings.ToLower(device)
	switch {
	case strings.Contains(lower, "spidev"):
		return string(sdspi.BusSpidev)
	case strings.HasPrefix(lower, "spi"):
		return string(sdspi.BusPeriph)
	default:
		return string(sdspi.BusBridge)
	}
}

func (a *app) newTransport(busType sdspi.BusType, device string) (sdspi.Bus, error) {
	switch busType {
	case sdspi.BusSpidev:
		bus, err := spidev.New(device)
		if err != nil {
			return nil, fmt.Errorf("failed to create spidev transport: %w", err)
		}
		return bus, nil
	case sdspi.BusPeriph:
		if a.cfg.cs == "" {
			return nil, errNoChipSelect
		}
		bus, err := periph.New(device, a.cfg.cs)
		if err != nil {
			return nil, fmt.Errorf("failed to create periph transport: %w", err)
		}
		return bus, nil
	case sdspi.BusBridge:
		bus, err := bridge.New(device)
		if err != nil {
			return nil, fmt.Errorf("failed to create bridge transport: %w", err)
		}
		return bus, nil
	default:
		return nil, fmt.Errorf("%w: %s", detection.ErrUnknownTransport, busType)
	}
}

func (a *app) detectBus(ctx context.Context) (sdspi.Bus, error) {
	log.Info("no device given, detecting")
	opts := detection.DefaultOptions()
	devices, err := detection.DetectAllContext(ctx, &opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect a bus: %w", err)
	}
	var lastErr error
	for _, device := range devices {
		log.WithFields(log.Fields{
			"transport":  device.Transport,
			"path":       device.Path,
			"confidence": device.Confidence,
		}).Info("trying detected device")
		bus, err := a.newTransport(sdspi.BusType(device.Transport), device.Path)
		if err == nil {
			return bus, nil
		}
		log.Warnf("cannot open %s: %v", device, err)
		lastErr = err
	}
	return nil, fmt.Errorf("no detected device could be opened: %w", lastErr)
}

func (a *app) openSim() (sdspi.Bus, error) {
	kind, err := simcard.ParseKind(a.cfg.kind)
	if err != nil {
		return nil, err
	}
	cfg := simcard.DefaultConfig()
	cfg.Kind = kind
	card, err := simcard.Open(a.fs, a.cfg.image, a.cfg.sectors, cfg)
	if err != nil {
		return nil, err
	}
	log.Debugf("simulated %s card on %s, %d sectors", kind, a.cfg.image, card.SectorCount())
	return card, nil
}

// newDevice wraps bus in a device configured from the settings. The bus is
// closed when that fails.
func (a *app) newDevice(bus sdspi.Bus) (*sdspi.Device, error) {
	opts := []sdspi.Option{sdspi.WithCRCCheck(a.cfg.crc)}
	if a.cfg.speed > 0 {
		opts = append(opts, sdspi.WithDataSpeed(a.cfg.speed))
	}
	dev, err := sdspi.New(bus, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return dev, nil
}

// openDevice opens the bus and brings the card up. Init is retried while
// the failure is transient.
func (a *app) openDevice(ctx context.Context) (*sdspi.Device, error) {
	bus, err := a.openBus(ctx)
	if err != nil {
		return nil, err
	}

	dev, err := a.newDevice(bus)
	if err != nil {
		return nil, err
	}

	err = sdspi.RetryWithConfig(ctx, sdspi.DefaultRetryConfig(), func() error {
		return dev.InitContext(ctx)
	})
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to initialize card: %w", err)
	}

	info := dev.Info()
	log.WithFields(log.Fields{
		"bus":     bus.Type(),
		"type":    info.Type,
		"sectors": info.SectorCount,
	}).Debug("card ready")
	return dev, nil
}

// cardSectors adapts a device to whole-sector access, verified when --verify is
// set. Calls run under ctx.
type cardSectors struct {
	ctx context.Context
	dev *sdspi.Device
	vd  *sdspi.ValidatedDevice
}

func (a *app) openSectors(ctx context.Context, dev *sdspi.Device) (*cardSectors, error) {
	s := &cardSectors{ctx: ctx, dev: dev}
	if a.cfg.verify {
		vd, err := sdspi.NewValidatedDevice(dev, sdspi.DefaultValidationConfig())
		if err != nil {
			return nil, err
		}
		s.vd = vd
	}
	return s, nil
}

func (s *cardSectors) ReadBlock(lba uint32, buf []byte) error {
	if s.vd != nil {
		return s.vd.ReadSectorVerified(s.ctx, lba, buf)
	}
	return s.dev.ReadBlockContext(s.ctx, lba, buf)
}

func (s *cardSectors) WriteBlock(lba uint32, buf []byte) error {
	if s.vd != nil {
		return s.vd.WriteSectorVerified(s.ctx, lba, buf)
	}
	return s.dev.WriteBlockContext(s.ctx, lba, buf)
}

var _ sdspi.SectorReadWriter = (*cardSectors)(nil)
