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

// Package periph detects SPI ports registered with periph.io
package periph

import (
	"context"
	"fmt"
	"strings"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const transportName = string(sdspi.BusPeriph)

// detector implements the Detector interface for periph.io SPI ports
type detector struct {
	initHost func() error
	ports    func() []*spireg.Ref
}

// New creates a new periph.io detector
func New() detection.Detector {
	return &detector{
		initHost: func() error {
			_, err := host.Init()
			return err
		},
		ports: spireg.All,
	}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return transportName
}

// Detect lists registered SPI ports. The card's chip-select pin is not known
// here, so Full mode only checks that the port opens.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if err := d.initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, ref := range d.ports() {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(ref.Name, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  transportName,
			Path:       ref.Name,
			Name:       "SPI port " + ref.Name,
			Confidence: detection.Low,
			Metadata: map[string]string{
				"number":      fmt.Sprint(ref.Number),
				"chip_select": "gpio",
			},
		}
		if len(ref.Aliases) > 0 {
			device.Metadata["aliases"] = strings.Join(ref.Aliases, ",")
		}

		if opts.Mode != detection.Passive {
			port, err := ref.Open()
			if err != nil {
				continue
			}
			_ = port.Close()
			device.Confidence = detection.Medium
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}
