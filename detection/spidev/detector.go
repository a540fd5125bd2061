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

// Package spidev detects Linux spidev device nodes
package spidev

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/ZaparooProject/go-sdspi/transport/spidev"
)

const transportName = string(sdspi.BusSpidev)

// detector implements the Detector interface for spidev nodes
type detector struct {
	open      func(path string) (sdspi.Bus, error)
	access    func(path string) bool
	glob      string
	supported bool
}

// New creates a new spidev detector
func New() detection.Detector {
	return &detector{
		glob:      "/dev/spidev*",
		supported: runtime.GOOS == "linux",
		access:    accessible,
		open: func(path string) (sdspi.Bus, error) {
			return spidev.New(path)
		},
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

// Detect lists spidev nodes, probing them as opts.Mode allows
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	if !d.supported {
		return nil, detection.ErrUnsupportedPlatform
	}

	matches, err := filepath.Glob(d.glob)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for spidev nodes: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, path := range matches {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		if detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}

		var bus, cs int
		if _, err := fmt.Sscanf(filepath.Base(path), "spidev%d.%d", &bus, &cs); err != nil {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  transportName,
			Path:       path,
			Name:       fmt.Sprintf("SPI bus %d chip-select %d", bus, cs),
			Confidence: detection.Medium,
			Metadata: map[string]string{
				"bus":         fmt.Sprint(bus),
				"chip_select": fmt.Sprint(cs),
			},
		}
		if !d.access(path) {
			device.Confidence = detection.Low
			device.Metadata["access"] = "denied"
		}
		if !detection.Probe(ctx, &device, opts, func() (sdspi.Bus, error) { return d.open(path) }) {
			continue
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}
