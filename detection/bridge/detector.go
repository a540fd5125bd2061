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

// Package bridge detects USB-serial SPI bridges
package bridge

import (
	"context"
	"fmt"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/ZaparooProject/go-sdspi/transport/bridge"
	"go.bug.st/serial/enumerator"
)

const transportName = string(sdspi.BusBridge)

// knownBridges maps USB VID:PID pairs to adapters that speak the Bus Pirate
// binary protocol
var knownBridges = map[string]string{
	"0403:6001": "Bus Pirate v3",
	"04D8:FB00": "Bus Pirate v4",
	"1209:7331": "Bus Pirate 5",
}

// detector implements the Detector interface for serial SPI bridges
type detector struct {
	list func() ([]*enumerator.PortDetails, error)
	open func(path string) (sdspi.Bus, error)
}

// New creates a new bridge detector
func New() detection.Detector {
	return &detector{
		list: enumerator.GetDetailedPortsList,
		open: func(path string) (sdspi.Bus, error) {
			return bridge.New(path)
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

// Detect lists USB serial ports that may be SPI bridges. Outside passive
// mode each one must complete the bridge handshake to be reported.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, device := range candidates(ports, opts) {
		select {
		case <-ctx.Done():
			return devices, detection.ErrDetectionTimeout
		default:
		}

		path := device.Path
		if !detection.Probe(ctx, &device, opts, func() (sdspi.Bus, error) { return d.open(path) }) {
			continue
		}
		if opts.Mode != detection.Passive && device.Confidence < detection.Medium {
			device.Confidence = detection.Medium
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// candidates filters the port list down to USB ports that are neither
// blocked nor ignored
func candidates(ports []*enumerator.PortDetails, opts *detection.Options) []detection.DeviceInfo {
	devices := make([]detection.DeviceInfo, 0, len(ports))
	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}
		vidpid := detection.ParseVIDPID(port.VID + ":" + port.PID)
		if detection.IsBlocked(vidpid, opts.Blocklist) || detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  transportName,
			Path:       port.Name,
			Name:       "USB serial port " + port.Name,
			Confidence: detection.Low,
			Metadata: map[string]string{
				"vidpid": vidpid,
			},
		}
		if port.SerialNumber != "" {
			device.Metadata["serial"] = port.SerialNumber
		}
		if port.Product != "" {
			device.Metadata["product"] = port.Product
		}
		if name, ok := knownBridges[vidpid]; ok {
			device.Name = name
			device.Confidence = detection.Medium
		}
		devices = append(devices, device)
	}
	return devices
}
