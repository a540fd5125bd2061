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

package detection

import (
	"context"
	"fmt"
	"strconv"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

// probeOptions keep a probe short when nothing answers
var probeOptions = []sdspi.Option{
	sdspi.WithResetAttempts(4),
	sdspi.WithOpCondAttempts(2000),
}

// ProbeCard runs the initialization sequence on bus and describes the card
// that answered. The bus is left open.
func ProbeCard(ctx context.Context, bus sdspi.Bus) (map[string]string, error) {
	device, err := sdspi.New(bus, probeOptions...)
	if err != nil {
		return nil, err
	}
	if err := device.InitContext(ctx); err != nil {
		return nil, fmt.Errorf("card probe failed: %w", err)
	}

	info := device.Info()
	metadata := map[string]string{
		"card_type": info.Type.String(),
		"sectors":   strconv.FormatUint(uint64(info.SectorCount), 10),
		"capacity":  strconv.FormatUint(info.CapacityBytes(), 10),
	}
	if cid, err := device.ReadCID(ctx); err == nil {
		metadata["manufacturer"] = fmt.Sprintf("0x%02X", cid.Manufacturer)
		metadata["product"] = cid.ProductName
		metadata["serial"] = fmt.Sprintf("%08X", cid.Serial)
	}
	return metadata, nil
}

// Probe upgrades a candidate according to opts.Mode. In Safe mode the bus is
// opened and closed; in Full mode a card must answer on it. It reports false
// when the candidate should be dropped.
func Probe(ctx context.Context, info *DeviceInfo, opts *Options, open func() (sdspi.Bus, error)) bool {
	if opts.Mode == Passive {
		return true
	}

	bus, err := open()
	if err != nil {
		return false
	}
	defer func() { _ = bus.Close() }()

	if opts.Mode != Full {
		return true
	}

	metadata, err := ProbeCard(ctx, bus)
	if err != nil {
		return true
	}
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		info.Metadata[k] = v
	}
	info.Confidence = High
	return true
}
