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

/*
Package sdspi provides a pure Go driver for SD and MMC cards attached over SPI.

The card is driven in SPI mode through a small Bus interface that exchanges
one byte at a time and controls chip-select. The driver implements the
power-up handshake, the command and response framing, and single-block data
transfers with their CRC and token rules. Every wait is a bounded polling loop
counted in bus bytes, so a missing or broken card always produces an error and
never hangs the caller.

Features:
  - SDHC/SDXC, SD v2 and v1 standard capacity, and MMC cards
  - 512-byte sector read and write with CRC16 validation
  - CSD and CID register decoding
  - Bus backends for periph.io, Linux spidev, and Bus Pirate USB bridges
  - A simulated card with fault injection for tests
  - Caller-side verification and retry helpers

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-sdspi"
	    "github.com/ZaparooProject/go-sdspi/transport/spidev"
	)

	bus, err := spidev.New("/dev/spidev0.0")
	if err != nil {
	    log.Fatal(err)
	}

	device, err := sdspi.New(bus, sdspi.WithDataSpeed(8_000_000))
	if err != nil {
	    log.Fatal(err)
	}
	defer device.Close()

	if err := device.Init(); err != nil {
	    log.Fatal(err)
	}

	buf := make([]byte, sdspi.SectorSize)
	if err := device.ReadSector(0, 0, buf); err != nil {
	    log.Fatal(err)
	}

Addressing:

ReadSector and WriteSector take the sector index as two 16-bit halves. The
driver converts the index to a byte offset for standard capacity cards and
passes it unchanged to block addressed cards. ReadBlock and WriteBlock take
the index as a single uint32.

Error Handling:

Operations return sentinel errors wrapped with context, and structured errors
that carry the raw response byte:

	var cmdErr *sdspi.CommandError
	if errors.As(err, &cmdErr) {
	    fmt.Println(sdspi.R1Flags(cmdErr.R1))
	}
	if errors.Is(err, sdspi.ErrDataTimeout) {
	    // card never sent the start token
	}

The driver does not retry. Wrap a Device in a ValidatedDevice, or use
RetryWithConfig, to retry transient failures.

Thread Safety:

Device operations are not thread-safe. If you need concurrent access,
implement appropriate synchronization in your application.
*/
package sdspi
