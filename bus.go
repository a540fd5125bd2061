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

package sdspi

// Bus is the byte-exchange primitive the protocol engine drives. It can be
// implemented by a periph.io SPI port, a Linux spidev node, a USB-serial SPI
// bridge, or a simulated card.
//
// A Bus is owned by exactly one Device. Implementations do not need to be
// safe for concurrent use.
type Bus interface {
	// TransferByte shifts out one byte and returns the byte shifted in on
	// the same clock edges
	TransferByte(out byte) (byte, error)

	// Select asserts (true) or releases (false) the card's chip-select line
	Select(selected bool) error

	// Close releases the bus
	Close() error

	// Type returns the bus type
	Type() BusType
}

// BulkBus is implemented by buses that can exchange a whole buffer in one
// transaction. w and r have the same length; r may be nil when the received
// bytes are not needed.
type BulkBus interface {
	Transfer(w, r []byte) error
}

// SpeedSetter is implemented by buses whose clock can be changed. Cards must
// be initialized at 100-400 kHz and can be clocked faster afterwards.
type SpeedSetter interface {
	SetSpeed(hz int64) error
}

// BusType represents the type of bus
type BusType string

const (
	// BusPeriph is an SPI port opened through periph.io
	BusPeriph BusType = "periph"
	// BusSpidev is a Linux spidev character device
	BusSpidev BusType = "spidev"
	// BusBridge is a USB-serial SPI bridge
	BusBridge BusType = "bridge"
	// BusSimulated is an in-process simulated card
	BusSimulated BusType = "sim"
	// BusMock represents a mock bus for testing
	BusMock BusType = "mock"
)

// InitClockHz is the clock rate used during card initialization
const InitClockHz = 400_000
