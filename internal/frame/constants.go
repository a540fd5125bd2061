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

// Package frame provides command frame layout, tokens and checksums for the
// SPI-mode MMC/SD protocol
package frame

// Command frame layout
const (
	CommandLength = 6    // start+index, 4 argument bytes, crc+stop
	StartBits     = 0x40 // start bit 0, transmission bit 1
	IndexMask     = 0x3F
	StopBit       = 0x01
)

// Fill is clocked out whenever the host only wants to receive. Cards release
// the data-out line to all ones when they have nothing to say.
const Fill = 0xFF

// Data block tokens
const (
	TokenStartBlock = 0xFE // single block read/write start token

	// Data response token, sent by the card after a written block. Its
	// shape is xxx0sss1.
	DataResponseFrame    = 0x11
	DataResponseMarker   = 0x01
	DataResponseMask     = 0x1F
	DataResponseAccepted = 0x05
	DataResponseCRCError = 0x0B
	DataResponseWriteErr = 0x0D

	// Data error token, sent instead of a start token when a read fails.
	// The upper nibble is always zero.
	DataErrorMask       = 0xF0
	DataErrorGeneric    = 0x01
	DataErrorCC         = 0x02
	DataErrorECC        = 0x04
	DataErrorOutOfRange = 0x08
)

// Busy is clocked in while the card is programming a written block
const Busy = 0x00

// Block sizes
const (
	SectorSize   = 512
	CRC16Length  = 2
	RegisterSize = 16 // CSD and CID
)

// R1 response bits
const (
	R1Idle          = 0x01
	R1EraseReset    = 0x02
	R1IllegalCmd    = 0x04
	R1CommandCRC    = 0x08
	R1EraseSequence = 0x10
	R1AddressError  = 0x20
	R1ParameterErr  = 0x40
	R1StartBit      = 0x80 // always zero in a valid response

	// R1ErrorMask covers every bit that signals a failure
	R1ErrorMask = R1EraseReset | R1IllegalCmd | R1CommandCRC | R1EraseSequence | R1AddressError | R1ParameterErr
)

// IsDataErrorToken reports whether b is a data error token rather than a start
// token or a fill byte.
func IsDataErrorToken(b byte) bool {
	return b != 0 && b&DataErrorMask == 0
}
