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

package testing

import "github.com/ZaparooProject/go-sdspi/internal/frame"

// PatternSector returns a sector whose contents depend on lba, so a sector
// written to the wrong address is detected
func PatternSector(lba uint32) []byte {
	buf := make([]byte, frame.SectorSize)
	seed := byte(lba) ^ byte(lba>>8) ^ byte(lba>>16) ^ byte(lba>>24)
	for i := range buf {
		buf[i] = byte(i) ^ seed ^ byte(i>>8)*0x5B
	}
	buf[0] = byte(lba >> 24)
	buf[1] = byte(lba >> 16)
	buf[2] = byte(lba >> 8)
	buf[3] = byte(lba)
	return buf
}

// FilledSector returns a sector with every byte set to value
func FilledSector(value byte) []byte {
	buf := make([]byte, frame.SectorSize)
	for i := range buf {
		buf[i] = value
	}
	return buf
}

// Register fixtures laid out like those of real cards
var (
	// CSDv2SDHC describes a 7.4 GiB high capacity card (C_SIZE 15159)
	CSDv2SDHC = []byte{
		0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00, 0x00,
		0x3B, 0x37, 0x7F, 0x80, 0x0A, 0x40, 0x00, 0x67,
	}

	// CSDv1SD describes a 1 GB standard capacity card
	// (C_SIZE 3837, C_SIZE_MULT 7, READ_BL_LEN 9)
	CSDv1SD = []byte{
		0x00, 0x26, 0x00, 0x32, 0x5F, 0x59, 0x83, 0xBF,
		0x7F, 0x6F, 0xB7, 0xFF, 0x92, 0x40, 0x00, 0xB5,
	}

	// CIDSandisk is the CID of a SanDisk "SU08G" card made in July 2012
	CIDSandisk = []byte{
		0x03, 0x53, 0x44, 0x53, 0x55, 0x30, 0x38, 0x47,
		0x80, 0x1A, 0x2B, 0x3C, 0x4D, 0x00, 0xC7, 0xD7,
	}
)
