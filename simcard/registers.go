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

package simcard

import (
	"fmt"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// Fixed identification of every simulated card
var simulatedCID = [frame.RegisterSize - 1]byte{
	0x1D,     // manufacturer
	'Z', 'P', // OEM
	'S', 'I', 'M', 'S', 'D', // product name
	0x10,                   // revision 1.0
	0x12, 0x34, 0x56, 0x78, // serial number
	0x01, 0x9A, // manufactured October 2025
}

func (c *Card) buildRegisters() error {
	copy(c.cid[:], simulatedCID[:])
	c.cid[15] = frame.CRC7(c.cid[:15])<<1 | frame.StopBit

	var err error
	if c.cfg.Kind == KindSDHC {
		err = c.buildCSDv2()
	} else {
		err = c.buildCSDv1()
	}
	if err != nil {
		return err
	}
	c.csd[15] = frame.CRC7(c.csd[:15])<<1 | frame.StopBit
	return nil
}

// buildCSDv2 describes a high capacity card: (C_SIZE+1) * 512 KiB
func (c *Card) buildCSDv2() error {
	if c.sectors%1024 != 0 {
		return fmt.Errorf("high capacity image must hold a multiple of 1024 sectors, got %d", c.sectors)
	}
	size := c.sectors/1024 - 1
	c.csd = [frame.RegisterSize]byte{
		0x40, // CSD structure 1
		0x0E, // TAAC
		0x00, // NSAC
		0x32, // TRAN_SPEED 25 MHz
		0x5B, // CCC
		0x59, // CCC, READ_BL_LEN 9
		0x00,
		byte(size>>16) & 0x3F,
		byte(size >> 8),
		byte(size),
		0x7F, 0x80, 0x0A, 0x40, 0x00,
	}
	return nil
}

// buildCSDv1 describes a standard capacity card:
// (C_SIZE+1) * 2^(C_SIZE_MULT+2) blocks of 2^READ_BL_LEN bytes
func (c *Card) buildCSDv1() error {
	for mult := uint32(0); mult < 8; mult++ {
		unit := uint32(1) << (mult + 2)
		if c.sectors%unit != 0 || c.sectors/unit > 4096 {
			continue
		}
		size := c.sectors/unit - 1
		structure := byte(0x00)
		if c.cfg.Kind == KindMMC {
			structure = 0x90 // CSD structure 2, SPEC_VERS 4
		}
		c.csd = [frame.RegisterSize]byte{
			structure,
			0x26, // TAAC
			0x00, // NSAC
			0x32, // TRAN_SPEED 25 MHz
			0x5F, // CCC
			0x59, // CCC, READ_BL_LEN 9
			0x80 | byte(size>>10)&0x03,
			byte(size >> 2),
			byte(size&0x03)<<6 | 0x2D,
			0xB4 | byte(mult>>1),
			byte(mult&0x01)<<7 | 0x7F,
			0x80, 0x0A, 0x40, 0x00,
		}
		return nil
	}
	return fmt.Errorf("standard capacity image of %d sectors cannot be described by a CSD", c.sectors)
}
