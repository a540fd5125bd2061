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

package frame

import "encoding/binary"

const (
	crc7Polynomial  = 0x09   // x^7 + x^3 + 1
	crc16Polynomial = 0x1021 // x^16 + x^12 + x^5 + 1
)

var crc16Table = makeCRC16Table()

func makeCRC16Table() *[256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return &table
}

// CRC7 computes the 7-bit command checksum over data. The result occupies
// the low seven bits.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if (b<<bit)&0x80 != (crc & 0x80) {
				crc ^= crc7Polynomial
			}
			crc &= 0x7F
		}
	}
	return crc
}

// CRC16 computes the data block checksum (CRC-16/XMODEM: polynomial 0x1021,
// initial value zero, no reflection, no final XOR)
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// AppendCRC16 appends the big-endian block checksum of data to dst
func AppendCRC16(dst, data []byte) []byte {
	return binary.BigEndian.AppendUint16(dst, CRC16(data))
}

// ValidateCRC16 reports whether trailer holds the big-endian checksum of data
func ValidateCRC16(data, trailer []byte) bool {
	if len(trailer) != CRC16Length {
		return false
	}
	return binary.BigEndian.Uint16(trailer) == CRC16(data)
}
