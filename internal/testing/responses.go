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

// Package testing provides response builders and sector fixtures shared by
// the driver tests
package testing

import "github.com/ZaparooProject/go-sdspi/internal/frame"

// BuildR7 builds the R1 and R7 trailer a version 2 card sends for CMD8
func BuildR7(r1 byte, arg uint32) []byte {
	return []byte{r1, 0x00, 0x00, byte(arg>>8) & 0x0F, byte(arg)}
}

// BuildR3 builds the R1 and OCR a card sends for CMD58
func BuildR3(r1 byte, ocr uint32) []byte {
	return []byte{r1, byte(ocr >> 24), byte(ocr >> 16), byte(ocr >> 8), byte(ocr)}
}

// BuildDataBlock builds a start token, the payload and its CRC16 trailer,
// preceded by delay fill bytes
func BuildDataBlock(delay int, data []byte) []byte {
	block := make([]byte, 0, delay+1+len(data)+frame.CRC16Length)
	for i := 0; i < delay; i++ {
		block = append(block, frame.Fill)
	}
	block = append(block, frame.TokenStartBlock)
	block = append(block, data...)
	return frame.AppendCRC16(block, data)
}

// BuildReadReply builds the full answer to a read command: R1 zero followed
// by a data block
func BuildReadReply(data []byte) []byte {
	return append([]byte{0x00}, BuildDataBlock(2, data)...)
}
