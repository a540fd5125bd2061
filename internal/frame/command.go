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

// Command is a single 6-byte command frame as it appears on the wire
type Command [CommandLength]byte

// BuildCommand lays out a command frame for index and argument. The CRC7 is
// always computed, so the frame is valid whether or not the card checks it.
func BuildCommand(index byte, arg uint32) Command {
	var cmd Command
	cmd[0] = StartBits | (index & IndexMask)
	binary.BigEndian.PutUint32(cmd[1:5], arg)
	cmd[5] = CRC7(cmd[:5])<<1 | StopBit
	return cmd
}

// Index returns the command index carried by the frame
func (c Command) Index() byte {
	return c[0] & IndexMask
}

// Argument returns the 32-bit argument carried by the frame
func (c Command) Argument() uint32 {
	return binary.BigEndian.Uint32(c[1:5])
}

// Valid checks the framing bits and CRC7 of a received frame
func (c Command) Valid() bool {
	if c[0]&0xC0 != StartBits || c[5]&StopBit == 0 {
		return false
	}
	return CRC7(c[:5]) == c[5]>>1
}

// IsR1 reports whether b can be an R1 response byte (start bit clear)
func IsR1(b byte) bool {
	return b&R1StartBit == 0
}
