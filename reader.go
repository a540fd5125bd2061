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

import (
	"context"
	"errors"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
	"github.com/ZaparooProject/go-sdspi/internal/poll"
)

// ReadSector reads one sector addressed by its two 16-bit halves into buf,
// which must be exactly SectorSize bytes
func (d *Device) ReadSector(high, low uint16, buf []byte) error {
	return d.ReadBlockContext(context.Background(), SectorAddress(high, low), buf)
}

// ReadSectorContext reads one sector with context support
func (d *Device) ReadSectorContext(ctx context.Context, high, low uint16, buf []byte) error {
	return d.ReadBlockContext(ctx, SectorAddress(high, low), buf)
}

// ReadBlock reads the sector with index lba into buf
func (d *Device) ReadBlock(lba uint32, buf []byte) error {
	return d.ReadBlockContext(context.Background(), lba, buf)
}

// ReadBlockContext reads the sector with index lba into buf. The context is
// only consulted before the command is sent; once the card has been
// addressed the transfer always runs to a terminal outcome.
//
// If the card rejects the command or answers with a data error token the
// buffer is left untouched. On ErrCRCMismatch the buffer holds the received
// payload, which must be treated as undefined.
func (d *Device) ReadBlockContext(ctx context.Context, lba uint32, buf []byte) (err error) {
	if err := d.checkTransfer(ctx, buf); err != nil {
		return err
	}
	arg, err := d.blockArgument(lba)
	if err != nil {
		return err
	}

	if err := d.selectCard(); err != nil {
		return err
	}
	defer d.release(&err)

	const op = "read sector"
	r1, err := d.sendCommand(op, cmdReadSingleBlock, arg)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return newRejectedError(op, cmdReadSingleBlock, r1)
	}

	return d.receiveBlock(op, buf)
}

// receiveBlock waits for the data start token and receives len(buf) bytes
// plus the CRC16 trailer. Nothing is written to buf unless the start token
// arrives. The trailer is always read, so the bus stays byte aligned even
// when the checksum does not match.
func (d *Device) receiveBlock(op string, buf []byte) error {
	res, err := poll.Byte(d.config.ReadTokenAttempts, d.fill, func(b byte) bool {
		return b == frame.TokenStartBlock || frame.IsDataErrorToken(b)
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &PollError{
			Op:       op,
			Phase:    "waiting for start token",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrDataTimeout,
		}
	}
	if err != nil {
		return err
	}
	if res.Value != frame.TokenStartBlock {
		debugf("%s: data error token 0x%02X", op, res.Value)
		return &TokenError{Op: op, Token: res.Value, Class: ErrCommandRejected}
	}
	debugf("%s: start token after %d attempts", op, res.Attempts)

	if err := d.recv(buf); err != nil {
		return err
	}
	var trailer [frame.CRC16Length]byte
	if err := d.recv(trailer[:]); err != nil {
		return err
	}

	if !frame.ValidateCRC16(buf, trailer[:]) {
		return &CRCError{
			Op:       op,
			Expected: frame.CRC16(buf),
			Received: uint16(trailer[0])<<8 | uint16(trailer[1]),
		}
	}
	return nil
}
