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

// WriteSector writes buf, which must be exactly SectorSize bytes, to the
// sector addressed by its two 16-bit halves
func (d *Device) WriteSector(high, low uint16, buf []byte) error {
	return d.WriteBlockContext(context.Background(), SectorAddress(high, low), buf)
}

// WriteSectorContext writes one sector with context support
func (d *Device) WriteSectorContext(ctx context.Context, high, low uint16, buf []byte) error {
	return d.WriteBlockContext(ctx, SectorAddress(high, low), buf)
}

// WriteBlock writes buf to the sector with index lba
func (d *Device) WriteBlock(lba uint32, buf []byte) error {
	return d.WriteBlockContext(context.Background(), lba, buf)
}

// WriteBlockContext writes buf to the sector with index lba. The context is
// only consulted before the command is sent.
//
// ErrWriteTimeout means the card never left busy; the sector contents are
// then unknown and the caller should re-initialize before trusting it.
func (d *Device) WriteBlockContext(ctx context.Context, lba uint32, buf []byte) (err error) {
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

	const op = "write sector"
	r1, err := d.sendCommand(op, cmdWriteSingleBlock, arg)
	if err != nil {
		return err
	}
	if r1 != 0 {
		return newRejectedError(op, cmdWriteSingleBlock, r1)
	}

	if err := d.transmitBlock(buf); err != nil {
		return err
	}

	tokenErr := d.dataResponse(op)
	if tokenErr != nil && KindOf(tokenErr) != KindWriteRejected {
		return tokenErr
	}

	// A rejected block still leaves the card busy for a moment; drain it so
	// the next command starts on an idle line.
	if err := d.waitNotBusy(op); err != nil {
		if tokenErr != nil {
			debugf("%s: busy drain after reject failed: %v", op, err)
			return tokenErr
		}
		return err
	}
	return tokenErr
}

// transmitBlock sends one gap byte, the start token, the payload and its
// CRC16 trailer
func (d *Device) transmitBlock(buf []byte) error {
	packet := make([]byte, 0, 2+len(buf)+frame.CRC16Length)
	packet = append(packet, frame.Fill, frame.TokenStartBlock)
	packet = append(packet, buf...)
	packet = frame.AppendCRC16(packet, buf)
	return d.send(packet)
}

// dataResponse reads the data response token that follows a block
func (d *Device) dataResponse(op string) error {
	res, err := poll.Byte(d.config.ResponseAttempts, d.fill, func(b byte) bool {
		return b != frame.Fill
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &PollError{
			Op:       op,
			Phase:    "waiting for data response",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrWriteRejected,
		}
	}
	if err != nil {
		return err
	}
	if res.Value&frame.DataResponseFrame != frame.DataResponseMarker {
		return &PollError{
			Op:       op,
			Phase:    "malformed data response",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrWriteRejected,
		}
	}

	switch res.Value & frame.DataResponseMask {
	case frame.DataResponseAccepted:
		return nil
	case frame.DataResponseCRCError:
		return &TokenError{Op: op, Token: res.Value, Class: ErrWriteRejected, Err: ErrCRCMismatch}
	case frame.DataResponseWriteErr:
		return &TokenError{Op: op, Token: res.Value, Class: ErrWriteRejected, Err: ErrWriteError}
	default:
		return &TokenError{Op: op, Token: res.Value, Class: ErrWriteRejected}
	}
}

// waitNotBusy clocks fill bytes until the card releases the line
func (d *Device) waitNotBusy(op string) error {
	res, err := poll.Byte(d.config.BusyAttempts, d.fill, func(b byte) bool {
		return b != frame.Busy
	})
	if errors.Is(err, poll.ErrExhausted) {
		return &PollError{
			Op:       op,
			Phase:    "waiting for busy to clear",
			Attempts: res.Attempts,
			Last:     res.Value,
			Err:      ErrWriteTimeout,
		}
	}
	if err != nil {
		return err
	}
	debugf("%s: busy cleared after %d attempts", op, res.Attempts)
	return nil
}
