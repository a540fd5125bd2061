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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
	"github.com/ZaparooProject/go-sdspi/internal/poll"
)

// sendCommand transmits one command frame and returns the R1 response.
// The caller must hold chip-select. A missing response is reported as a
// CommandError wrapping ErrProtocolTimeout; a response with error bits set
// is returned as-is for the caller to judge.
func (d *Device) sendCommand(op string, index byte, arg uint32) (byte, error) {
	if index >= cmdIndexLimit {
		return frame.Fill, fmt.Errorf("%w: command index %d", ErrInvalidParameter, index)
	}

	cmd := frame.BuildCommand(index, arg)

	// One fill byte ahead of the frame gives the card a byte boundary to
	// finish whatever it was shifting out.
	if _, err := d.fill(); err != nil {
		return frame.Fill, err
	}
	if err := d.send(cmd[:]); err != nil {
		return frame.Fill, err
	}

	res, err := poll.Byte(d.config.ResponseAttempts, d.fill, frame.IsR1)
	if errors.Is(err, poll.ErrExhausted) {
		debugf("%s: no response after %d attempts", commandName(index), res.Attempts)
		return frame.Fill, newNoResponseError(op, index)
	}
	if err != nil {
		return frame.Fill, err
	}

	debugf("%s arg=0x%08X -> R1=0x%02X", commandName(index), arg, res.Value)
	return res.Value, nil
}

// sendAppCommand sends CMD55 followed by the application command. If CMD55
// itself reports an error its response is returned without sending index.
func (d *Device) sendAppCommand(op string, index byte, arg uint32) (byte, error) {
	r1, err := d.sendCommand(op, cmdAppCmd, 0)
	if err != nil {
		return r1, err
	}
	if r1&frame.R1ErrorMask != 0 {
		return r1, nil
	}
	return d.sendCommand(op, index, arg)
}

// readTrailer reads the bytes that follow R1 in R2, R3 and R7 responses
func (d *Device) readTrailer(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := d.recv(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// expectReady sends a command that must be answered with a clean R1. In
// the idle state the idle bit is tolerated.
func (d *Device) expectReady(op string, index byte, arg uint32, allowIdle bool) error {
	r1, err := d.sendCommand(op, index, arg)
	if err != nil {
		return err
	}
	mask := byte(frame.R1ErrorMask)
	if !allowIdle {
		mask |= frame.R1Idle
	}
	if r1&mask != 0 {
		return newRejectedError(op, index, r1)
	}
	return nil
}
