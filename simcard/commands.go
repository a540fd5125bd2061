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
	"github.com/ZaparooProject/go-sdspi/internal/frame"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

// Command indexes understood by the card
const (
	cmdGoIdleState      = 0
	cmdSendOpCond       = 1
	cmdSendIfCond       = 8
	cmdSendCSD          = 9
	cmdSendCID          = 10
	cmdSendStatus       = 13
	cmdSetBlockLen      = 16
	cmdReadSingleBlock  = 17
	cmdWriteSingleBlock = 24
	cmdAppCmd           = 55
	cmdReadOCR          = 58
	cmdCRCOnOff         = 59
	acmdSDSendOpCond    = 41
)

const (
	dataAccepted = 0xE5
	dataCRCError = 0xEB
	dataWriteErr = 0xED
)

// handleCommand decodes one complete frame and queues the response
func (c *Card) handleCommand(cmd frame.Command) {
	index := cmd.Index()
	arg := cmd.Argument()
	app := c.appCmd
	c.appCmd = false

	// A card in SD bus mode ignores everything but a correctly framed
	// reset, and only after it has seen the power-up clocks.
	if !c.spiMode {
		if index != cmdGoIdleState || c.powerFill < powerUpFillBytes || !cmd.Valid() {
			return
		}
	}

	c.log = append(c.log, Command{Index: index, Arg: arg, App: app})

	if c.faults.Mute[index] {
		return
	}
	if r1, ok := c.faults.Reject[index]; ok {
		c.respond(r1 | c.status())
		return
	}
	if (c.crcOn || index == cmdGoIdleState || index == cmdSendIfCond) && !cmd.Valid() {
		c.respond(c.status() | frame.R1CommandCRC)
		return
	}

	switch {
	case index == cmdGoIdleState:
		c.reset()
	case index == cmdSendIfCond:
		c.sendIfCond(arg)
	case index == cmdAppCmd:
		c.appCommand()
	case index == acmdSDSendOpCond && app:
		c.sdSendOpCond(arg)
	case index == cmdSendOpCond:
		c.opCond(true)
	case index == cmdReadOCR:
		c.readOCR()
	case index == cmdCRCOnOff:
		c.crcOn = arg&1 != 0
		c.respond(c.status())
	case index == cmdSetBlockLen:
		c.setBlockLen(arg)
	case index == cmdSendStatus:
		c.respond(c.status(), 0x00)
	case index == cmdSendCSD:
		c.sendRegister(c.csd[:])
	case index == cmdSendCID:
		c.sendRegister(c.cid[:])
	case index == cmdReadSingleBlock:
		c.readBlock(arg)
	case index == cmdWriteSingleBlock:
		c.startWrite(arg)
	default:
		c.illegal()
	}
}

func (c *Card) illegal() {
	c.respond(c.status() | frame.R1IllegalCmd)
}

func (c *Card) reset() {
	c.spiMode = true
	c.idle = true
	c.crcOn = false
	c.busy = false
	c.opConds = 0
	c.phase = phaseCommand
	c.respond(frame.R1Idle)
}

func (c *Card) sendIfCond(arg uint32) {
	if c.cfg.Kind == KindSDv1 || c.cfg.Kind == KindMMC {
		c.illegal()
		return
	}
	c.respond(c.status(), 0x00, 0x00, byte(arg>>8)&0x0F, byte(arg))
}

func (c *Card) appCommand() {
	if c.cfg.Kind == KindMMC {
		c.illegal()
		return
	}
	c.appCmd = true
	c.respond(c.status())
}

func (c *Card) sdSendOpCond(arg uint32) {
	if c.cfg.Kind == KindMMC {
		c.illegal()
		return
	}
	// A high capacity card never finishes initialization for a host that
	// does not announce high capacity support.
	c.opCond(c.cfg.Kind != KindSDHC || arg&hostCapacity != 0)
}

func (c *Card) opCond(accepted bool) {
	if accepted && c.idle {
		c.opConds++
		if c.opConds > c.cfg.OpCondBusyRounds {
			c.idle = false
		}
	}
	c.respond(c.status())
}

func (c *Card) readOCR() {
	ocr := uint32(ocrVoltageWindow)
	if !c.idle {
		ocr |= ocrPowerUp
		if c.cfg.Kind == KindSDHC {
			ocr |= ocrCCS
		}
	}
	c.respond(c.status(), byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))
}

func (c *Card) setBlockLen(arg uint32) {
	if arg != sdspi.SectorSize {
		c.respond(c.status() | frame.R1ParameterErr)
		return
	}
	c.respond(c.status())
}

func (c *Card) sendRegister(reg []byte) {
	if c.idle {
		c.illegal()
		return
	}
	c.respond(0)
	c.sendBlock(reg)
}

// blockAddress converts a command argument to a sector index. ok is false
// when a byte address is not sector aligned.
func (c *Card) blockAddress(arg uint32) (uint32, bool) {
	if c.cfg.Kind == KindSDHC {
		return arg, true
	}
	if arg%sdspi.SectorSize != 0 {
		return 0, false
	}
	return arg / sdspi.SectorSize, true
}

func (c *Card) readBlock(arg uint32) {
	if c.idle {
		c.illegal()
		return
	}
	lba, ok := c.blockAddress(arg)
	if !ok {
		c.respond(frame.R1AddressError)
		return
	}

	c.respond(0)
	switch {
	case c.faults.NoStartToken:
	case c.faults.ReadErrorToken != 0:
		c.sendErrorToken(c.faults.ReadErrorToken)
	case lba >= c.sectors:
		c.sendErrorToken(frame.DataErrorOutOfRange)
	default:
		buf := make([]byte, sdspi.SectorSize)
		if err := c.readSector(lba, buf); err != nil {
			c.sendErrorToken(frame.DataErrorGeneric)
			return
		}
		c.sendBlock(buf)
	}
}

func (c *Card) startWrite(arg uint32) {
	if c.idle {
		c.illegal()
		return
	}
	lba, ok := c.blockAddress(arg)
	if !ok {
		c.respond(frame.R1AddressError)
		return
	}
	if lba >= c.sectors {
		c.respond(frame.R1ParameterErr)
		return
	}
	c.respond(0)
	c.writeLBA = lba
	c.phase = phaseWriteToken
}

// finishWrite runs once the payload and its CRC have been received
func (c *Card) finishWrite() {
	c.phase = phaseCommand
	data := c.writeBuf[:sdspi.SectorSize]
	trailer := c.writeBuf[sdspi.SectorSize:]

	token := byte(dataAccepted)
	switch {
	case c.crcOn && !frame.ValidateCRC16(data, trailer):
		token = dataCRCError
	case c.faults.WriteResponse != 0:
		token = c.faults.WriteResponse
	default:
		if err := c.writeSector(c.writeLBA, data); err != nil {
			token = dataWriteErr
		}
	}

	c.out = append(c.out, token)
	if c.faults.StuckBusy {
		c.busy = true
		return
	}
	for i := 0; i < c.cfg.BusyBytes; i++ {
		c.out = append(c.out, frame.Busy)
	}
}
