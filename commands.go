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

import "fmt"

// SPI-mode command indexes
const (
	cmdGoIdleState       = 0  // CMD0: software reset, enter SPI mode
	cmdSendOpCond        = 1  // CMD1: MMC initialization
	cmdSendIfCond        = 8  // CMD8: interface condition, R7
	cmdSendCSD           = 9  // CMD9: read CSD register
	cmdSendCID           = 10 // CMD10: read CID register
	cmdSendStatus        = 13 // CMD13: card status, R2
	cmdSetBlockLen       = 16 // CMD16: block length for standard capacity
	cmdReadSingleBlock   = 17 // CMD17
	cmdWriteSingleBlock  = 24 // CMD24
	cmdAppCmd            = 55 // CMD55: next command is application specific
	cmdReadOCR           = 58 // CMD58: operation conditions, R3
	cmdCRCOnOff          = 59 // CMD59
	acmdSDSendOpCond     = 41 // ACMD41: SD initialization
	cmdIndexLimit        = 64
	trailerLengthR3R7    = 4
	trailerLengthR2      = 1
	ifCondCheckPattern   = 0xAA
	ifCondVoltage27to36V = 0x01
)

// Command arguments
const (
	argIfCond     uint32 = ifCondVoltage27to36V<<8 | ifCondCheckPattern
	argHostHCS    uint32 = 1 << 30
	argCRCEnabled uint32 = 1
)

// OCR bits
const (
	ocrPowerUpDone uint32 = 1 << 31
	ocrCCS         uint32 = 1 << 30
)

var commandNames = map[byte]string{
	cmdGoIdleState:      "GO_IDLE_STATE",
	cmdSendOpCond:       "SEND_OP_COND",
	cmdSendIfCond:       "SEND_IF_COND",
	cmdSendCSD:          "SEND_CSD",
	cmdSendCID:          "SEND_CID",
	cmdSendStatus:       "SEND_STATUS",
	cmdSetBlockLen:      "SET_BLOCKLEN",
	cmdReadSingleBlock:  "READ_SINGLE_BLOCK",
	cmdWriteSingleBlock: "WRITE_BLOCK",
	cmdAppCmd:           "APP_CMD",
	cmdReadOCR:          "READ_OCR",
	cmdCRCOnOff:         "CRC_ON_OFF",
	acmdSDSendOpCond:    "SD_SEND_OP_COND",
}

// commandName returns a printable name such as "CMD17 (READ_SINGLE_BLOCK)"
func commandName(index byte) string {
	if name, ok := commandNames[index]; ok {
		return fmt.Sprintf("CMD%d (%s)", index, name)
	}
	return fmt.Sprintf("CMD%d", index)
}
