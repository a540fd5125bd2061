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
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// CSD holds the decoded card-specific data register
type CSD struct {
	// Raw is the register as read from the card
	Raw [frame.RegisterSize]byte
	// MaxTransferRate is the maximum bus clock in Hz (TRAN_SPEED)
	MaxTransferRate int64
	// ReadBlockLength is the maximum read block length in bytes
	ReadBlockLength int
	// SectorCount is the capacity in 512-byte sectors
	SectorCount uint32
	// CommandClasses is the CCC bit field of supported command classes
	CommandClasses uint16
	// Structure is the CSD_STRUCTURE field (0 for version 1, 1 for version 2)
	Structure byte
	// WriteProtected is set when the permanent or temporary write protect
	// bit is set
	WriteProtected bool
}

// CapacityBytes returns the card capacity in bytes
func (c *CSD) CapacityBytes() uint64 {
	return uint64(c.SectorCount) * SectorSize
}

// CID holds the decoded card identification register
type CID struct {
	Raw          [frame.RegisterSize]byte
	OEMID        string
	ProductName  string
	Manufactured time.Time
	Serial       uint32
	Manufacturer byte
	Revision     byte
}

// RevisionString formats the product revision as major.minor
func (c *CID) RevisionString() string {
	return fmt.Sprintf("%d.%d", c.Revision>>4, c.Revision&0x0F)
}

// transfer speed time values, in tenths
var tranSpeedValues = [16]int64{0, 10, 12, 13, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 70, 80}

// DecodeCSD decodes a 16-byte CSD register. Version 2 registers (high
// capacity SD) are recognized by their structure field; everything else is
// decoded with the version 1 layout shared by standard capacity SD and MMC.
func DecodeCSD(raw []byte) (*CSD, error) {
	return decodeCSD(raw, false)
}

func decodeCSD(raw []byte, forceV1 bool) (*CSD, error) {
	if len(raw) != frame.RegisterSize {
		return nil, fmt.Errorf("%w: CSD must be %d bytes, got %d",
			ErrInvalidParameter, frame.RegisterSize, len(raw))
	}

	csd := &CSD{
		Structure:       raw[0] >> 6,
		CommandClasses:  uint16(raw[4])<<4 | uint16(raw[5])>>4,
		ReadBlockLength: 1 << (raw[5] & 0x0F),
		WriteProtected:  raw[14]&0x30 != 0,
	}
	copy(csd.Raw[:], raw)

	unit := int64(1)
	for i := byte(0); i < raw[3]&0x07; i++ {
		unit *= 10
	}
	csd.MaxTransferRate = tranSpeedValues[(raw[3]>>3)&0x0F] * unit * 10_000

	switch {
	case csd.Structure == 1 && !forceV1:
		cSize := uint32(raw[7]&0x3F)<<16 | uint32(raw[8])<<8 | uint32(raw[9])
		csd.SectorCount = (cSize + 1) * 1024
	case csd.Structure <= 1 || forceV1:
		cSize := uint64(raw[6]&0x03)<<10 | uint64(raw[7])<<2 | uint64(raw[8])>>6
		mult := uint(raw[9]&0x03)<<1 | uint(raw[10])>>7
		capacity := (cSize + 1) << (mult + 2) << (raw[5] & 0x0F)
		csd.SectorCount = uint32(capacity / SectorSize)
	default:
		return nil, fmt.Errorf("%w: CSD structure %d", ErrUnsupportedCard, csd.Structure)
	}

	return csd, nil
}

// DecodeCID decodes a 16-byte CID register using the SD layout
func DecodeCID(raw []byte) (*CID, error) {
	if len(raw) != frame.RegisterSize {
		return nil, fmt.Errorf("%w: CID must be %d bytes, got %d",
			ErrInvalidParameter, frame.RegisterSize, len(raw))
	}

	year := 2000 + (int(raw[13]&0x0F)<<4 | int(raw[14]>>4))
	month := time.Month(raw[14] & 0x0F)
	if month < time.January || month > time.December {
		month = time.January
	}

	cid := &CID{
		Manufacturer: raw[0],
		OEMID:        printable(raw[1:3]),
		ProductName:  printable(raw[3:8]),
		Revision:     raw[8],
		Serial:       binary.BigEndian.Uint32(raw[9:13]),
		Manufactured: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
	}
	copy(cid.Raw[:], raw)
	return cid, nil
}

func printable(b []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7E {
			return -1
		}
		return r
	}, string(b))
}

// ReadCSD reads and decodes the CSD register. The decoded capacity replaces
// the one learned during Init.
func (d *Device) ReadCSD(ctx context.Context) (csd *CSD, err error) {
	if err := d.checkReady(ctx); err != nil {
		return nil, err
	}
	if err := d.selectCard(); err != nil {
		return nil, err
	}
	defer d.release(&err)

	csd, err = d.readCSD("read CSD", d.info.Type)
	if err != nil {
		return nil, err
	}
	d.info.CSD = csd
	d.info.SectorCount = csd.SectorCount
	return csd, nil
}

// ReadCID reads and decodes the CID register
func (d *Device) ReadCID(ctx context.Context) (cid *CID, err error) {
	if err := d.checkReady(ctx); err != nil {
		return nil, err
	}
	if err := d.selectCard(); err != nil {
		return nil, err
	}
	defer d.release(&err)

	raw, err := d.readRegister("read CID", cmdSendCID)
	if err != nil {
		return nil, err
	}
	cid, err = DecodeCID(raw)
	if err != nil {
		return nil, err
	}
	d.info.CID = cid
	return cid, nil
}

func (d *Device) readCSD(op string, cardType CardType) (*CSD, error) {
	raw, err := d.readRegister(op, cmdSendCSD)
	if err != nil {
		return nil, err
	}
	return decodeCSD(raw, cardType == CardTypeMMC)
}

// readRegister reads a 16-byte register through the data block phase. The
// caller must hold chip-select.
func (d *Device) readRegister(op string, index byte) ([]byte, error) {
	r1, err := d.sendCommand(op, index, 0)
	if err != nil {
		return nil, err
	}
	if r1 != 0 {
		return nil, newRejectedError(op, index, r1)
	}
	raw := make([]byte, frame.RegisterSize)
	if err := d.receiveBlock(op, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CardStatus is the two-byte R2 response to SEND_STATUS
type CardStatus struct {
	R1 byte
	R2 byte
}

var cardStatusFlags = []string{
	"card locked",
	"lock/unlock failed",
	"error",
	"CC error",
	"card ECC failed",
	"write protect violation",
	"erase parameter",
	"out of range",
}

// OK reports whether no error bit is set in either byte
func (s CardStatus) OK() bool {
	return s.R1&frame.R1ErrorMask == 0 && s.R2 == 0
}

// Flags lists the set status bits
func (s CardStatus) Flags() []string {
	var flags []string
	if s.R1 != 0 {
		flags = append(flags, R1Flags(s.R1)...)
	}
	for bit, name := range cardStatusFlags {
		if s.R2&(1<<bit) != 0 {
			flags = append(flags, name)
		}
	}
	if len(flags) == 0 {
		flags = append(flags, "ready")
	}
	return flags
}

// Status sends SEND_STATUS and returns the R2 response
func (d *Device) Status(ctx context.Context) (status CardStatus, err error) {
	if err := d.checkReady(ctx); err != nil {
		return status, err
	}
	if err := d.selectCard(); err != nil {
		return status, err
	}
	defer d.release(&err)

	r1, err := d.sendCommand("status", cmdSendStatus, 0)
	if err != nil {
		return status, err
	}
	status.R1 = r1
	if r1&frame.R1ErrorMask != 0 {
		return status, newRejectedError("status", cmdSendStatus, r1)
	}
	r2, err := d.readTrailer(trailerLengthR2)
	if err != nil {
		return status, err
	}
	status.R2 = r2[0]
	return status, nil
}
