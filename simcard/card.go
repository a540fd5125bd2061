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

// Package simcard simulates an SD or MMC card at the SPI byte level. A Card
// implements sdspi.Bus, so the driver can run against it exactly as it runs
// against hardware, including the failure paths injected through Faults.
package simcard

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// Kind selects which generation of card is simulated
type Kind int

const (
	// KindSDHC is a block addressed high capacity SD card
	KindSDHC Kind = iota
	// KindSDv2 is a byte addressed version 2 SD card
	KindSDv2
	// KindSDv1 is a version 1 SD card that rejects CMD8
	KindSDv1
	// KindMMC is a MultiMediaCard that rejects CMD8 and ACMD41
	KindMMC
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindSDHC:
		return "SDHC"
	case KindSDv2:
		return "SDv2"
	case KindSDv1:
		return "SDv1"
	case KindMMC:
		return "MMC"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name as printed by String
func ParseKind(name string) (Kind, error) {
	for _, k := range []Kind{KindSDHC, KindSDv2, KindSDv1, KindMMC} {
		if k.String() == name {
			return k, nil
		}
	}
	return KindSDHC, fmt.Errorf("unknown card kind %q", name)
}

// Config controls the timing of the simulated card. Delays are counted in
// bytes clocked by the host.
type Config struct {
	Kind Kind
	// OpCondBusyRounds is how many ACMD41/CMD1 attempts answer "idle"
	// before the card reports ready
	OpCondBusyRounds int
	// ResponseDelay is the number of fill bytes before each R1 (NCR)
	ResponseDelay int
	// ReadDelay is the number of fill bytes before a data start token
	ReadDelay int
	// BusyBytes is the number of busy bytes after an accepted write
	BusyBytes int
}

// DefaultConfig returns a high capacity card with short, realistic delays
func DefaultConfig() Config {
	return Config{
		Kind:             KindSDHC,
		OpCondBusyRounds: 2,
		ResponseDelay:    1,
		ReadDelay:        4,
		BusyBytes:        8,
	}
}

// Faults are failures the card injects until cleared
type Faults struct {
	// Reject answers the listed command indexes with the given R1
	Reject map[byte]byte
	// Mute suppresses any response to the listed command indexes
	Mute map[byte]bool
	// ReadErrorToken, when non-zero, replaces the start token of reads
	ReadErrorToken byte
	// WriteResponse, when non-zero, replaces the accepted data response
	WriteResponse byte
	// NoStartToken makes reads answer R1 but never send data
	NoStartToken bool
	// CorruptReadCRC flips a bit of the CRC16 sent with read data
	CorruptReadCRC bool
	// StuckBusy holds the data line busy after a write until deselected
	StuckBusy bool
}

// Command is one entry of the command log
type Command struct {
	Arg   uint32
	Index byte
	App   bool
}

// String formats the command as CMDn or ACMDn
func (c Command) String() string {
	if c.App {
		return fmt.Sprintf("ACMD%d(0x%08X)", c.Index, c.Arg)
	}
	return fmt.Sprintf("CMD%d(0x%08X)", c.Index, c.Arg)
}

type phase int

const (
	phaseCommand phase = iota
	phaseWriteToken
	phaseWriteData
)

const (
	powerUpFillBytes = 10
	hostCapacity     = 1 << 30
	ocrVoltageWindow = 0x00FF8000
	ocrPowerUp       = 1 << 31
	ocrCCS           = 1 << 30
)

// Card is a simulated card backed by an image file
type Card struct {
	storage   afero.File
	faults    Faults
	cfg       Config
	csd       [frame.RegisterSize]byte
	cid       [frame.RegisterSize]byte
	rx        []byte
	out       []byte
	writeBuf  []byte
	log       []Command
	writeLBA  uint32
	sectors   uint32
	transfers int
	powerFill int
	opConds   int
	speed     int64
	phase     phase
	mu        sync.Mutex
	selected  bool
	spiMode   bool
	idle      bool
	appCmd    bool
	crcOn     bool
	busy      bool
	closed    bool
}

// New creates a card backed by file. The image size must be a non-zero
// multiple of the sector size; high capacity images must hold a multiple of
// 1024 sectors so the CSD can describe them exactly. The card owns file and
// closes it on Close.
func New(file afero.File, cfg Config) (*Card, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat card image: %w", err)
	}
	size := info.Size()
	if size <= 0 || size%sdspi.SectorSize != 0 {
		return nil, fmt.Errorf("card image size %d is not a multiple of %d", size, sdspi.SectorSize)
	}
	if size/sdspi.SectorSize > 1<<32-1 {
		return nil, fmt.Errorf("card image of %d bytes is too large", size)
	}

	c := &Card{
		storage: file,
		cfg:     cfg,
		sectors: uint32(size / sdspi.SectorSize),
	}
	if err := c.buildRegisters(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewMemory creates a zero-filled card of the given number of sectors on an
// in-memory filesystem
func NewMemory(sectors uint32, cfg Config) (*Card, error) {
	fs := afero.NewMemMapFs()
	file, err := fs.Create("card.img")
	if err != nil {
		return nil, fmt.Errorf("failed to create card image: %w", err)
	}
	if err := file.Truncate(int64(sectors) * sdspi.SectorSize); err != nil {
		return nil, fmt.Errorf("failed to size card image: %w", err)
	}
	return New(file, cfg)
}

// Open opens or creates an image file of the given number of sectors on fs.
// An existing image keeps its size.
func Open(fs afero.Fs, path string, sectors uint32, cfg Config) (*Card, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to check card image: %w", err)
	}
	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open card image: %w", err)
	}
	if !exists {
		if err := file.Truncate(int64(sectors) * sdspi.SectorSize); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to size card image: %w", err)
		}
	}
	card, err := New(file, cfg)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return card, nil
}

// SectorCount returns the capacity of the image in sectors
func (c *Card) SectorCount() uint32 {
	return c.sectors
}

// SetFaults replaces the injected faults
func (c *Card) SetFaults(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = f
}

// Transfers returns the number of bytes clocked so far
func (c *Card) Transfers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transfers
}

// CommandLog returns every command the card accepted for decoding
func (c *Card) CommandLog() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.log...)
}

// ResetLog clears the command log and the transfer counter
func (c *Card) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
	c.transfers = 0
}

// Speed returns the last clock rate set by the host
func (c *Card) Speed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// ReadSectorImage reads a sector straight from the image, bypassing the
// protocol
func (c *Card) ReadSectorImage(lba uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, sdspi.SectorSize)
	if err := c.readSector(lba, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteSectorImage writes a sector straight to the image
func (c *Card) WriteSectorImage(lba uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) != sdspi.SectorSize {
		return sdspi.ErrInvalidBuffer
	}
	return c.writeSector(lba, data)
}

func (c *Card) readSector(lba uint32, buf []byte) error {
	if lba >= c.sectors {
		return sdspi.ErrAddressOutOfRange
	}
	if _, err := c.storage.ReadAt(buf, int64(lba)*sdspi.SectorSize); err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	return nil
}

func (c *Card) writeSector(lba uint32, data []byte) error {
	if lba >= c.sectors {
		return sdspi.ErrAddressOutOfRange
	}
	if _, err := c.storage.WriteAt(data, int64(lba)*sdspi.SectorSize); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// TransferByte implements sdspi.Bus
func (c *Card) TransferByte(out byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return frame.Fill, sdspi.NewBusClosedError("transfer", string(sdspi.BusSimulated))
	}
	return c.clock(out), nil
}

// Transfer implements sdspi.BulkBus. r may alias w.
func (c *Card) Transfer(w, r []byte) error {
	if r != nil && len(r) != len(w) {
		return fmt.Errorf("%w: read buffer length %d, write length %d",
			sdspi.ErrInvalidParameter, len(r), len(w))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sdspi.NewBusClosedError("transfer", string(sdspi.BusSimulated))
	}
	for i, b := range w {
		in := c.clock(b)
		if r != nil {
			r[i] = in
		}
	}
	return nil
}

// Select implements sdspi.Bus. Releasing chip-select aborts any frame in
// progress and drops pending output.
func (c *Card) Select(selected bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return sdspi.NewBusClosedError("select", string(sdspi.BusSimulated))
	}
	c.selected = selected
	if !selected {
		c.rx = c.rx[:0]
		c.out = c.out[:0]
		c.phase = phaseCommand
		c.busy = false
	}
	return nil
}

// SetSpeed implements sdspi.SpeedSetter
func (c *Card) SetSpeed(hz int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hz <= 0 {
		return fmt.Errorf("%w: speed %d", sdspi.ErrInvalidParameter, hz)
	}
	c.speed = hz
	return nil
}

// Close implements sdspi.Bus and closes the image
func (c *Card) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.storage.Close(); err != nil {
		return fmt.Errorf("failed to close card image: %w", err)
	}
	return nil
}

// Type implements sdspi.Bus
func (*Card) Type() sdspi.BusType {
	return sdspi.BusSimulated
}

// clock shifts one byte in each direction. The reply to a byte is only
// visible from the next clock on.
func (c *Card) clock(in byte) byte {
	c.transfers++

	if !c.selected {
		if in == frame.Fill && c.powerFill < powerUpFillBytes {
			c.powerFill++
		}
		return frame.Fill
	}

	reply := byte(frame.Fill)
	switch {
	case len(c.out) > 0:
		reply = c.out[0]
		c.out = c.out[1:]
	case c.busy:
		reply = frame.Busy
	}

	switch c.phase {
	case phaseCommand:
		c.receiveCommandByte(in)
	case phaseWriteToken:
		switch in {
		case frame.TokenStartBlock:
			c.phase = phaseWriteData
			c.writeBuf = c.writeBuf[:0]
		case frame.Fill:
		default:
			c.phase = phaseCommand
		}
	case phaseWriteData:
		c.writeBuf = append(c.writeBuf, in)
		if len(c.writeBuf) == sdspi.SectorSize+frame.CRC16Length {
			c.finishWrite()
		}
	}
	return reply
}

func (c *Card) receiveCommandByte(in byte) {
	if len(c.rx) == 0 && in&0xC0 != frame.StartBits {
		return
	}
	c.rx = append(c.rx, in)
	if len(c.rx) < frame.CommandLength {
		return
	}
	var cmd frame.Command
	copy(cmd[:], c.rx)
	c.rx = c.rx[:0]
	c.handleCommand(cmd)
}

func (c *Card) status() byte {
	if c.idle {
		return frame.R1Idle
	}
	return 0
}

func (c *Card) respond(r1 byte, trailer ...byte) {
	for i := 0; i < c.cfg.ResponseDelay; i++ {
		c.out = append(c.out, frame.Fill)
	}
	c.out = append(c.out, r1)
	c.out = append(c.out, trailer...)
}

func (c *Card) sendBlock(data []byte) {
	for i := 0; i < c.cfg.ReadDelay; i++ {
		c.out = append(c.out, frame.Fill)
	}
	c.out = append(c.out, frame.TokenStartBlock)
	c.out = append(c.out, data...)
	crc := frame.CRC16(data)
	if c.faults.CorruptReadCRC {
		crc ^= 0x0001
	}
	c.out = append(c.out, byte(crc>>8), byte(crc))
}

func (c *Card) sendErrorToken(token byte) {
	for i := 0; i < c.cfg.ReadDelay; i++ {
		c.out = append(c.out, frame.Fill)
	}
	c.out = append(c.out, token)
}

var _ sdspi.Bus = (*Card)(nil)
var _ sdspi.BulkBus = (*Card)(nil)
var _ sdspi.SpeedSetter = (*Card)(nil)
