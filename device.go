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
	"fmt"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// SectorSize is the fixed transfer unit of the driver
const SectorSize = frame.SectorSize

// maxByteAddressedSector is the last sector whose byte offset fits the 32-bit
// argument used by standard capacity cards
const maxByteAddressedSector = (1<<32)/SectorSize - 1

// DeviceConfig contains the attempt budgets and options for a Device. Every
// wait in the protocol is bounded by one of these counts; none is a
// wall-clock timeout.
type DeviceConfig struct {
	// PowerUpClocks is the number of fill bytes clocked with chip-select
	// released before the reset command (at least 74 clock cycles)
	PowerUpClocks int
	// ResetAttempts bounds the number of CMD0 attempts
	ResetAttempts int
	// ResponseAttempts bounds the fill bytes clocked while waiting for an
	// R1 response or a data response token
	ResponseAttempts int
	// OpCondAttempts bounds the ACMD41/CMD1 initialization loop
	OpCondAttempts int
	// ReadTokenAttempts bounds the wait for a data start token
	ReadTokenAttempts int
	// BusyAttempts bounds the wait for the card to finish programming
	BusyAttempts int
	// DataSpeed is the bus clock applied after initialization when the bus
	// supports it; zero leaves the clock unchanged
	DataSpeed int64
	// CRCCheck enables card-side CRC verification with CMD59
	CRCCheck bool
	// ReadCSD reads the CSD register during Init to learn the capacity
	ReadCSD bool
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		PowerUpClocks:     10,
		ResetAttempts:     10,
		ResponseAttempts:  8,
		OpCondAttempts:    4096,
		ReadTokenAttempts: 1 << 16,
		BusyAttempts:      1 << 20,
		ReadCSD:           true,
	}
}

// Validate checks that every budget allows at least one attempt
func (c *DeviceConfig) Validate() error {
	budgets := []struct {
		name  string
		value int
	}{
		{"ResetAttempts", c.ResetAttempts},
		{"ResponseAttempts", c.ResponseAttempts},
		{"OpCondAttempts", c.OpCondAttempts},
		{"ReadTokenAttempts", c.ReadTokenAttempts},
		{"BusyAttempts", c.BusyAttempts},
	}
	for _, b := range budgets {
		if b.value < 1 {
			return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidParameter, b.name, b.value)
		}
	}
	if c.PowerUpClocks*8 < 74 {
		return fmt.Errorf("%w: PowerUpClocks must provide at least 74 clocks, got %d bytes",
			ErrInvalidParameter, c.PowerUpClocks)
	}
	if c.DataSpeed < 0 {
		return fmt.Errorf("%w: DataSpeed must not be negative", ErrInvalidParameter)
	}
	return nil
}

// CardInfo describes the card detected by the last successful Init
type CardInfo struct {
	CSD         *CSD
	CID         *CID
	Type        CardType
	State       CardState
	OCR         uint32
	SectorCount uint32
}

// CapacityBytes returns the card capacity, or zero when unknown
func (i CardInfo) CapacityBytes() uint64 {
	return uint64(i.SectorCount) * SectorSize
}

// Device drives one SD/MMC card over a Bus
//
// Thread Safety: Device is NOT thread-safe. The protocol has no way to
// interleave transactions, so all methods must be called from a single
// goroutine or protected with external synchronization.
type Device struct {
	bus    Bus
	config *DeviceConfig
	info   CardInfo
	state  CardState
}

// New creates a new device on the given bus. The card is left uninitialized;
// call Init before reading or writing.
func New(bus Bus, opts ...Option) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidParameter)
	}

	device := &Device{
		bus:    bus,
		config: DefaultDeviceConfig(),
		state:  StateUninitialized,
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	if err := device.config.Validate(); err != nil {
		return nil, err
	}

	return device, nil
}

// Bus returns the underlying bus
func (d *Device) Bus() Bus {
	return d.bus
}

// State returns the current card state
func (d *Device) State() CardState {
	return d.state
}

// Info returns what the driver learned about the card during Init
func (d *Device) Info() CardInfo {
	info := d.info
	info.State = d.state
	return info
}

// Close releases the card and closes the bus. The card state is reset so
// later operations fail with ErrNotInitialized.
func (d *Device) Close() error {
	d.transition(StateUninitialized)
	d.info = CardInfo{}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			return fmt.Errorf("failed to close bus: %w", err)
		}
	}
	return nil
}

// SectorAddress recombines the two address halves used at the public
// boundary into a block index
func SectorAddress(high, low uint16) uint32 {
	return uint32(high)<<16 | uint32(low)
}

// checkReady guards register operations that carry no sector buffer
func (d *Device) checkReady(ctx context.Context) error {
	if d.state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotInitialized, d.state)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before transfer: %w", err)
	}
	return nil
}

// checkTransfer guards every sector operation. It runs before any bus
// traffic, so a failed precondition never touches the card.
func (d *Device) checkTransfer(ctx context.Context, buf []byte) error {
	if d.state != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotInitialized, d.state)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidBuffer, len(buf))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before transfer: %w", err)
	}
	return nil
}

// blockArgument encodes a sector index as the command argument for the
// addressing mode fixed during Init
func (d *Device) blockArgument(lba uint32) (uint32, error) {
	if d.info.SectorCount > 0 && lba >= d.info.SectorCount {
		return 0, fmt.Errorf("%w: sector %d, card has %d sectors",
			ErrAddressOutOfRange, lba, d.info.SectorCount)
	}
	if d.info.Type.BlockAddressed() {
		return lba, nil
	}
	if lba > maxByteAddressedSector {
		return 0, fmt.Errorf("%w: sector %d exceeds byte addressing of %s card",
			ErrAddressOutOfRange, lba, d.info.Type)
	}
	return lba * SectorSize, nil
}

// xfer exchanges one byte and wraps bus failures
func (d *Device) xfer(out byte) (byte, error) {
	in, err := d.bus.TransferByte(out)
	if err != nil {
		return in, d.busError("transfer", err)
	}
	return in, nil
}

// fill clocks one fill byte and returns what the card sent
func (d *Device) fill() (byte, error) {
	return d.xfer(frame.Fill)
}

// send transmits buf, discarding the received bytes
func (d *Device) send(buf []byte) error {
	if bulk, ok := d.bus.(BulkBus); ok {
		if err := bulk.Transfer(buf, nil); err != nil {
			return d.busError("transfer", err)
		}
		return nil
	}
	for _, b := range buf {
		if _, err := d.xfer(b); err != nil {
			return err
		}
	}
	return nil
}

// recv clocks fill bytes and stores the received bytes in buf
func (d *Device) recv(buf []byte) error {
	if bulk, ok := d.bus.(BulkBus); ok {
		for i := range buf {
			buf[i] = frame.Fill
		}
		if err := bulk.Transfer(buf, buf); err != nil {
			return d.busError("transfer", err)
		}
		return nil
	}
	for i := range buf {
		b, err := d.fill()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// selectCard asserts chip-select for one logical transaction
func (d *Device) selectCard() error {
	if err := d.bus.Select(true); err != nil {
		return d.busError("select", err)
	}
	return nil
}

// releaseCard releases chip-select and clocks one more byte so the card
// lets go of its data-out line
func (d *Device) releaseCard() error {
	if err := d.bus.Select(false); err != nil {
		return d.busError("deselect", err)
	}
	if _, err := d.fill(); err != nil {
		return err
	}
	return nil
}

// release is deferred by every transaction; a failed release only surfaces
// when the transaction itself succeeded
func (d *Device) release(errp *error) {
	if err := d.releaseCard(); err != nil && *errp == nil {
		*errp = err
	}
}

func (d *Device) busError(op string, err error) error {
	var be *BusError
	if errors.As(err, &be) {
		return err
	}
	errType := ErrorTypeTransient
	if errors.Is(err, ErrBusClosed) {
		errType = ErrorTypePermanent
	}
	return NewBusError(op, string(d.bus.Type()), fmt.Errorf("%w: %w", ErrBusTransfer, err), errType)
}
