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

// Package periph provides an SPI bus backed by periph.io. The card's
// chip-select is driven from a GPIO pin so it can stay asserted across the
// many small transfers of one command.
package periph

import (
	"fmt"
	"sync"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const (
	// DefaultMaxSpeed is the highest clock requested from the port. Cards
	// are rated for 25 MHz in default speed mode.
	DefaultMaxSpeed = 25 * physic.MegaHertz

	busName = "periph"
)

// Transport implements sdspi.Bus, sdspi.BulkBus and sdspi.SpeedSetter over a
// periph.io SPI port
type Transport struct {
	port     spi.PortCloser
	conn     spi.Conn
	cs       gpio.PinOut
	portName string
	maxTx    int
	mu       sync.Mutex
	closed   bool
}

// Option configures a Transport
type Option func(*options)

type options struct {
	maxSpeed physic.Frequency
}

// WithMaxSpeed caps the clock used after initialization
func WithMaxSpeed(f physic.Frequency) Option {
	return func(o *options) {
		o.maxSpeed = f
	}
}

// New opens the SPI port portName (for example "/dev/spidev0.0" or "SPI0.0")
// with chip-select on the GPIO pin csPin (for example "GPIO8")
func New(portName, csPin string, opts ...Option) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	if csPin == "" {
		return nil, fmt.Errorf("%w: a chip-select GPIO pin is required", sdspi.ErrInvalidParameter)
	}
	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%w: unknown GPIO pin %s", sdspi.ErrInvalidParameter, csPin)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}

	t, err := NewFromPort(port, cs, opts...)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	t.portName = portName
	return t, nil
}

// NewFromPort builds a transport on an already opened port. The port is
// connected in mode 0 without hardware chip-select and limited to the card
// initialization clock.
func NewFromPort(port spi.PortCloser, cs gpio.PinOut, opts ...Option) (*Transport, error) {
	if port == nil || cs == nil {
		return nil, fmt.Errorf("%w: nil port or chip-select pin", sdspi.ErrInvalidParameter)
	}

	o := options{maxSpeed: DefaultMaxSpeed}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to drive chip-select high: %w", err)
	}

	c, err := port.Connect(o.maxSpeed, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SPI port: %w", err)
	}

	if err := port.LimitSpeed(sdspi.InitClockHz * physic.Hertz); err != nil {
		return nil, fmt.Errorf("failed to set initialization clock: %w", err)
	}

	t := &Transport{
		port:     port,
		conn:     c,
		cs:       cs,
		portName: port.String(),
	}
	if limits, ok := c.(conn.Limits); ok {
		t.maxTx = limits.MaxTxSize()
	}
	return t, nil
}

// TransferByte implements sdspi.Bus
func (t *Transport) TransferByte(out byte) (byte, error) {
	var r [1]byte
	if err := t.Transfer([]byte{out}, r[:]); err != nil {
		return 0xFF, err
	}
	return r[0], nil
}

// Transfer implements sdspi.BulkBus. Buffers longer than the driver's
// transfer limit are split into several transactions; chip-select is not
// touched.
func (t *Transport) Transfer(w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("transfer", busName)
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	if len(r) != len(w) {
		return fmt.Errorf("%w: read buffer is %d bytes, write buffer %d", sdspi.ErrInvalidParameter, len(r), len(w))
	}

	for len(w) > 0 {
		n := len(w)
		if t.maxTx > 0 && n > t.maxTx {
			n = t.maxTx
		}
		if err := t.conn.Tx(w[:n], r[:n]); err != nil {
			return fmt.Errorf("SPI transfer on %s failed: %w", t.portName, err)
		}
		w, r = w[n:], r[n:]
	}
	return nil
}

// Select implements sdspi.Bus. Chip-select is active low.
func (t *Transport) Select(selected bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("select", busName)
	}
	level := gpio.High
	if selected {
		level = gpio.Low
	}
	if err := t.cs.Out(level); err != nil {
		return fmt.Errorf("failed to drive chip-select: %w", err)
	}
	return nil
}

// SetSpeed implements sdspi.SpeedSetter
func (t *Transport) SetSpeed(hz int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("set speed", busName)
	}
	if hz <= 0 {
		return fmt.Errorf("%w: clock must be positive", sdspi.ErrInvalidParameter)
	}
	if err := t.port.LimitSpeed(physic.Frequency(hz) * physic.Hertz); err != nil {
		return fmt.Errorf("failed to set SPI clock to %d Hz: %w", hz, err)
	}
	return nil
}

// Close releases chip-select and closes the port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	_ = t.cs.Out(gpio.High)
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port %s: %w", t.portName, err)
	}
	return nil
}

// Type implements sdspi.Bus
func (*Transport) Type() sdspi.BusType {
	return sdspi.BusPeriph
}

// String returns the port name
func (t *Transport) String() string {
	return t.portName
}

var (
	_ sdspi.Bus         = (*Transport)(nil)
	_ sdspi.BulkBus     = (*Transport)(nil)
	_ sdspi.SpeedSetter = (*Transport)(nil)
)
