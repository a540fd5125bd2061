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

// Package bridge provides an SPI bus through a USB-serial bridge speaking the
// Bus Pirate binary SPI protocol
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// ErrBridgeProtocol is returned when the bridge answers with something other
// than the expected acknowledgement
var ErrBridgeProtocol = errors.New("unexpected bridge response")

const (
	busName = "bridge"

	// DefaultBaudRate is the Bus Pirate's fixed serial rate
	DefaultBaudRate = 115200

	cmdReset     = 0x00
	cmdSPIMode   = 0x01
	cmdCSLow     = 0x02
	cmdCSHigh    = 0x03
	cmdExit      = 0x0F
	cmdBulk      = 0x10
	cmdPeriph    = 0x40
	cmdSpeed     = 0x60
	cmdSPIConfig = 0x80

	periphPower  = 0x08
	periphCSHigh = 0x01

	// 3.3V push-pull outputs, clock idle low, data out on active to idle
	// edge, sample in the middle: SPI mode 0
	configMode0 = 0x0A

	ack          = 0x01
	maxBulk      = 16
	resetRetries = 20
	readTimeout  = 100 * time.Millisecond
)

var (
	bitbangBanner = []byte("BBIO1")
	spiBanner     = []byte("SPI1")
)

// speeds lists the bridge clock settings indexed by their speed code
var speeds = [...]int64{30_000, 125_000, 250_000, 1_000_000, 2_000_000, 2_600_000, 4_000_000, 8_000_000}

// SpeedCode returns the fastest bridge clock setting not above hz, and the
// rate it selects
func SpeedCode(hz int64) (code byte, rate int64) {
	for i := len(speeds) - 1; i > 0; i-- {
		if speeds[i] <= hz {
			return byte(i), speeds[i]
		}
	}
	return 0, speeds[0]
}

// Transport implements sdspi.Bus, sdspi.BulkBus and sdspi.SpeedSetter over a
// Bus Pirate
type Transport struct {
	port     serial.Port
	portName string
	rate     int64
	mu       sync.Mutex
	closed   bool
}

// New opens the serial port portName and puts the bridge in SPI mode
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	t, err := NewFromPort(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewFromPort puts the bridge on an open port into SPI mode 0 with the card
// deselected and the clock at the initialization rate
func NewFromPort(port serial.Port, portName string) (*Transport, error) {
	if port == nil {
		return nil, fmt.Errorf("%w: nil serial port", sdspi.ErrInvalidParameter)
	}
	t := &Transport{port: port, portName: portName}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := t.enterBitbang(); err != nil {
		return nil, err
	}
	if err := t.expect([]byte{cmdSPIMode}, spiBanner); err != nil {
		return nil, fmt.Errorf("failed to enter SPI mode: %w", err)
	}
	if err := t.command(cmdSPIConfig | configMode0); err != nil {
		return nil, fmt.Errorf("failed to configure SPI mode 0: %w", err)
	}
	if err := t.command(cmdPeriph | periphPower | periphCSHigh); err != nil {
		return nil, fmt.Errorf("failed to enable power: %w", err)
	}
	if err := t.setSpeed(sdspi.InitClockHz); err != nil {
		return nil, err
	}

	logrus.Debugf("bridge %s ready at %d Hz", portName, t.rate)
	return t, nil
}

func (t *Transport) enterBitbang() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush serial input: %w", err)
	}

	buf := make([]byte, len(bitbangBanner))
	for range resetRetries {
		if _, err := t.port.Write([]byte{cmdReset}); err != nil {
			return fmt.Errorf("failed to write to bridge: %w", err)
		}
		n, err := t.read(buf)
		if err != nil && !errors.Is(err, errReadTimeout) {
			return err
		}
		if n == len(buf) && bytes.Equal(buf, bitbangBanner) {
			return t.port.ResetInputBuffer()
		}
	}
	return fmt.Errorf("%w: no binary mode banner after %d resets", ErrBridgeProtocol, resetRetries)
}

var errReadTimeout = errors.New("bridge read timed out")

// read fills buf, stopping early when the port times out
func (t *Transport) read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := t.port.Read(buf[total:])
		if err != nil {
			return total, fmt.Errorf("failed to read from bridge: %w", err)
		}
		if n == 0 {
			return total, errReadTimeout
		}
		total += n
	}
	return total, nil
}

// expect writes cmd and checks the reply equals want
func (t *Transport) expect(cmd, want []byte) error {
	if _, err := t.port.Write(cmd); err != nil {
		return fmt.Errorf("failed to write to bridge: %w", err)
	}
	got := make([]byte, len(want))
	n, err := t.read(got)
	if err != nil {
		return err
	}
	if !bytes.Equal(got[:n], want) {
		return fmt.Errorf("%w: got % X, want % X", ErrBridgeProtocol, got[:n], want)
	}
	return nil
}

func (t *Transport) command(cmd byte) error {
	return t.expect([]byte{cmd}, []byte{ack})
}

func (t *Transport) setSpeed(hz int64) error {
	code, rate := SpeedCode(hz)
	if err := t.command(cmdSpeed | code); err != nil {
		return fmt.Errorf("failed to set bridge clock: %w", err)
	}
	t.rate = rate
	return nil
}

// TransferByte implements sdspi.Bus
func (t *Transport) TransferByte(out byte) (byte, error) {
	var r [1]byte
	if err := t.Transfer([]byte{out}, r[:]); err != nil {
		return 0xFF, err
	}
	return r[0], nil
}

// Transfer implements sdspi.BulkBus using bulk transfers of up to 16 bytes
func (t *Transport) Transfer(w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("transfer", busName)
	}
	if r != nil && len(r) != len(w) {
		return fmt.Errorf("%w: read buffer is %d bytes, write buffer %d", sdspi.ErrInvalidParameter, len(r), len(w))
	}

	packet := make([]byte, 0, maxBulk+1)
	reply := make([]byte, maxBulk+1)
	for off := 0; off < len(w); off += maxBulk {
		n := min(len(w)-off, maxBulk)
		packet = append(packet[:0], cmdBulk|byte(n-1))
		packet = append(packet, w[off:off+n]...)
		if _, err := t.port.Write(packet); err != nil {
			return fmt.Errorf("failed to write to bridge %s: %w", t.portName, err)
		}
		if _, err := t.read(reply[:n+1]); err != nil {
			return fmt.Errorf("bulk transfer on %s: %w", t.portName, err)
		}
		if reply[0] != ack {
			return fmt.Errorf("%w: bulk transfer answered 0x%02X", ErrBridgeProtocol, reply[0])
		}
		if r != nil {
			copy(r[off:], reply[1:n+1])
		}
	}
	return nil
}

// Select implements sdspi.Bus
func (t *Transport) Select(selected bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("select", busName)
	}
	cmd := byte(cmdCSHigh)
	if selected {
		cmd = cmdCSLow
	}
	if err := t.command(cmd); err != nil {
		return fmt.Errorf("failed to drive chip-select: %w", err)
	}
	return nil
}

// SetSpeed implements sdspi.SpeedSetter. The bridge supports eight fixed
// rates; the fastest one not above hz is used.
func (t *Transport) SetSpeed(hz int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("set speed", busName)
	}
	if hz <= 0 {
		return fmt.Errorf("%w: clock must be positive", sdspi.ErrInvalidParameter)
	}
	return t.setSpeed(hz)
}

// Rate returns the clock rate currently selected on the bridge
func (t *Transport) Rate() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Close deselects the card, returns the bridge to its terminal and closes
// the serial port
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	_ = t.command(cmdCSHigh)
	if err := t.expect([]byte{cmdReset}, bitbangBanner); err == nil {
		_ = t.command(cmdExit)
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", t.portName, err)
	}
	return nil
}

// Type implements sdspi.Bus
func (*Transport) Type() sdspi.BusType {
	return sdspi.BusBridge
}

// String returns the serial port name
func (t *Transport) String() string {
	return t.portName
}

var (
	_ sdspi.Bus         = (*Transport)(nil)
	_ sdspi.BulkBus     = (*Transport)(nil)
	_ sdspi.SpeedSetter = (*Transport)(nil)
)
