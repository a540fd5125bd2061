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

// Package spidev provides an SPI bus on a Linux spidev character device
// (/dev/spidevB.C) through periph.io's sysfs driver. The kernel drives
// chip-select: it stays asserted between packets while the card is selected
// and drops with the last packet of a release. Traffic clocked while the card
// is deselected goes over a NO_CS connection so chip-select stays inactive.
package spidev

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3/sysfs"
)

// ErrUnsupportedPlatform is returned by New on systems without spidev
var ErrUnsupportedPlatform = errors.New("spidev is only supported on linux")

const (
	busName = "spidev"

	// maxClock is requested at Connect. The working clock is set below it
	// with LimitSpeed.
	maxClock = physic.GigaHertz
	wordBits = 8

	// defaultMaxTx applies when the spidev bufsiz parameter is unknown
	defaultMaxTx = 4096
)

// link is one connection to the spidev node. The chip-select mode is fixed
// when the connection is made.
type link interface {
	TxPackets(p []spi.Packet) error
	LimitSpeed(f physic.Frequency) error
	MaxTxSize() int
	Close() error
}

// dialer opens a link, with kernel chip-select disabled when noCS is set
type dialer func(noCS bool) (link, error)

type sysfsLink struct {
	port *sysfs.SPI
	conn spi.Conn
}

func (l *sysfsLink) TxPackets(p []spi.Packet) error {
	return l.conn.TxPackets(p)
}

func (l *sysfsLink) LimitSpeed(f physic.Frequency) error {
	return l.port.LimitSpeed(f)
}

func (l *sysfsLink) MaxTxSize() int {
	return l.port.MaxTxSize()
}

func (l *sysfsLink) Close() error {
	return l.port.Close()
}

func dialSysfs(bus, cs int) dialer {
	return func(noCS bool) (link, error) {
		port, err := sysfs.NewSPI(bus, cs)
		if err != nil {
			return nil, err
		}
		mode := spi.Mode0
		if noCS {
			mode |= spi.NoCS
		}
		c, err := port.Connect(maxClock, mode, wordBits)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
		return &sysfsLink{port: port, conn: c}, nil
	}
}

// Transport implements sdspi.Bus, sdspi.BulkBus and sdspi.SpeedSetter on a
// spidev node
type Transport struct {
	dial     dialer
	link     link
	path     string
	speed    physic.Frequency
	maxTx    int
	mu       sync.Mutex
	noCS     bool
	selected bool
	asserted bool
	closed   bool
}

// New opens the spidev node at path
func New(path string) (*Transport, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrUnsupportedPlatform
	}
	bus, cs, err := parseNode(path)
	if err != nil {
		return nil, err
	}
	return newTransport(dialSysfs(bus, cs), path)
}

// parseNode extracts the bus and chip-select numbers from a spidevB.C path
func parseNode(path string) (bus, cs int, err error) {
	rest, ok := strings.CutPrefix(filepath.Base(path), "spidev")
	if ok {
		b, c, found := strings.Cut(rest, ".")
		if found {
			bus, err = strconv.Atoi(b)
			if err == nil {
				cs, err = strconv.Atoi(c)
			}
			if err == nil && bus >= 0 && cs >= 0 {
				return bus, cs, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %q is not a spidevB.C node", sdspi.ErrInvalidParameter, path)
}

func newTransport(dial dialer, path string) (*Transport, error) {
	t := &Transport{
		dial:  dial,
		path:  path,
		speed: sdspi.InitClockHz * physic.Hertz,
	}
	// The first traffic is the power-up clocking, sent deselected.
	if err := t.connect(true); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) connect(noCS bool) error {
	if t.link != nil {
		err := t.link.Close()
		t.link = nil
		if err != nil {
			return fmt.Errorf("failed to close %s: %w", t.path, err)
		}
	}
	l, err := t.dial(noCS)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	if err := l.LimitSpeed(t.speed); err != nil {
		_ = l.Close()
		return fmt.Errorf("failed to set SPI clock on %s: %w", t.path, err)
	}
	t.link = l
	t.noCS = noCS
	t.maxTx = l.MaxTxSize()
	if t.maxTx <= 0 {
		t.maxTx = defaultMaxTx
	}
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

// Transfer implements sdspi.BulkBus
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
	if len(w) == 0 {
		return nil
	}

	if noCS := !t.selected; t.link == nil || t.noCS != noCS {
		if err := t.connect(noCS); err != nil {
			return err
		}
	}

	for len(w) > 0 {
		n := min(len(w), t.maxTx)
		err := t.link.TxPackets([]spi.Packet{{W: w[:n], R: r[:n], KeepCS: t.selected}})
		if err != nil {
			return fmt.Errorf("SPI transfer on %s failed: %w", t.path, err)
		}
		t.asserted = t.selected
		w, r = w[n:], r[n:]
	}
	return nil
}

// Select implements sdspi.Bus. The kernel only drops chip-select at the end
// of a packet, so releasing a selected card clocks one idle byte.
func (t *Transport) Select(selected bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("select", busName)
	}
	if !selected && t.asserted {
		if err := t.release(); err != nil {
			return err
		}
	}
	t.selected = selected
	return nil
}

func (t *Transport) release() error {
	err := t.link.TxPackets([]spi.Packet{{W: []byte{0xFF}, R: make([]byte, 1), KeepCS: false}})
	if err != nil {
		return fmt.Errorf("failed to release chip-select on %s: %w", t.path, err)
	}
	t.asserted = false
	return nil
}

// SetSpeed implements sdspi.SpeedSetter
func (t *Transport) SetSpeed(hz int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return sdspi.NewBusClosedError("set speed", busName)
	}
	if hz <= 0 || hz > int64(maxClock/physic.Hertz) {
		return fmt.Errorf("%w: clock %d Hz out of range", sdspi.ErrInvalidParameter, hz)
	}
	f := physic.Frequency(hz) * physic.Hertz
	if t.link != nil {
		if err := t.link.LimitSpeed(f); err != nil {
			return fmt.Errorf("failed to set SPI clock on %s: %w", t.path, err)
		}
	}
	t.speed = f
	return nil
}

// Close releases chip-select and closes the device node
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.asserted {
		_ = t.release()
	}
	if t.link == nil {
		return nil
	}
	err := t.link.Close()
	t.link = nil
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", t.path, err)
	}
	return nil
}

// Type implements sdspi.Bus
func (*Transport) Type() sdspi.BusType {
	return sdspi.BusSpidev
}

// String returns the device path
func (t *Transport) String() string {
	return t.path
}

var (
	_ sdspi.Bus         = (*Transport)(nil)
	_ sdspi.BulkBus     = (*Transport)(nil)
	_ sdspi.SpeedSetter = (*Transport)(nil)
	_ link              = (*sysfsLink)(nil)
)
