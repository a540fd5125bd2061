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

package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	sdspi "github.com/ZaparooProject/go-sdspi"
	testutil "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

type pirateMode int

const (
	modeTerminal pirateMode = iota
	modeBitbang
	modeSPI
)

// fakePirate emulates a Bus Pirate in binary SPI mode with a simulated card
// on its SPI pins
type fakePirate struct {
	card        *simcard.Card
	out         []byte
	bulkSizes   []int
	mode        pirateMode
	zeros       int
	bannerAfter int
	pendingBulk int
	speedCode   byte
	config      byte
	periph      byte
	mu          sync.Mutex
	nackBulk    bool
	closed      bool
}

func newFakePirate(t *testing.T) *fakePirate {
	t.Helper()
	card, err := simcard.NewMemory(2048, simcard.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = card.Close() })
	return &fakePirate{card: card, bannerAfter: 3}
}

func (p *fakePirate) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range data {
		if err := p.clock(b); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (p *fakePirate) clock(b byte) error {
	if p.pendingBulk > 0 {
		p.pendingBulk--
		in, err := p.card.TransferByte(b)
		if err != nil {
			return err
		}
		p.out = append(p.out, in)
		return nil
	}

	switch p.mode {
	case modeTerminal:
		if b == cmdReset {
			p.zeros++
			if p.zeros >= p.bannerAfter {
				p.out = append(p.out, bitbangBanner...)
				p.mode = modeBitbang
			}
		}
	case modeBitbang:
		switch b {
		case cmdReset:
			p.out = append(p.out, bitbangBanner...)
		case cmdSPIMode:
			p.out = append(p.out, spiBanner...)
			p.mode = modeSPI
		case cmdExit:
			p.out = append(p.out, ack)
			p.mode = modeTerminal
			p.zeros = 0
		}
	case modeSPI:
		return p.spiCommand(b)
	}
	return nil
}

func (p *fakePirate) spiCommand(b byte) error {
	switch {
	case b == cmdReset:
		p.out = append(p.out, bitbangBanner...)
		p.mode = modeBitbang
		return nil
	case b == cmdCSLow, b == cmdCSHigh:
		if err := p.card.Select(b == cmdCSLow); err != nil {
			return err
		}
	case b&0xF0 == cmdBulk:
		if p.nackBulk {
			p.out = append(p.out, 0x00)
			return nil
		}
		p.pendingBulk = int(b&0x0F) + 1
		p.bulkSizes = append(p.bulkSizes, p.pendingBulk)
	case b&0xF0 == cmdPeriph:
		p.periph = b
	case b&0xF8 == cmdSpeed:
		p.speedCode = b & 0x07
	case b&0xF0 == cmdSPIConfig:
		p.config = b
	default:
		p.out = append(p.out, 0x00)
		return nil
	}
	p.out = append(p.out, ack)
	return nil
}

func (p *fakePirate) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(buf, p.out)
	p.out = p.out[n:]
	return n, nil
}

func (p *fakePirate) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = nil
	return nil
}

func (p *fakePirate) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (*fakePirate) SetMode(*serial.Mode) error         { return nil }
func (*fakePirate) Drain() error                       { return nil }
func (*fakePirate) ResetOutputBuffer() error           { return nil }
func (*fakePirate) SetDTR(bool) error                  { return nil }
func (*fakePirate) SetRTS(bool) error                  { return nil }
func (*fakePirate) SetReadTimeout(time.Duration) error { return nil }
func (*fakePirate) Break(time.Duration) error          { return nil }

func (*fakePirate) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

var _ serial.Port = (*fakePirate)(nil)

func TestSpeedCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		hz       int64
		wantCode byte
		wantRate int64
	}{
		{name: "Init_Clock", hz: 400_000, wantCode: 2, wantRate: 250_000},
		{name: "Exact_Rate", hz: 1_000_000, wantCode: 3, wantRate: 1_000_000},
		{name: "Between_Rates", hz: 3_000_000, wantCode: 5, wantRate: 2_600_000},
		{name: "Above_Fastest", hz: 25_000_000, wantCode: 7, wantRate: 8_000_000},
		{name: "Below_Slowest", hz: 10_000, wantCode: 0, wantRate: 30_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rate := SpeedCode(tt.hz)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantRate, rate)
		})
	}
}

func TestNewFromPort_Handshake(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	tr, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.NoError(t, err)

	assert.Equal(t, modeSPI, pirate.mode)
	assert.Equal(t, byte(0x8A), pirate.config)
	assert.Equal(t, byte(0x49), pirate.periph)
	assert.Equal(t, byte(2), pirate.speedCode)
	assert.Equal(t, int64(250_000), tr.Rate())
	assert.Equal(t, sdspi.BusBridge, tr.Type())
	assert.Equal(t, "/dev/ttyUSB0", tr.String())
}

func TestNewFromPort_NoBanner(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	pirate.bannerAfter = resetRetries + 1

	_, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.ErrorIs(t, err, ErrBridgeProtocol)

	_, err = NewFromPort(nil, "")
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
}

func TestTransport_BulkChunks(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	tr, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.NoError(t, err)

	w := make([]byte, 40)
	for i := range w {
		w[i] = 0xFF
	}
	r := make([]byte, len(w))
	require.NoError(t, tr.Transfer(w, r))
	assert.Equal(t, []int{16, 16, 8}, pirate.bulkSizes)
	assert.Equal(t, w, r)

	require.ErrorIs(t, tr.Transfer(w, r[:2]), sdspi.ErrInvalidParameter)
}

func TestTransport_BulkNack(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	tr, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.NoError(t, err)

	pirate.nackBulk = true
	_, err = tr.TransferByte(0xFF)
	require.ErrorIs(t, err, ErrBridgeProtocol)
}

func TestTransport_DriveCard(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	tr, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.NoError(t, err)

	device, err := sdspi.New(tr, sdspi.WithDataSpeed(8_000_000))
	require.NoError(t, err)
	require.NoError(t, device.Init())
	assert.Equal(t, sdspi.CardTypeSDHC, device.Info().Type)
	assert.Equal(t, byte(7), pirate.speedCode)

	want := testutil.PatternSector(300)
	require.NoError(t, device.WriteBlock(300, want))

	got := make([]byte, sdspi.SectorSize)
	require.NoError(t, device.ReadBlock(300, got))
	assert.Equal(t, want, got)
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	pirate := newFakePirate(t)
	tr, err := NewFromPort(pirate, "/dev/ttyUSB0")
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, pirate.closed)
	assert.Equal(t, modeTerminal, pirate.mode)

	_, err = tr.TransferByte(0xFF)
	require.ErrorIs(t, err, sdspi.ErrBusClosed)
	require.ErrorIs(t, tr.Select(true), sdspi.ErrBusClosed)
	require.ErrorIs(t, tr.SetSpeed(1_000_000), sdspi.ErrBusClosed)
}
