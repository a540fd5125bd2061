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

package periph_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	sdspi "github.com/ZaparooProject/go-sdspi"
	testutil "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/ZaparooProject/go-sdspi/simcard"
	"github.com/ZaparooProject/go-sdspi/transport/periph"
)

const maxTx = 64

// cardPort is an SPI port wired to a simulated card
type cardPort struct {
	card    *simcard.Card
	speeds  []physic.Frequency
	chunks  []int
	mode    spi.Mode
	bits    int
	mu      sync.Mutex
	closed  bool
	connect int
}

func (*cardPort) String() string { return "SPI-TEST" }

func (p *cardPort) Connect(_ physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connect++
	p.mode = mode
	p.bits = bits
	return p, nil
}

func (p *cardPort) LimitSpeed(f physic.Frequency) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speeds = append(p.speeds, f)
	return nil
}

func (p *cardPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *cardPort) Tx(w, r []byte) error {
	p.mu.Lock()
	p.chunks = append(p.chunks, len(w))
	p.mu.Unlock()
	return p.card.Transfer(w, r)
}

func (*cardPort) Duplex() conn.Duplex { return conn.Full }

func (p *cardPort) TxPackets(packets []spi.Packet) error {
	for _, pk := range packets {
		if err := p.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (*cardPort) MaxTxSize() int { return maxTx }

// csPin forwards chip-select levels to the simulated card
type csPin struct {
	*gpiotest.Pin
	card *simcard.Card
}

func (p *csPin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	return p.card.Select(l == gpio.Low)
}

func newTransport(t *testing.T, opts ...periph.Option) (*periph.Transport, *cardPort, *csPin) {
	t.Helper()
	card, err := simcard.NewMemory(2048, simcard.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = card.Close() })

	port := &cardPort{card: card}
	cs := &csPin{Pin: &gpiotest.Pin{N: "GPIO8", Num: 8}, card: card}
	tr, err := periph.NewFromPort(port, cs, opts...)
	require.NoError(t, err)
	return tr, port, cs
}

func TestNewFromPort(t *testing.T) {
	t.Parallel()

	tr, port, cs := newTransport(t)

	assert.Equal(t, 1, port.connect)
	assert.Equal(t, spi.Mode0|spi.NoCS, port.mode)
	assert.Equal(t, 8, port.bits)
	assert.Equal(t, []physic.Frequency{400 * physic.KiloHertz}, port.speeds)
	assert.Equal(t, gpio.High, cs.Read())
	assert.Equal(t, sdspi.BusPeriph, tr.Type())
	assert.Equal(t, "SPI-TEST", tr.String())
}

func TestNewFromPort_NilArguments(t *testing.T) {
	t.Parallel()

	_, err := periph.NewFromPort(nil, &gpiotest.Pin{})
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)

	_, err = periph.NewFromPort(&cardPort{}, nil)
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
}

func TestTransport_Select(t *testing.T) {
	t.Parallel()

	tr, _, cs := newTransport(t)

	require.NoError(t, tr.Select(true))
	assert.Equal(t, gpio.Low, cs.Read())
	require.NoError(t, tr.Select(false))
	assert.Equal(t, gpio.High, cs.Read())
}

func TestTransport_TransferSplitsLongBuffers(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTransport(t)

	w := bytes.Repeat([]byte{0xFF}, 150)
	r := make([]byte, len(w))
	require.NoError(t, tr.Transfer(w, r))
	assert.Equal(t, []int{64, 64, 22}, port.chunks)
	assert.Equal(t, w, r)

	require.NoError(t, tr.Transfer(w[:4], nil))

	err := tr.Transfer(w[:4], r[:3])
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
}

func TestTransport_DriveCard(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTransport(t)

	device, err := sdspi.New(tr, sdspi.WithDataSpeed(20_000_000))
	require.NoError(t, err)
	require.NoError(t, device.Init())
	assert.Equal(t, sdspi.CardTypeSDHC, device.Info().Type)
	assert.Equal(t, 20*physic.MegaHertz, port.speeds[len(port.speeds)-1])

	want := testutil.PatternSector(77)
	require.NoError(t, device.WriteBlock(77, want))

	got := make([]byte, sdspi.SectorSize)
	require.NoError(t, device.ReadBlock(77, got))
	assert.Equal(t, want, got)

	for _, n := range port.chunks {
		assert.LessOrEqual(t, n, maxTx)
	}
}

func TestTransport_Closed(t *testing.T) {
	t.Parallel()

	tr, port, cs := newTransport(t)
	require.NoError(t, tr.Select(true))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
	assert.Equal(t, gpio.High, cs.Read())

	_, err := tr.TransferByte(0xFF)
	require.ErrorIs(t, err, sdspi.ErrBusClosed)
	require.ErrorIs(t, tr.Select(true), sdspi.ErrBusClosed)
	require.ErrorIs(t, tr.SetSpeed(1_000_000), sdspi.ErrBusClosed)
}

func TestTransport_SetSpeed(t *testing.T) {
	t.Parallel()

	tr, port, _ := newTransport(t)

	require.NoError(t, tr.SetSpeed(8_000_000))
	assert.Equal(t, 8*physic.MegaHertz, port.speeds[len(port.speeds)-1])
	require.ErrorIs(t, tr.SetSpeed(0), sdspi.ErrInvalidParameter)
}
