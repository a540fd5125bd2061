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

package spidev

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	sdspi "github.com/ZaparooProject/go-sdspi"
	testutil "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

// kernelNode drives a simulated card the way the spidev driver drives
// chip-select. On a link without NO_CS it is asserted for each packet and
// left asserted after the last packet only when that packet has KeepCS.
type kernelNode struct {
	card     *simcard.Card
	failWith error
	dialErr  error
	maxTx    int
	dials    []bool
	speeds   []physic.Frequency
	packets  []spi.Packet
	active   bool
	open     int
}

func (n *kernelNode) dial(noCS bool) (link, error) {
	if n.dialErr != nil {
		return nil, n.dialErr
	}
	n.dials = append(n.dials, noCS)
	n.open++
	return &kernelLink{node: n, noCS: noCS}, nil
}

type kernelLink struct {
	node   *kernelNode
	noCS   bool
	closed bool
}

func (l *kernelLink) TxPackets(p []spi.Packet) error {
	n := l.node
	if l.closed {
		return errors.New("link closed")
	}
	if n.failWith != nil {
		return n.failWith
	}
	for i, pk := range p {
		n.packets = append(n.packets, pk)
		if !l.noCS && !n.active {
			if err := n.card.Select(true); err != nil {
				return err
			}
			n.active = true
		}
		if err := n.card.Transfer(pk.W, pk.R); err != nil {
			return err
		}
		if !l.noCS && pk.KeepCS != (i == len(p)-1) {
			n.active = false
			if err := n.card.Select(false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *kernelLink) LimitSpeed(f physic.Frequency) error {
	l.node.speeds = append(l.node.speeds, f)
	return nil
}

func (l *kernelLink) MaxTxSize() int {
	return l.node.maxTx
}

func (l *kernelLink) Close() error {
	if !l.closed {
		l.closed = true
		l.node.open--
	}
	return nil
}

func newTestTransport(t *testing.T) (*Transport, *kernelNode) {
	t.Helper()
	card, err := simcard.NewMemory(2048, simcard.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = card.Close() })

	node := &kernelNode{card: card}
	tr, err := newTransport(node.dial, "/dev/spidev0.0")
	require.NoError(t, err)
	return tr, node
}

func TestParseNode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		bus     int
		cs      int
		wantErr bool
	}{
		{name: "default node", path: "/dev/spidev0.0"},
		{name: "second bus", path: "/dev/spidev1.2", bus: 1, cs: 2},
		{name: "bare name", path: "spidev3.1", bus: 3, cs: 1},
		{name: "serial device", path: "/dev/ttyUSB0", wantErr: true},
		{name: "missing chip select", path: "/dev/spidev0", wantErr: true},
		{name: "not numeric", path: "/dev/spidevX.Y", wantErr: true},
		{name: "negative bus", path: "/dev/spidev-1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bus, cs, err := parseNode(tt.path)
			if tt.wantErr {
				require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bus, bus)
			assert.Equal(t, tt.cs, cs)
		})
	}
}

func TestNewTransport_OpensDeselected(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)

	assert.Equal(t, []bool{true}, node.dials)
	assert.Equal(t, []physic.Frequency{sdspi.InitClockHz * physic.Hertz}, node.speeds)
	assert.Equal(t, defaultMaxTx, tr.maxTx)
	assert.Equal(t, sdspi.BusSpidev, tr.Type())
	assert.Equal(t, "/dev/spidev0.0", tr.String())
}

func TestTransport_ChipSelectHandling(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)

	_, err := tr.TransferByte(0xFF)
	require.NoError(t, err)
	assert.False(t, node.packets[0].KeepCS)
	assert.False(t, node.active)
	assert.Equal(t, []bool{true}, node.dials)

	require.NoError(t, tr.Select(true))
	_, err = tr.TransferByte(0xFF)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, node.dials)
	assert.True(t, node.packets[1].KeepCS)
	assert.True(t, node.active)

	_, err = tr.TransferByte(0xFF)
	require.NoError(t, err)
	assert.True(t, node.active)

	require.NoError(t, tr.Select(false))
	assert.False(t, node.active)
	require.Len(t, node.packets, 4)
	assert.Equal(t, []byte{0xFF}, node.packets[3].W)
	assert.False(t, node.packets[3].KeepCS)
	assert.Equal(t, 1, node.open)

	_, err = tr.TransferByte(0xFF)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, node.dials)
	assert.False(t, node.active)
	assert.Equal(t, 1, node.open)
}

func TestTransport_SelectWithoutTraffic(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)

	require.NoError(t, tr.Select(true))
	require.NoError(t, tr.Select(false))
	assert.Empty(t, node.packets)
}

func TestTransport_ChunksToMaxTxSize(t *testing.T) {
	t.Parallel()

	card, err := simcard.NewMemory(2048, simcard.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = card.Close() })

	node := &kernelNode{card: card, maxTx: 4}
	tr, err := newTransport(node.dial, "/dev/spidev0.0")
	require.NoError(t, err)

	require.NoError(t, tr.Select(true))
	w := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	require.NoError(t, tr.Transfer(w, make([]byte, len(w))))

	require.Len(t, node.packets, 3)
	for _, pk := range node.packets {
		assert.True(t, pk.KeepCS)
		assert.LessOrEqual(t, len(pk.W), 4)
	}
	assert.True(t, node.active)
}

func TestTransport_DriveCard(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)

	device, err := sdspi.New(tr, sdspi.WithDataSpeed(10_000_000))
	require.NoError(t, err)
	require.NoError(t, device.Init())
	assert.Equal(t, sdspi.CardTypeSDHC, device.Info().Type)
	assert.Equal(t, 10*physic.MegaHertz, node.speeds[len(node.speeds)-1])

	want := testutil.PatternSector(9)
	require.NoError(t, device.WriteBlock(9, want))

	got := make([]byte, sdspi.SectorSize)
	require.NoError(t, device.ReadBlock(9, got))
	assert.Equal(t, want, got)
	assert.False(t, node.active)
	assert.Equal(t, 1, node.open)
}

func TestTransport_Errors(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)

	node.failWith = errors.New("EIO")
	_, err := tr.TransferByte(0xFF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/spidev0.0")
	node.failWith = nil

	err = tr.Transfer([]byte{1, 2}, make([]byte, 1))
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)

	require.ErrorIs(t, tr.SetSpeed(-5), sdspi.ErrInvalidParameter)

	node.dialErr = errors.New("permission denied")
	require.NoError(t, tr.Select(true))
	_, err = tr.TransferByte(0xFF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open /dev/spidev0.0")
	assert.Equal(t, 0, node.open)

	node.dialErr = nil
	_, err = tr.TransferByte(0xFF)
	require.NoError(t, err)
	assert.True(t, node.active)
}

func TestTransport_Close(t *testing.T) {
	t.Parallel()

	tr, node := newTestTransport(t)
	require.NoError(t, tr.Select(true))
	_, err := tr.TransferByte(0xFF)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 0, node.open)
	assert.False(t, node.active)

	_, err = tr.TransferByte(0xFF)
	require.ErrorIs(t, err, sdspi.ErrBusClosed)
	require.ErrorIs(t, tr.Select(false), sdspi.ErrBusClosed)
}
