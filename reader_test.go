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

package sdspi_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdspi "github.com/ZaparooProject/go-sdspi"
	testutil "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

func TestReadSector_Faults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		faults        simcard.Faults
		wantErr       error
		name          string
		wantKind      sdspi.Kind
		untouched     bool
		wantRetryable bool
	}{
		{
			name:      "Command_Rejected",
			faults:    simcard.Faults{Reject: map[byte]byte{17: 0x20}},
			wantErr:   sdspi.ErrCommandRejected,
			wantKind:  sdspi.KindCommandRejected,
			untouched: true,
		},
		{
			name:          "Command_Unanswered",
			faults:        simcard.Faults{Mute: map[byte]bool{17: true}},
			wantErr:       sdspi.ErrProtocolTimeout,
			wantKind:      sdspi.KindProtocolTimeout,
			untouched:     true,
			wantRetryable: true,
		},
		{
			name:          "No_Start_Token",
			faults:        simcard.Faults{NoStartToken: true},
			wantErr:       sdspi.ErrDataTimeout,
			wantKind:      sdspi.KindDataTimeout,
			untouched:     true,
			wantRetryable: true,
		},
		{
			name:      "Data_Error_Token",
			faults:    simcard.Faults{ReadErrorToken: 0x04},
			wantErr:   sdspi.ErrCommandRejected,
			wantKind:  sdspi.KindCommandRejected,
			untouched: true,
		},
		{
			name:          "Corrupt_CRC",
			faults:        simcard.Faults{CorruptReadCRC: true},
			wantErr:       sdspi.ErrCRCMismatch,
			wantKind:      sdspi.KindCRCError,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, card := newReadyDevice(t, simcard.KindSDHC, sdspi.WithReadTokenAttempts(64))
			require.NoError(t, card.WriteSectorImage(3, testutil.PatternSector(3)))
			card.SetFaults(tt.faults)

			buf := testutil.FilledSector(0xC3)
			err := device.ReadBlock(3, buf)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, sdspi.KindOf(err))
			assert.Equal(t, tt.wantRetryable, sdspi.IsRetryable(err))
			if tt.untouched {
				assert.Equal(t, testutil.FilledSector(0xC3), buf, "buffer must be untouched")
			}

			// The frame was fully drained, so the next command works.
			card.SetFaults(simcard.Faults{})
			require.NoError(t, device.ReadBlock(3, buf))
			assert.Equal(t, testutil.PatternSector(3), buf)
			assert.Equal(t, sdspi.StateReady, device.State())
		})
	}
}

func TestReadSector_DataTimeoutIsBounded(t *testing.T) {
	t.Parallel()

	device, card := newReadyDevice(t, simcard.KindSDHC, sdspi.WithReadTokenAttempts(100))
	card.SetFaults(simcard.Faults{NoStartToken: true})
	card.ResetLog()

	err := device.ReadBlock(0, make([]byte, sdspi.SectorSize))
	require.ErrorIs(t, err, sdspi.ErrDataTimeout)

	var pe *sdspi.PollError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 100, pe.Attempts)
	// command exchange, the token budget and the release byte
	assert.Less(t, card.Transfers(), 100+32)
}

func TestReadSector_OutOfRangeOnCard(t *testing.T) {
	t.Parallel()

	// Without the CSD the driver cannot range-check, so the card reports it.
	device, _ := newReadyDevice(t, simcard.KindSDHC, sdspi.WithReadCSD(false))
	assert.Zero(t, device.Info().SectorCount)

	buf := testutil.FilledSector(0x00)
	err := device.ReadBlock(testSectors+5, buf)
	require.ErrorIs(t, err, sdspi.ErrCommandRejected)

	var te *sdspi.TokenError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, byte(0x08), te.Token)
	assert.Contains(t, err.Error(), "out of range")
	assert.Equal(t, testutil.FilledSector(0x00), buf)
}

func TestReadSector_MockBus(t *testing.T) {
	t.Parallel()

	mock := sdspi.NewMockBus()
	mock.RespondAlways(0, 0x01)
	mock.Respond(8, testutil.BuildR7(0x01, 0x1AA)...)
	mock.RespondAlways(55, 0x01)
	mock.Respond(41, 0x00)
	mock.Respond(58, testutil.BuildR3(0x00, 0xC0FF8000)...)

	device, err := sdspi.New(mock, sdspi.WithReadCSD(false))
	require.NoError(t, err)
	require.NoError(t, device.Init())

	data := testutil.PatternSector(9)
	mock.Respond(17, testutil.BuildReadReply(data)...)

	got := make([]byte, sdspi.SectorSize)
	require.NoError(t, device.ReadBlock(9, got))
	assert.Equal(t, data, got)

	// Byte-at-a-time bus: the block is clocked one fill byte at a time.
	sent := mock.Sent()
	assert.True(t, bytes.Contains(sent, []byte{0x51, 0x00, 0x00, 0x00, 0x09}))
}
