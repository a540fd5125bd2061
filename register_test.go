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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdspi "github.com/ZaparooProject/go-sdspi"
	testutil "github.com/ZaparooProject/go-sdspi/internal/testing"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

func TestDecodeCSD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		raw         []byte
		wantSectors uint32
		wantRate    int64
		wantStruct  byte
		wantErr     bool
	}{
		{
			name:        "Version_2",
			raw:         testutil.CSDv2SDHC,
			wantSectors: 15523840,
			wantRate:    25_000_000,
			wantStruct:  1,
		},
		{
			name:        "Version_1",
			raw:         testutil.CSDv1SD,
			wantSectors: 1965056,
			wantRate:    25_000_000,
			wantStruct:  0,
		},
		{
			name:    "Short",
			raw:     make([]byte, 15),
			wantErr: true,
		},
		{
			name:    "Unknown_Structure",
			raw:     append([]byte{0xC0}, make([]byte, 15)...),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			csd, err := sdspi.DecodeCSD(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSectors, csd.SectorCount)
			assert.Equal(t, tt.wantRate, csd.MaxTransferRate)
			assert.Equal(t, tt.wantStruct, csd.Structure)
			assert.Equal(t, 512, csd.ReadBlockLength)
			assert.Equal(t, uint64(tt.wantSectors)*512, csd.CapacityBytes())
			assert.False(t, csd.WriteProtected)
		})
	}
}

func TestDecodeCID(t *testing.T) {
	t.Parallel()

	cid, err := sdspi.DecodeCID(testutil.CIDSandisk)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), cid.Manufacturer)
	assert.Equal(t, "SD", cid.OEMID)
	assert.Equal(t, "SU08G", cid.ProductName)
	assert.Equal(t, "8.0", cid.RevisionString())
	assert.Equal(t, uint32(0x1A2B3C4D), cid.Serial)
	assert.Equal(t, 2012, cid.Manufactured.Year())
	assert.Equal(t, time.July, cid.Manufactured.Month())

	_, err = sdspi.DecodeCID([]byte{1, 2, 3})
	require.ErrorIs(t, err, sdspi.ErrInvalidParameter)
}

func TestDevice_ReadRegisters(t *testing.T) {
	t.Parallel()

	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			device, _ := newReadyDevice(t, kind, sdspi.WithCRCCheck(true))
			ctx := context.Background()

			csd, err := device.ReadCSD(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint32(testSectors), csd.SectorCount)

			cid, err := device.ReadCID(ctx)
			require.NoError(t, err)
			assert.Equal(t, byte(0x1D), cid.Manufacturer)
			assert.Equal(t, "ZP", cid.OEMID)
			assert.Equal(t, "SIMSD", cid.ProductName)
			assert.Equal(t, "1.0", cid.RevisionString())
			assert.Equal(t, uint32(0x12345678), cid.Serial)
			assert.Equal(t, 2025, cid.Manufactured.Year())
			assert.Equal(t, time.October, cid.Manufactured.Month())
			assert.Same(t, cid, device.Info().CID)

			status, err := device.Status(ctx)
			require.NoError(t, err)
			assert.True(t, status.OK())
			assert.Equal(t, []string{"ready"}, status.Flags())
		})
	}
}

func TestDevice_CSDFailureDoesNotFailInit(t *testing.T) {
	t.Parallel()

	card := newCard(t, simcard.KindSDHC)
	card.SetFaults(simcard.Faults{Reject: map[byte]byte{9: 0x04}})

	device, err := sdspi.New(card)
	require.NoError(t, err)
	require.NoError(t, device.Init())
	assert.Equal(t, sdspi.StateReady, device.State())
	assert.Zero(t, device.Info().SectorCount)
	assert.Nil(t, device.Info().CSD)

	card.SetFaults(simcard.Faults{})
	_, err = device.ReadCSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(testSectors), device.Info().SectorCount)
}

func TestDevice_RegistersRequireReady(t *testing.T) {
	t.Parallel()

	card := newCard(t, simcard.KindSDHC)
	device, err := sdspi.New(card)
	require.NoError(t, err)

	_, err = device.ReadCSD(context.Background())
	require.ErrorIs(t, err, sdspi.ErrNotInitialized)
	_, err = device.ReadCID(context.Background())
	require.ErrorIs(t, err, sdspi.ErrNotInitialized)
	_, err = device.Status(context.Background())
	require.ErrorIs(t, err, sdspi.ErrNotInitialized)
	assert.Zero(t, card.Transfers())
}

func TestCardStatus_Flags(t *testing.T) {
	t.Parallel()

	status := sdspi.CardStatus{R1: 0x00, R2: 0x81}
	assert.False(t, status.OK())
	assert.Equal(t, []string{"card locked", "out of range"}, status.Flags())
}
