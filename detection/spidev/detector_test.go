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
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

func newTestDetector(t *testing.T, nodes ...string) (*detector, string) {
	t.Helper()
	dir := t.TempDir()
	for _, node := range nodes {
		require.NoError(t, os.WriteFile(filepath.Join(dir, node), nil, 0o600))
	}
	return &detector{
		glob:      filepath.Join(dir, "spidev*"),
		supported: true,
		access:    func(string) bool { return true },
		open: func(string) (sdspi.Bus, error) {
			card, err := simcard.NewMemory(1024, simcard.DefaultConfig())
			if err != nil {
				return nil, err
			}
			return card, nil
		},
	}, dir
}

func TestDetect_Passive(t *testing.T) {
	t.Parallel()

	d, dir := newTestDetector(t, "spidev0.0", "spidev1.2", "spidev-bogus", "i2c-1")
	opts := detection.DefaultOptions()
	opts.IgnorePaths = []string{filepath.Join(dir, "spidev1.2")}

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)

	assert.Equal(t, "spidev", devices[0].Transport)
	assert.Equal(t, filepath.Join(dir, "spidev0.0"), devices[0].Path)
	assert.Equal(t, "SPI bus 0 chip-select 0", devices[0].Name)
	assert.Equal(t, detection.Medium, devices[0].Confidence)
	assert.Equal(t, "0", devices[0].Metadata["chip_select"])
}

func TestDetect_FullProbesCard(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, "spidev0.1")
	opts := detection.Options{Mode: detection.Full}

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.High, devices[0].Confidence)
	assert.Equal(t, sdspi.CardTypeSDHC.String(), devices[0].Metadata["card_type"])
	assert.Equal(t, "1024", devices[0].Metadata["sectors"])
}

func TestDetect_SafeDropsUnopenable(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, "spidev0.0")
	d.open = func(string) (sdspi.Bus, error) { return nil, errors.New("permission denied") }
	opts := detection.Options{Mode: detection.Safe}

	_, err := d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrNoDevicesFound)
}

func TestDetect_PassiveFlagsDeniedNodes(t *testing.T) {
	t.Parallel()

	d, _ := newTestDetector(t, "spidev0.0")
	d.access = func(string) bool { return false }
	opts := detection.Options{Mode: detection.Passive}

	devices, err := d.Detect(context.Background(), &opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, detection.Low, devices[0].Confidence)
	assert.Equal(t, "denied", devices[0].Metadata["access"])
}

func TestDetect_Unsupported(t *testing.T) {
	t.Parallel()

	d := &detector{}
	opts := detection.DefaultOptions()
	_, err := d.Detect(context.Background(), &opts)
	require.ErrorIs(t, err, detection.ErrUnsupportedPlatform)
	assert.Equal(t, "spidev", New().Transport())
}
