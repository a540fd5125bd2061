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

package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/simcard"
)

type stubDetector struct {
	err       error
	name      string
	devices   []DeviceInfo
	delay     time.Duration
	sawMode   Mode
	sawCalled bool
}

func (s *stubDetector) Transport() string { return s.name }

func (s *stubDetector) Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	s.sawCalled = true
	s.sawMode = opts.Mode
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		case <-time.After(s.delay):
		}
	}
	return s.devices, s.err
}

func TestRunDetectors_MergesAndSorts(t *testing.T) {
	t.Parallel()

	a := &stubDetector{name: "a", devices: []DeviceInfo{
		{Transport: "a", Path: "/a1", Confidence: Low},
		{Transport: "a", Path: "/a0", Confidence: Low},
	}}
	b := &stubDetector{name: "b", devices: []DeviceInfo{{Transport: "b", Path: "/b", Confidence: High}}}
	c := &stubDetector{name: "c", err: ErrUnsupportedPlatform}

	opts := DefaultOptions()
	opts.Mode = Safe
	devices, err := runDetectors(context.Background(), []Detector{a, b, c}, &opts)
	require.NoError(t, err)

	paths := make([]string, 0, len(devices))
	for _, d := range devices {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"/b", "/a0", "/a1"}, paths)
	assert.Equal(t, Safe, a.sawMode)
	assert.True(t, c.sawCalled)
}

func TestRunDetectors_Empty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		list    []Detector
	}{
		{name: "No_Detectors", list: nil, wantErr: ErrNoDevicesFound},
		{name: "Nothing_Found", list: []Detector{&stubDetector{name: "x", err: ErrNoDevicesFound}}, wantErr: ErrNoDevicesFound},
		{name: "Detector_Failure", list: []Detector{&stubDetector{name: "x", err: errors.New("boom")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			devices, err := runDetectors(context.Background(), tt.list, nil)
			require.Error(t, err)
			assert.Empty(t, devices)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRunDetectors_Timeout(t *testing.T) {
	t.Parallel()

	slow := &stubDetector{name: "slow", delay: time.Minute}
	opts := Options{Timeout: 10 * time.Millisecond}

	_, err := runDetectors(context.Background(), []Detector{slow}, &opts)
	require.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	RegisterDetector(&stubDetector{name: "registry-test", devices: []DeviceInfo{{Transport: "registry-test", Path: "/x"}}})
	assert.Contains(t, Transports(), "registry-test")

	devices, err := DetectTransport(context.Background(), "registry-test", nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/x", devices[0].Path)

	_, err = DetectTransport(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrUnknownTransport)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, m := range []Mode{Passive, Safe, Full} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("aggressive")
	require.Error(t, err)
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestConfidence_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "medium", Medium.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "spidev:/dev/spidev0.0 (SPI, high confidence)",
		DeviceInfo{Transport: "spidev", Path: "/dev/spidev0.0", Name: "SPI", Confidence: High}.String())
}

func newCard(t *testing.T, kind simcard.Kind) *simcard.Card {
	t.Helper()
	cfg := simcard.DefaultConfig()
	cfg.Kind = kind
	card, err := simcard.NewMemory(2048, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = card.Close() })
	return card
}

func TestProbeCard(t *testing.T) {
	t.Parallel()

	card := newCard(t, simcard.KindSDv2)
	metadata, err := ProbeCard(context.Background(), card)
	require.NoError(t, err)

	assert.Equal(t, sdspi.CardTypeSDv2.String(), metadata["card_type"])
	assert.Equal(t, "2048", metadata["sectors"])
	assert.Equal(t, "1048576", metadata["capacity"])
	assert.Equal(t, "SIMSD", metadata["product"])
	assert.Equal(t, "12345678", metadata["serial"])
}

func TestProbeCard_NoCard(t *testing.T) {
	t.Parallel()

	_, err := ProbeCard(context.Background(), sdspi.NewMockBus())
	require.ErrorIs(t, err, sdspi.ErrProtocolTimeout)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	openErr := errors.New("permission denied")

	tests := []struct {
		name     string
		openErr  error
		mode     Mode
		card     bool
		wantKeep bool
		wantConf Confidence
	}{
		{name: "Passive_Never_Opens", mode: Passive, openErr: openErr, wantKeep: true, wantConf: Medium},
		{name: "Safe_Open_Fails", mode: Safe, openErr: openErr, wantKeep: false, wantConf: Medium},
		{name: "Safe_Opens", mode: Safe, wantKeep: true, wantConf: Medium},
		{name: "Full_With_Card", mode: Full, card: true, wantKeep: true, wantConf: High},
		{name: "Full_Without_Card", mode: Full, wantKeep: true, wantConf: Medium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opened := false
			open := func() (sdspi.Bus, error) {
				opened = true
				if tt.openErr != nil {
					return nil, tt.openErr
				}
				if tt.card {
					return newCard(t, simcard.KindSDHC), nil
				}
				return sdspi.NewMockBus(), nil
			}

			info := DeviceInfo{Transport: "spidev", Path: "/dev/spidev0.0", Confidence: Medium}
			opts := Options{Mode: tt.mode}
			keep := Probe(context.Background(), &info, &opts, open)

			assert.Equal(t, tt.wantKeep, keep)
			assert.Equal(t, tt.wantConf, info.Confidence)
			assert.Equal(t, tt.mode != Passive, opened)
			if tt.card {
				assert.Equal(t, sdspi.CardTypeSDHC.String(), info.Metadata["card_type"])
			}
		})
	}
}
