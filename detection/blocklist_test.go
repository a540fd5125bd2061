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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		ignore   []string
		expected bool
	}{
		{name: "empty ignore list", path: "/dev/ttyUSB0", expected: false},
		{name: "empty device path", path: "", ignore: []string{"/dev/ttyUSB0"}, expected: false},
		{name: "exact match", path: "/dev/spidev0.0", ignore: []string{"/dev/spidev0.0"}, expected: true},
		{name: "windows port", path: "com2", ignore: []string{"COM2"}, expected: true},
		{name: "periph port name", path: "SPI0.1", ignore: []string{"spi0.1"}, expected: true},
		{name: "relative components", path: "/dev/../dev/ttyUSB0", ignore: []string{"/dev/ttyUSB0"}, expected: true},
		{name: "no match", path: "/dev/ttyUSB1", ignore: []string{"/dev/ttyUSB0", "COM2"}, expected: false},
		{name: "empty entries skipped", path: "/dev/ttyUSB0", ignore: []string{"", "/dev/ttyUSB0"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.path, tt.ignore))
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.Nil(t, opts.IgnorePaths)
	assert.Equal(t, Passive, opts.Mode)
	assert.Equal(t, DefaultBlocklist(), opts.Blocklist)
	assert.Positive(t, opts.Timeout)
}

func TestParseUSBID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		descriptor string
		expected   USBID
		wantErr    bool
	}{
		{name: "bare", descriptor: "2341:0043", expected: USBID{0x2341, 0x0043}},
		{name: "lower case", descriptor: "067b:2303", expected: USBID{0x067B, 0x2303}},
		{name: "labelled", descriptor: "VID:0403 PID:6001", expected: USBID{0x0403, 0x6001}},
		{name: "key value", descriptor: "vendor=04d8 product=fb00", expected: USBID{0x04D8, 0xFB00}},
		{name: "windows hardware id", descriptor: `USB\VID_1209&PID_7331\5&1A2B`, expected: USBID{0x1209, 0x7331}},
		{name: "no ids", descriptor: "usb serial", wantErr: true},
		{name: "too wide", descriptor: "12345:1", wantErr: true},
		{name: "empty", descriptor: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := ParseUSBID(tt.descriptor)
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, ParseVIDPID(tt.descriptor))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
			assert.Equal(t, id.String(), ParseVIDPID(tt.descriptor))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		vidpid  string
		blocked bool
	}{
		{"2341:0043", true},
		{"067b:2303", true},
		{"VID:2341 PID:0001", true},
		{"0403:6001", false},
		{"garbage", false},
	}

	for _, tt := range tests {
		t.Run(tt.vidpid, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.blocked, IsBlocked(tt.vidpid, DefaultBlocklist()))
		})
	}
}
