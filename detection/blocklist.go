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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBlocklist returns USB devices that must not be opened during
// detection, as VID:PID in hexadecimal
func DefaultBlocklist() []string {
	return []string{
		// Arduino boards reset when their port is opened
		"2341:0043",
		"2341:0001",
		// Prolific PL2303 adapters are commonly GPS receivers and modems
		"067B:2303",
	}
}

// USBID is a USB vendor and product ID pair
type USBID struct {
	VID uint16
	PID uint16
}

// String formats the pair as VID:PID
func (id USBID) String() string {
	return fmt.Sprintf("%04X:%04X", id.VID, id.PID)
}

// vidMarkers and pidMarkers are the labels USB descriptors put in front of
// the IDs, e.g. "VID:0403 PID:6001", "vendor=0403 product=6001" or the
// Windows hardware ID "USB\VID_0403&PID_6001"
var (
	vidMarkers = []string{"VID:", "VID=", "VID_", "VENDOR="}
	pidMarkers = []string{"PID:", "PID=", "PID_", "PRODUCT="}
)

// ParseUSBID extracts the ID pair from a descriptor in one of the labelled
// formats or a bare "1234:5678"
func ParseUSBID(descriptor string) (USBID, error) {
	upper := strings.ToUpper(strings.TrimSpace(descriptor))

	vid, vidOK := labelledHex(upper, vidMarkers)
	pid, pidOK := labelledHex(upper, pidMarkers)
	if vidOK && pidOK {
		return USBID{VID: vid, PID: pid}, nil
	}

	if v, p, found := strings.Cut(upper, ":"); found {
		vid, verr := strconv.ParseUint(v, 16, 16)
		pid, perr := strconv.ParseUint(p, 16, 16)
		if verr == nil && perr == nil {
			return USBID{VID: uint16(vid), PID: uint16(pid)}, nil
		}
	}
	return USBID{}, fmt.Errorf("no VID:PID in %q", descriptor)
}

func labelledHex(s string, markers []string) (uint16, bool) {
	for _, marker := range markers {
		idx := strings.Index(s, marker)
		if idx < 0 {
			continue
		}
		digits := s[idx+len(marker):]
		end := strings.IndexFunc(digits, func(r rune) bool {
			return !strings.ContainsRune("0123456789ABCDEF", r)
		})
		if end >= 0 {
			digits = digits[:end]
		}
		if v, err := strconv.ParseUint(digits, 16, 16); err == nil {
			return uint16(v), true
		}
	}
	return 0, false
}

// ParseVIDPID normalizes a descriptor to VID:PID, or returns "" when it
// holds no ID pair
func ParseVIDPID(descriptor string) string {
	id, err := ParseUSBID(descriptor)
	if err != nil {
		return ""
	}
	return id.String()
}

// IsBlocked reports whether the device vidpid appears in blocklist
func IsBlocked(vidpid string, blocklist []string) bool {
	id, err := ParseUSBID(vidpid)
	if err != nil {
		return false
	}
	for _, entry := range blocklist {
		if blocked, err := ParseUSBID(entry); err == nil && blocked == id {
			return true
		}
	}
	return false
}

// IsPathIgnored reports whether devicePath is one of ignorePaths. Paths are
// cleaned and compared case-insensitively, which covers both COM ports and
// periph port names.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := filepath.Clean(devicePath)
	for _, ignore := range ignorePaths {
		if ignore != "" && strings.EqualFold(device, filepath.Clean(ignore)) {
			return true
		}
	}
	return false
}
