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

package sdspi

// CardState is the lifecycle state of the card as seen by the driver
type CardState int

const (
	// StateUninitialized is the state before Init and at the start of every Init
	StateUninitialized CardState = iota
	// StateIdle means the card answered the reset command and is initializing
	StateIdle
	// StateReady means sector reads and writes are allowed
	StateReady
	// StateError means initialization failed; only Init leaves this state
	StateError
)

// String returns the state name
func (s CardState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// CardType identifies the card generation detected during Init
type CardType int

const (
	CardTypeUnknown CardType = iota
	// CardTypeMMC is a MultiMediaCard initialized with CMD1
	CardTypeMMC
	// CardTypeSDv1 is a version 1.x standard capacity SD card
	CardTypeSDv1
	// CardTypeSDv2 is a version 2.0+ standard capacity SD card
	CardTypeSDv2
	// CardTypeSDHC is a high or extended capacity card (block addressed)
	CardTypeSDHC
)

// String returns the card type name
func (t CardType) String() string {
	switch t {
	case CardTypeMMC:
		return "MMC"
	case CardTypeSDv1:
		return "SDv1"
	case CardTypeSDv2:
		return "SDv2"
	case CardTypeSDHC:
		return "SDHC/SDXC"
	default:
		return "unknown"
	}
}

// BlockAddressed reports whether commands take a block index instead of a
// byte offset
func (t CardType) BlockAddressed() bool {
	return t == CardTypeSDHC
}

// transition moves the device to next and logs the change
func (d *Device) transition(next CardState) {
	if d.state != next {
		debugf("card state %s -> %s", d.state, next)
	}
	d.state = next
}
