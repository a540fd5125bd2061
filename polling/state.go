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

package polling

import (
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

// DetectionState is the monitor's view of the card slot
type DetectionState int

const (
	// StateEmpty means no card answers
	StateEmpty DetectionState = iota
	// StatePresent means an initialized card answered the last poll
	StatePresent
	// StateFailing means a present card missed polls but has not yet been
	// declared removed
	StateFailing
)

// String returns the state name
func (s DetectionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePresent:
		return "present"
	case StateFailing:
		return "failing"
	default:
		return "unknown"
	}
}

// CardState tracks the card in the slot
type CardState struct {
	LastSeen       time.Time
	Info           sdspi.CardInfo
	Identity       string
	Failures       int
	DetectionState DetectionState
	Present        bool
}

// TransitionToPresent records a card that answered
func (cs *CardState) TransitionToPresent(info sdspi.CardInfo, identity string) {
	cs.DetectionState = StatePresent
	cs.Present = true
	cs.Info = info
	cs.Identity = identity
	cs.Failures = 0
	cs.LastSeen = time.Now()
}

// TransitionToFailing counts a missed poll of a present card
func (cs *CardState) TransitionToFailing() {
	cs.DetectionState = StateFailing
	cs.Failures++
}

// TransitionToEmpty forgets the card
func (cs *CardState) TransitionToEmpty() {
	*cs = CardState{}
}
