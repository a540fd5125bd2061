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

package control

import (
	"fmt"

	sdspi "github.com/ZaparooProject/go-sdspi"
)

// Status is the body of GET /status and PUT /init
type Status struct {
	Card     *CardIdentity `json:"card,omitempty"`
	Bus      string        `json:"bus"`
	State    string        `json:"state"`
	Type     string        `json:"type"`
	OCR      string        `json:"ocr,omitempty"`
	Capacity uint64        `json:"capacity"`
	Sectors  uint32        `json:"sectors"`
}

// CardIdentity carries the decoded CID register
type CardIdentity struct {
	OEM          string `json:"oem"`
	Product      string `json:"product"`
	Revision     string `json:"revision"`
	Manufactured string `json:"manufactured"`
	Manufacturer uint8  `json:"manufacturer"`
	Serial       uint32 `json:"serial"`
}

// ErrorReply is the body of every failed request
type ErrorReply struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func newStatus(bus sdspi.BusType, info sdspi.CardInfo) *Status {
	s := &Status{
		Bus:      string(bus),
		State:    info.State.String(),
		Type:     info.Type.String(),
		Sectors:  info.SectorCount,
		Capacity: info.CapacityBytes(),
	}
	if info.OCR != 0 {
		s.OCR = fmt.Sprintf("0x%08X", info.OCR)
	}
	if cid := info.CID; cid != nil {
		s.Card = &CardIdentity{
			Manufacturer: cid.Manufacturer,
			OEM:          cid.OEMID,
			Product:      cid.ProductName,
			Revision:     cid.RevisionString(),
			Serial:       cid.Serial,
			Manufactured: cid.Manufactured.Format("2006-01"),
		}
	}
	return s
}

// String renders the status for plain text clients
func (s *Status) String() string {
	out := fmt.Sprintf("bus: %s\nstate: %s\ntype: %s\nsectors: %d\ncapacity: %d bytes",
		s.Bus, s.State, s.Type, s.Sectors, s.Capacity)
	if s.Card != nil {
		out += fmt.Sprintf("\ncard: %s %s rev %s serial %08X (%s)",
			s.Card.OEM, s.Card.Product, s.Card.Revision, s.Card.Serial, s.Card.Manufactured)
	}
	return out
}
