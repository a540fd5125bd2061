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

import (
	"sync"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// MockBus is a scripted bus for testing the protocol engine without a card.
// It recognizes command frames in the outgoing byte stream and answers each
// one with the next reply registered for its index. Bytes queued with Queue
// are returned first; when nothing is pending the bus reads as idle (0xFF).
type MockBus struct {
	err       error
	replies   map[byte][][]byte
	sticky    map[byte][]byte
	queue     []byte
	sent      []byte
	partial   []byte
	commands  []byte
	selects   []bool
	transfers int
	failAfter int
	mu        sync.Mutex
	selected  bool
	closed    bool
}

// NewMockBus creates a mock bus with no scripted replies
func NewMockBus() *MockBus {
	return &MockBus{
		replies: make(map[byte][][]byte),
		sticky:  make(map[byte][]byte),
	}
}

// Respond registers a one-shot reply for the next command with index.
// Replies for the same index are consumed in registration order.
func (m *MockBus) Respond(index byte, reply ...byte) *MockBus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[index] = append(m.replies[index], append([]byte(nil), reply...))
	return m
}

// RespondAlways registers a reply used whenever no one-shot reply is left
func (m *MockBus) RespondAlways(index byte, reply ...byte) *MockBus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sticky[index] = append([]byte(nil), reply...)
	return m
}

// Queue appends raw bytes to be returned by the next transfers
func (m *MockBus) Queue(data ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, data...)
}

// SetError makes every transfer fail with err. A nil err clears it.
func (m *MockBus) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failAfter = 0
}

// FailAfter lets n transfers succeed and fails every later one with err
func (m *MockBus) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failAfter = n
}

// TransferByte implements Bus
func (m *MockBus) TransferByte(out byte) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return frame.Fill, NewBusClosedError("transfer", string(BusMock))
	}
	if m.err != nil && m.transfers >= m.failAfter {
		return frame.Fill, m.err
	}
	m.transfers++
	m.sent = append(m.sent, out)

	if m.collectFrame(out) {
		return frame.Fill, nil
	}
	if len(m.queue) > 0 {
		in := m.queue[0]
		m.queue = m.queue[1:]
		return in, nil
	}
	return frame.Fill, nil
}

// collectFrame assembles command frames. It reports whether out belonged to
// a frame, in which case the card is still listening and drives nothing.
func (m *MockBus) collectFrame(out byte) bool {
	if len(m.partial) == 0 && (out&0xC0 != frame.StartBits || !m.selected) {
		return false
	}
	m.partial = append(m.partial, out)
	if len(m.partial) < frame.CommandLength {
		return true
	}

	var cmd frame.Command
	copy(cmd[:], m.partial)
	m.partial = m.partial[:0]
	if !cmd.Valid() {
		return true
	}

	index := cmd.Index()
	m.commands = append(m.commands, index)
	if pending := m.replies[index]; len(pending) > 0 {
		m.queue = append(m.queue, pending[0]...)
		m.replies[index] = pending[1:]
	} else if reply, ok := m.sticky[index]; ok {
		m.queue = append(m.queue, reply...)
	}
	return true
}

// Select implements Bus
func (m *MockBus) Select(selected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewBusClosedError("select", string(BusMock))
	}
	m.selected = selected
	m.selects = append(m.selects, selected)
	if !selected {
		m.partial = m.partial[:0]
	}
	return nil
}

// Close implements Bus
func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Type implements Bus
func (*MockBus) Type() BusType {
	return BusMock
}

// Transfers returns the number of bytes exchanged so far
func (m *MockBus) Transfers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transfers
}

// Sent returns a copy of every byte shifted out
func (m *MockBus) Sent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.sent...)
}

// Commands returns the indexes of the valid command frames seen so far
func (m *MockBus) Commands() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.commands...)
}

// Selects returns the chip-select history
func (m *MockBus) Selects() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.selects...)
}

// Selected reports whether chip-select is currently asserted
func (m *MockBus) Selected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// ResetTraffic clears the recorded traffic but keeps the scripted replies
func (m *MockBus) ResetTraffic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.commands = nil
	m.selects = nil
	m.transfers = 0
}

var _ Bus = (*MockBus)(nil)
