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

// Package polling watches a card slot for insertion, removal and swaps by
// polling the card between caller operations.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNoCard is returned by Do while no card is present
	ErrNoCard = errors.New("no card present")
	// ErrMonitorClosed is returned after Close
	ErrMonitorClosed = errors.New("monitor closed")
)

// Event is what a single poll observed
type Event int

const (
	EventNone Event = iota
	EventInserted
	EventRemoved
	EventChanged
)

// String returns the event name
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventInserted:
		return "inserted"
	case EventRemoved:
		return "removed"
	case EventChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Config holds the polling parameters
type Config struct {
	// PollInterval is the wait between polls
	PollInterval time.Duration
	// RemovalThreshold is the number of consecutive failed polls before a
	// present card is reported removed
	RemovalThreshold int
}

// DefaultConfig returns default polling configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     500 * time.Millisecond,
		RemovalThreshold: 2,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: PollInterval must be positive", sdspi.ErrInvalidParameter)
	}
	if c.RemovalThreshold < 1 {
		return fmt.Errorf("%w: RemovalThreshold must be at least 1", sdspi.ErrInvalidParameter)
	}
	return nil
}

// Metrics tracks operational statistics
type Metrics struct {
	PollCycles      int64
	PollErrors      int64
	CardsDetected   int64
	CallbackErrors  int64
	LastPollLatency time.Duration
}

// Monitor polls one device. Between polls it hands the device out through
// Do, so callers never touch the device concurrently with a poll.
type Monitor struct {
	device         *sdspi.Device
	config         *Config
	OnCardInserted func(info sdspi.CardInfo) error
	OnCardRemoved  func()
	OnCardChanged  func(info sdspi.CardInfo) error
	state          CardState
	mu             sync.Mutex
	closed         bool

	pollCycles      int64
	pollErrors      int64
	cardsDetected   int64
	callbackErrors  int64
	lastPollLatency int64
}

// NewMonitor creates a monitor for device. A nil config uses DefaultConfig.
func NewMonitor(device *sdspi.Device, config *Config) (*Monitor, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: nil device", sdspi.ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{device: device, config: config}, nil
}

// Start polls until ctx is done
func (m *Monitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one polling cycle and dispatches the callback for what it saw.
// It only fails when ctx is done or the monitor is closed; card failures
// are state changes.
func (m *Monitor) Poll(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return EventNone, err
	}

	start := time.Now()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return EventNone, ErrMonitorClosed
	}
	event := m.poll(ctx)
	state := m.state
	m.mu.Unlock()

	atomic.AddInt64(&m.pollCycles, 1)
	atomic.StoreInt64(&m.lastPollLatency, int64(time.Since(start)))
	if ctx.Err() != nil {
		return event, ctx.Err()
	}

	m.dispatch(event, state.Info)
	return event, nil
}

func (m *Monitor) poll(ctx context.Context) Event {
	if !m.state.Present {
		info, identity, err := m.bringUp(ctx)
		if err != nil {
			log.Debugf("no card: %v", err)
			return EventNone
		}
		m.state.TransitionToPresent(info, identity)
		return EventInserted
	}

	if m.device.State() == sdspi.StateReady {
		status, err := m.device.Status(ctx)
		if err == nil {
			if !status.OK() {
				log.Warnf("card reports %v", status.Flags())
			}
			m.state.TransitionToPresent(m.state.Info, m.state.Identity)
			return EventNone
		}
		atomic.AddInt64(&m.pollErrors, 1)
		log.Debugf("card status failed: %v", err)
	}

	// The card stopped answering. It may have glitched, been swapped, or
	// been pulled; a fresh init tells these apart.
	info, identity, err := m.bringUp(ctx)
	if err == nil {
		previous := m.state.Identity
		m.state.TransitionToPresent(info, identity)
		if identity != previous {
			return EventChanged
		}
		return EventNone
	}

	m.state.TransitionToFailing()
	if m.state.Failures < m.config.RemovalThreshold {
		return EventNone
	}
	m.state.TransitionToEmpty()
	return EventRemoved
}

// bringUp initializes the card and works out its identity
func (m *Monitor) bringUp(ctx context.Context) (sdspi.CardInfo, string, error) {
	if err := m.device.InitContext(ctx); err != nil {
		return sdspi.CardInfo{}, "", err
	}
	if _, err := m.device.ReadCID(ctx); err != nil {
		log.Debugf("cannot read CID: %v", err)
	}
	info := m.device.Info()
	return info, identify(info), nil
}

// identify names a card well enough to notice a swap
func identify(info sdspi.CardInfo) string {
	id := fmt.Sprintf("%s/%d", info.Type, info.SectorCount)
	if cid := info.CID; cid != nil {
		id += fmt.Sprintf("/%02X/%s/%s/%08X", cid.Manufacturer, cid.OEMID, cid.ProductName, cid.Serial)
	}
	return id
}

func (m *Monitor) dispatch(event Event, info sdspi.CardInfo) {
	var err error
	switch event {
	case EventInserted:
		atomic.AddInt64(&m.cardsDetected, 1)
		if m.OnCardInserted != nil {
			err = m.OnCardInserted(info)
		}
	case EventChanged:
		atomic.AddInt64(&m.cardsDetected, 1)
		if m.OnCardChanged != nil {
			err = m.OnCardChanged(info)
		}
	case EventRemoved:
		if m.OnCardRemoved != nil {
			m.OnCardRemoved()
		}
	case EventNone:
	}
	if err != nil {
		atomic.AddInt64(&m.callbackErrors, 1)
		log.Warnf("%s callback failed: %v", event, err)
	}
}

// Do runs fn with exclusive use of the device while a card is present
func (m *Monitor) Do(fn func(dev *sdspi.Device) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrMonitorClosed
	}
	if !m.state.Present {
		return ErrNoCard
	}
	return fn(m.device)
}

// GetState returns the current card state
func (m *Monitor) GetState() CardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetMetrics returns current operational metrics
func (m *Monitor) GetMetrics() Metrics {
	return Metrics{
		PollCycles:      atomic.LoadInt64(&m.pollCycles),
		PollErrors:      atomic.LoadInt64(&m.pollErrors),
		CardsDetected:   atomic.LoadInt64(&m.cardsDetected),
		CallbackErrors:  atomic.LoadInt64(&m.callbackErrors),
		LastPollLatency: time.Duration(atomic.LoadInt64(&m.lastPollLatency)),
	}
}

// Close stops further polls and closes the device
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.state.TransitionToEmpty()
	if err := m.device.Close(); err != nil {
		return fmt.Errorf("failed to close device: %w", err)
	}
	return nil
}
