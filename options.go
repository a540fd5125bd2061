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

import "fmt"

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithConfig replaces the whole device configuration
func WithConfig(config *DeviceConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidParameter)
		}
		cfg := *config
		d.config = &cfg
		return nil
	}
}

// WithResetAttempts sets how many times CMD0 is tried before Init fails
func WithResetAttempts(attempts int) Option {
	return func(d *Device) error {
		d.config.ResetAttempts = attempts
		return nil
	}
}

// WithResponseAttempts sets the NCR budget: fill bytes clocked while waiting
// for a command response
func WithResponseAttempts(attempts int) Option {
	return func(d *Device) error {
		d.config.ResponseAttempts = attempts
		return nil
	}
}

// WithOpCondAttempts sets the budget of the initialization loop
func WithOpCondAttempts(attempts int) Option {
	return func(d *Device) error {
		d.config.OpCondAttempts = attempts
		return nil
	}
}

// WithReadTokenAttempts sets the budget for the data start token
func WithReadTokenAttempts(attempts int) Option {
	return func(d *Device) error {
		d.config.ReadTokenAttempts = attempts
		return nil
	}
}

// WithBusyAttempts sets the budget for the busy wait after a write
func WithBusyAttempts(attempts int) Option {
	return func(d *Device) error {
		d.config.BusyAttempts = attempts
		return nil
	}
}

// WithCRCCheck makes the card verify command and data CRCs
func WithCRCCheck(enabled bool) Option {
	return func(d *Device) error {
		d.config.CRCCheck = enabled
		return nil
	}
}

// WithDataSpeed sets the bus clock used once the card is ready
func WithDataSpeed(hz int64) Option {
	return func(d *Device) error {
		d.config.DataSpeed = hz
		return nil
	}
}

// WithReadCSD controls whether Init reads the CSD register for the capacity
func WithReadCSD(enabled bool) Option {
	return func(d *Device) error {
		d.config.ReadCSD = enabled
		return nil
	}
}
