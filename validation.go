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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrVerifyMismatch is returned when verification reads disagree with the
// data written or with each other
var ErrVerifyMismatch = errors.New("sector verification failed: data mismatch")

// ValidationConfig holds the caller-side reliability policy of a
// ValidatedDevice
type ValidationConfig struct {
	// RetryDelay specifies delay between retry attempts
	RetryDelay time.Duration

	// ReadRetries specifies max number of extra reads on validation failure
	ReadRetries int

	// WriteRetries specifies max number of write retries on verification failure
	WriteRetries int

	// EnableReadVerification requires two consecutive matching reads
	EnableReadVerification bool

	// EnableWriteVerification reads every written sector back
	EnableWriteVerification bool

	// Reinitialize re-runs Init before retrying once the card has dropped
	// out of the ready state or stopped answering
	Reinitialize bool
}

// DefaultValidationConfig returns default validation configuration
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		EnableReadVerification:  true,
		ReadRetries:             3,
		EnableWriteVerification: true,
		WriteRetries:            3,
		RetryDelay:              10 * time.Millisecond,
		Reinitialize:            true,
	}
}

// ValidationMetrics tracks validation statistics
type ValidationMetrics struct {
	LastValidation    time.Time
	TotalOperations   uint64
	FailedValidations uint64
	Retries           uint64
	Reinitializations uint64
}

// ValidatedDevice wraps a Device with verification and recovery. It is the
// place where retry policy lives; the Device underneath never retries.
type ValidatedDevice struct {
	*Device
	config  *ValidationConfig
	metrics ValidationMetrics
	mu      sync.RWMutex
}

// NewValidatedDevice wraps an existing device. The device does not need to
// be initialized yet; the first operation initializes it when Reinitialize
// is set.
func NewValidatedDevice(device *Device, config *ValidationConfig) (*ValidatedDevice, error) {
	if device == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultValidationConfig()
	}
	if config.ReadRetries < 0 || config.WriteRetries < 0 {
		return nil, fmt.Errorf("%w: retries must not be negative", ErrInvalidParameter)
	}
	return &ValidatedDevice{
		Device: device,
		config: config,
	}, nil
}

// GetValidationMetrics returns current validation metrics (thread-safe)
func (vd *ValidatedDevice) GetValidationMetrics() ValidationMetrics {
	vd.mu.RLock()
	defer vd.mu.RUnlock()
	return vd.metrics
}

func (vd *ValidatedDevice) record(success bool) {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	vd.metrics.TotalOperations++
	vd.metrics.LastValidation = time.Now()
	if !success {
		vd.metrics.FailedValidations++
	}
}

func (vd *ValidatedDevice) countRetry() {
	vd.mu.Lock()
	defer vd.mu.Unlock()
	vd.metrics.Retries++
}

// prepareRetry prepares the next attempt after err. It reports false when err
// cannot be helped by another attempt.
func (vd *ValidatedDevice) prepareRetry(ctx context.Context, err error) bool {
	needsInit := errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrProtocolTimeout) ||
		errors.Is(err, ErrWriteTimeout)
	if needsInit && vd.config.Reinitialize {
		debugf("re-initializing card after: %v", err)
		vd.mu.Lock()
		vd.metrics.Reinitializations++
		vd.mu.Unlock()
		if initErr := vd.InitContext(ctx); initErr != nil {
			debugf("re-initialization failed: %v", initErr)
		}
		return true
	}
	return IsRetryable(err) || errors.Is(err, ErrVerifyMismatch)
}

func (vd *ValidatedDevice) pause(ctx context.Context) error {
	if vd.config.RetryDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(vd.config.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReadSectorVerified reads a sector until two consecutive reads agree
func (vd *ValidatedDevice) ReadSectorVerified(ctx context.Context, lba uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidBuffer, len(buf))
	}

	err := vd.readVerified(ctx, lba, buf)
	vd.record(err == nil)
	return err
}

func (vd *ValidatedDevice) readVerified(ctx context.Context, lba uint32, buf []byte) error {
	var (
		previous []byte
		lastErr  error
	)
	scratch := make([]byte, SectorSize)
	required := 1
	if vd.config.EnableReadVerification {
		required = 2
	}
	matches := 0

	for attempt := 0; attempt <= vd.config.ReadRetries+required-1; attempt++ {
		if attempt > 0 {
			if err := vd.pause(ctx); err != nil {
				return fmt.Errorf("read verification aborted: %w", err)
			}
		}

		if err := vd.ReadBlockContext(ctx, lba, scratch); err != nil {
			lastErr = err
			matches = 0
			previous = nil
			if !vd.prepareRetry(ctx, err) {
				return err
			}
			vd.countRetry()
			continue
		}

		if previous != nil && bytes.Equal(previous, scratch) {
			matches++
		} else {
			matches = 1
			previous = append(previous[:0], scratch...)
		}
		if matches >= required {
			copy(buf, scratch)
			return nil
		}
		lastErr = ErrVerifyMismatch
	}

	return fmt.Errorf("read of sector %d not verified after %d retries: %w",
		lba, vd.config.ReadRetries, lastErr)
}

// WriteSectorVerified writes a sector and, when enabled, reads it back
func (vd *ValidatedDevice) WriteSectorVerified(ctx context.Context, lba uint32, data []byte) error {
	if len(data) != SectorSize {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidBuffer, len(data))
	}

	err := vd.writeVerified(ctx, lba, data)
	vd.record(err == nil)
	return err
}

func (vd *ValidatedDevice) writeVerified(ctx context.Context, lba uint32, data []byte) error {
	var lastErr error
	readBack := make([]byte, SectorSize)

	for attempt := 0; attempt <= vd.config.WriteRetries; attempt++ {
		if attempt > 0 {
			vd.countRetry()
			if err := vd.pause(ctx); err != nil {
				return fmt.Errorf("write verification aborted: %w", err)
			}
		}

		if err := vd.WriteBlockContext(ctx, lba, data); err != nil {
			lastErr = err
			if !vd.prepareRetry(ctx, err) {
				return err
			}
			continue
		}

		if !vd.config.EnableWriteVerification {
			return nil
		}

		if err := vd.ReadBlockContext(ctx, lba, readBack); err != nil {
			lastErr = err
			if !vd.prepareRetry(ctx, err) {
				return err
			}
			continue
		}
		if bytes.Equal(data, readBack) {
			return nil
		}
		lastErr = ErrVerifyMismatch
	}

	return fmt.Errorf("write of sector %d not verified after %d retries: %w",
		lba, vd.config.WriteRetries, lastErr)
}
