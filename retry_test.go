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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    1 * time.Microsecond,
		MaxBackoff:        10 * time.Microsecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      time.Second,
	}
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		errs      []error
		wantErr   error
		name      string
		attempts  int
		wantCalls int
	}{
		{
			name:      "First_Try",
			errs:      []error{nil},
			attempts:  3,
			wantCalls: 1,
		},
		{
			name:      "Retryable_Then_Success",
			errs:      []error{ErrDataTimeout, &CRCError{}, nil},
			attempts:  3,
			wantCalls: 3,
		},
		{
			name:      "Permanent_Error_Stops",
			errs:      []error{ErrCommandRejected, nil},
			attempts:  3,
			wantErr:   ErrCommandRejected,
			wantCalls: 1,
		},
		{
			name:      "Attempts_Exhausted",
			errs:      []error{ErrWriteTimeout, ErrWriteTimeout, ErrWriteTimeout},
			attempts:  3,
			wantErr:   ErrWriteTimeout,
			wantCalls: 3,
		},
		{
			name:      "Zero_Attempts_Calls_Once",
			errs:      []error{ErrProtocolTimeout},
			attempts:  0,
			wantErr:   ErrProtocolTimeout,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), fastRetryConfig(tt.attempts), func() error {
				e := tt.errs[calls]
				calls++
				return e
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetryWithConfig_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, fastRetryConfig(3), func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryWithConfig_NilConfig(t *testing.T) {
	t.Parallel()

	err := RetryWithConfig(context.Background(), nil, func() error {
		return errors.New("not a driver error")
	})
	require.Error(t, err)
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		attempt    int
		initial    time.Duration
		maxBackoff time.Duration
		multiplier float64
		want       time.Duration
	}{
		{name: "First", attempt: 0, initial: 10 * time.Millisecond, maxBackoff: time.Second, multiplier: 2, want: 10 * time.Millisecond},
		{name: "Third", attempt: 2, initial: 10 * time.Millisecond, maxBackoff: time.Second, multiplier: 2, want: 40 * time.Millisecond},
		{name: "Capped", attempt: 10, initial: 10 * time.Millisecond, maxBackoff: time.Second, multiplier: 2, want: time.Second},
		{name: "Negative_Attempt", attempt: -3, initial: 10 * time.Millisecond, maxBackoff: time.Second, multiplier: 2, want: 10 * time.Millisecond},
		{name: "Shrinking_Multiplier", attempt: 3, initial: 10 * time.Millisecond, maxBackoff: time.Second, multiplier: 0.5, want: 10 * time.Millisecond},
		{name: "No_Cap", attempt: 3, initial: time.Millisecond, maxBackoff: 0, multiplier: 10, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExponentialBackoff(tt.attempt, tt.initial, tt.maxBackoff, tt.multiplier))
		})
	}
}
