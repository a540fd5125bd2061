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

// Package poll provides the bounded polling primitive shared by every phase
// of the card protocol
package poll

import "errors"

// ErrExhausted is returned when the attempt budget runs out before the
// predicate is satisfied. Callers translate it into their own timeout kind.
var ErrExhausted = errors.New("attempt budget exhausted")

// Operation performs one attempt.
// Returns: value, done, error
// - value: the observed value of this attempt
// - done: true if the value satisfies the caller and polling should stop
// - error: a hard failure that must stop polling immediately
type Operation[T any] func() (T, bool, error)

// Budget configures a polling loop
type Budget struct {
	// OnAttempt is invoked between attempts, e.g. to clock fill bytes
	OnAttempt func() error
	// Description names the loop for diagnostics
	Description string
	// Attempts is the maximum number of times the operation runs
	Attempts int
}

// Result reports how a polling loop ended
type Result[T any] struct {
	Value    T
	Attempts int
}

// Until runs op until it reports done, fails, or the budget is exhausted.
// There is no sleeping: each attempt costs exactly what op costs. On
// exhaustion the last observed value is returned together with ErrExhausted.
func Until[T any](budget Budget, op Operation[T]) (Result[T], error) {
	var res Result[T]

	for attempt := 1; attempt <= budget.Attempts; attempt++ {
		value, done, err := op()
		res.Value = value
		res.Attempts = attempt
		if err != nil {
			return res, err
		}
		if done {
			return res, nil
		}

		if attempt < budget.Attempts && budget.OnAttempt != nil {
			if err := budget.OnAttempt(); err != nil {
				return res, err
			}
		}
	}

	return res, ErrExhausted
}

// Byte polls a byte source until accept returns true. It is the common shape
// of waiting for a response byte, a start token or the end of busy.
func Byte(attempts int, read func() (byte, error), accept func(byte) bool) (Result[byte], error) {
	return Until(Budget{Attempts: attempts}, func() (byte, bool, error) {
		b, err := read()
		if err != nil {
			return b, false, err
		}
		return b, accept(b), nil
	})
}
