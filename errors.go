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
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-sdspi/internal/frame"
)

// Protocol errors. Every failure returned by the driver wraps one of these,
// so callers can discriminate with errors.Is or KindOf.
var (
	ErrProtocolTimeout = errors.New("no response from card")
	ErrNotInitialized  = errors.New("card not initialized")
	ErrCommandRejected = errors.New("command rejected by card")
	ErrDataTimeout     = errors.New("timeout waiting for data start token")
	ErrCRCMismatch     = errors.New("data CRC mismatch")
	ErrWriteRejected   = errors.New("write rejected by card")
	ErrWriteError      = errors.New("card reported write error")
	ErrWriteTimeout    = errors.New("card still busy after write")
)

// Argument and setup errors
var (
	ErrInvalidBuffer     = errors.New("sector buffer must be exactly 512 bytes")
	ErrAddressOutOfRange = errors.New("sector address out of range")
	ErrUnsupportedCard   = errors.New("unsupported card")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrBusClosed         = errors.New("bus closed")
	ErrBusTransfer       = errors.New("bus transfer failed")

	// ErrInitTimeout is returned when the card never leaves the idle state
	ErrInitTimeout = fmt.Errorf("card did not leave idle state: %w", ErrProtocolTimeout)
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypePermanent indicates an error that should not be retried
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout indicates a timeout that may succeed on retry
	ErrorTypeTimeout
)

// String returns the error type name
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// BusError wraps a failure of the underlying bus primitive
type BusError struct {
	Err       error
	Op        string
	Bus       string
	Type      ErrorType
	Retryable bool
}

// Error implements the error interface
func (e *BusError) Error() string {
	if e.Bus != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Bus, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *BusError) Unwrap() error {
	return e.Err
}

// NewBusError creates a new bus error
func NewBusError(op, bus string, err error, errType ErrorType) *BusError {
	return &BusError{
		Op:        op,
		Bus:       bus,
		Err:       err,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewBusClosedError creates an error for an operation on a closed bus
func NewBusClosedError(op, bus string) *BusError {
	return NewBusError(op, bus, ErrBusClosed, ErrorTypePermanent)
}

// CommandError reports a command that was rejected or never answered
type CommandError struct {
	Err error
	Op  string
	Cmd byte
	R1  byte
}

// Error implements the error interface
func (e *CommandError) Error() string {
	if errors.Is(e.Err, ErrProtocolTimeout) {
		return fmt.Sprintf("%s: %s: %v", e.Op, commandName(e.Cmd), e.Err)
	}
	return fmt.Sprintf("%s: %s: %v (R1=0x%02X: %s)",
		e.Op, commandName(e.Cmd), e.Err, e.R1, strings.Join(R1Flags(e.R1), ", "))
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

func newRejectedError(op string, cmd, r1 byte) *CommandError {
	return &CommandError{Op: op, Cmd: cmd, R1: r1, Err: ErrCommandRejected}
}

func newNoResponseError(op string, cmd byte) *CommandError {
	return &CommandError{Op: op, Cmd: cmd, R1: frame.Fill, Err: ErrProtocolTimeout}
}

// TokenError reports a data phase token that signals failure: a data error
// token in place of a start token, or a data response token that is not
// "accepted". Class is ErrCommandRejected or ErrWriteRejected; Err carries
// the detail (ErrCRCMismatch, ErrWriteError) when the token encodes one.
type TokenError struct {
	Class error
	Err   error
	Op    string
	Token byte
}

// Error implements the error interface
func (e *TokenError) Error() string {
	msg := fmt.Sprintf("%s: %v (token 0x%02X)", e.Op, e.Class, e.Token)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if errors.Is(e.Class, ErrCommandRejected) && frame.IsDataErrorToken(e.Token) {
		msg += " [" + strings.Join(DataErrorFlags(e.Token), ", ") + "]"
	}
	return msg
}

// Unwrap returns both the class and the detail so errors.Is matches either
func (e *TokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// PollError reports a bounded wait that ran out of attempts
type PollError struct {
	Err      error
	Op       string
	Phase    string
	Attempts int
	Last     byte
}

// Error implements the error interface
func (e *PollError) Error() string {
	return fmt.Sprintf("%s: %s: %v after %d attempts (last 0x%02X)",
		e.Op, e.Phase, e.Err, e.Attempts, e.Last)
}

// Unwrap returns the underlying error
func (e *PollError) Unwrap() error {
	return e.Err
}

// CRCError reports a data block whose trailer does not match its payload
type CRCError struct {
	Op       string
	Expected uint16
	Received uint16
}

// Error implements the error interface
func (e *CRCError) Error() string {
	return fmt.Sprintf("%s: %v (computed 0x%04X, received 0x%04X)",
		e.Op, ErrCRCMismatch, e.Expected, e.Received)
}

// Unwrap returns ErrCRCMismatch
func (*CRCError) Unwrap() error {
	return ErrCRCMismatch
}

// R1Flags decodes the error and status bits of an R1 response
func R1Flags(r1 byte) []string {
	var flags []string
	names := []struct {
		name string
		bit  byte
	}{
		{"idle", frame.R1Idle},
		{"erase reset", frame.R1EraseReset},
		{"illegal command", frame.R1IllegalCmd},
		{"command CRC error", frame.R1CommandCRC},
		{"erase sequence error", frame.R1EraseSequence},
		{"address error", frame.R1AddressError},
		{"parameter error", frame.R1ParameterErr},
	}
	for _, n := range names {
		if r1&n.bit != 0 {
			flags = append(flags, n.name)
		}
	}
	if len(flags) == 0 {
		flags = append(flags, "ready")
	}
	return flags
}

// DataErrorFlags decodes a data error token
func DataErrorFlags(token byte) []string {
	var flags []string
	if token&frame.DataErrorGeneric != 0 {
		flags = append(flags, "error")
	}
	if token&frame.DataErrorCC != 0 {
		flags = append(flags, "CC error")
	}
	if token&frame.DataErrorECC != 0 {
		flags = append(flags, "card ECC failed")
	}
	if token&frame.DataErrorOutOfRange != 0 {
		flags = append(flags, "out of range")
	}
	return flags
}

// IsRetryable returns true if the error might succeed on retry. Retrying is
// always the caller's decision; the driver itself never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var be *BusError
	if errors.As(err, &be) {
		return be.Retryable
	}

	switch {
	case errors.Is(err, ErrWriteRejected):
		return errors.Is(err, ErrCRCMismatch)
	case errors.Is(err, ErrProtocolTimeout),
		errors.Is(err, ErrDataTimeout),
		errors.Is(err, ErrCRCMismatch),
		errors.Is(err, ErrWriteTimeout):
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type for the given error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var be *BusError
	if errors.As(err, &be) {
		return be.Type
	}

	switch {
	case errors.Is(err, ErrWriteRejected):
		if errors.Is(err, ErrCRCMismatch) {
			return ErrorTypeTransient
		}
		return ErrorTypePermanent
	case errors.Is(err, ErrProtocolTimeout),
		errors.Is(err, ErrDataTimeout),
		errors.Is(err, ErrWriteTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrCRCMismatch):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// Kind is the discriminated outcome of a driver operation
type Kind int

const (
	KindOK Kind = iota
	KindProtocolTimeout
	KindNotInitialized
	KindCommandRejected
	KindDataTimeout
	KindCRCError
	KindWriteRejected
	KindWriteTimeout
	KindInvalidArgument
	KindBus
	KindUnknown
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindProtocolTimeout:
		return "protocol timeout"
	case KindNotInitialized:
		return "not initialized"
	case KindCommandRejected:
		return "command rejected"
	case KindDataTimeout:
		return "data timeout"
	case KindCRCError:
		return "CRC error"
	case KindWriteRejected:
		return "write rejected"
	case KindWriteTimeout:
		return "write timeout"
	case KindInvalidArgument:
		return "invalid argument"
	case KindBus:
		return "bus error"
	default:
		return "unknown"
	}
}

// KindOf maps an error returned by the driver to its Kind. A rejected write
// whose token reports a CRC error is KindWriteRejected; use errors.Is with
// ErrCRCMismatch or ErrWriteError for the detail.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrNotInitialized):
		return KindNotInitialized
	case errors.Is(err, ErrWriteRejected):
		return KindWriteRejected
	case errors.Is(err, ErrWriteTimeout):
		return KindWriteTimeout
	case errors.Is(err, ErrDataTimeout):
		return KindDataTimeout
	case errors.Is(err, ErrCRCMismatch):
		return KindCRCError
	case errors.Is(err, ErrCommandRejected),
		errors.Is(err, ErrUnsupportedCard):
		return KindCommandRejected
	case errors.Is(err, ErrProtocolTimeout):
		return KindProtocolTimeout
	case errors.Is(err, ErrInvalidBuffer),
		errors.Is(err, ErrAddressOutOfRange),
		errors.Is(err, ErrInvalidParameter):
		return KindInvalidArgument
	}

	var be *BusError
	if errors.As(err, &be) {
		return KindBus
	}
	return KindUnknown
}
