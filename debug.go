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

	"github.com/sirupsen/logrus"
)

var debugState = struct {
	logger  logrus.FieldLogger
	mu      sync.RWMutex
	enabled bool
}{
	logger: logrus.StandardLogger(),
}

// SetDebugEnabled turns protocol tracing on or off. Messages are emitted at
// debug level on the configured logger, whose level is left to the caller.
func SetDebugEnabled(enabled bool) {
	debugState.mu.Lock()
	defer debugState.mu.Unlock()
	debugState.enabled = enabled
}

// SetLogger replaces the logger used for debug output. A nil logger restores
// the logrus standard logger.
func SetLogger(logger logrus.FieldLogger) {
	debugState.mu.Lock()
	defer debugState.mu.Unlock()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	debugState.logger = logger
}

func debugLogger() (logrus.FieldLogger, bool) {
	debugState.mu.RLock()
	defer debugState.mu.RUnlock()
	return debugState.logger, debugState.enabled
}

func debugf(format string, args ...any) {
	if logger, enabled := debugLogger(); enabled {
		logger.Debugf(format, args...)
	}
}

func debugln(args ...any) {
	if logger, enabled := debugLogger(); enabled {
		logger.Debugln(args...)
	}
}

// warnf is always emitted; it reports conditions that do not fail the
// current operation
func warnf(format string, args ...any) {
	logger, _ := debugLogger()
	logger.Warnf(format, args...)
}
