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
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests change package logging state and do not run in parallel.

func TestSetDebugEnabled_LeavesStandardLoggerLevel(t *testing.T) {
	std := logrus.StandardLogger()
	prev := std.GetLevel()
	std.SetLevel(logrus.InfoLevel)
	t.Cleanup(func() {
		SetDebugEnabled(false)
		SetLogger(nil)
		std.SetLevel(prev)
	})

	SetLogger(nil)
	SetDebugEnabled(true)
	assert.Equal(t, logrus.InfoLevel, std.GetLevel())

	SetDebugEnabled(false)
	assert.Equal(t, logrus.InfoLevel, std.GetLevel())
}

func TestDebugf_FollowsCallerLevel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	SetLogger(logger)
	t.Cleanup(func() {
		SetDebugEnabled(false)
		SetLogger(nil)
	})

	SetDebugEnabled(true)
	debugf("CMD%d", 17)
	assert.Empty(t, hook.AllEntries())
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.SetLevel(logrus.DebugLevel)
	debugf("CMD%d", 17)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "CMD17", hook.LastEntry().Message)

	SetDebugEnabled(false)
	debugln("CMD18")
	assert.Len(t, hook.AllEntries(), 1)

	warnf("retrying %s", "read")
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
