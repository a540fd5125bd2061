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

// Package detection finds buses an SD card may be attached to. Each bus
// backend registers a Detector; DetectAll runs them all.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNoDevicesFound is returned when no detector found a candidate bus
	ErrNoDevicesFound = errors.New("no devices found")
	// ErrDetectionTimeout is returned when detection ran out of time
	ErrDetectionTimeout = errors.New("detection timed out")
	// ErrUnsupportedPlatform is returned by detectors that cannot run here
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")
	// ErrUnknownTransport is returned for a transport with no detector
	ErrUnknownTransport = errors.New("no detector registered for transport")
)

// Mode controls how intrusive detection is
type Mode int

const (
	// Passive only enumerates device nodes and port names
	Passive Mode = iota
	// Safe also opens each candidate bus to check it is usable
	Safe
	// Full also runs the card initialization sequence on each bus
	Full
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Safe:
		return "safe"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Passive, Safe, Full} {
		if m.String() == s {
			return m, nil
		}
	}
	return Passive, fmt.Errorf("unknown detection mode %q", s)
}

// Confidence is how sure a detector is that a card can be reached
type Confidence int

const (
	// Low means the bus exists
	Low Confidence = iota
	// Medium means the bus exists and matches a known adapter
	Medium
	// High means a card answered on the bus
	High
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// DeviceInfo describes one candidate bus
type DeviceInfo struct {
	Metadata   map[string]string
	Transport  string
	Path       string
	Name       string
	Confidence Confidence
}

// String returns a short description
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s:%s (%s, %s confidence)", d.Transport, d.Path, d.Name, d.Confidence)
}

// Options configures detection
type Options struct {
	// IgnorePaths lists device paths to skip
	IgnorePaths []string
	// Blocklist lists USB VID:PID pairs that must never be opened
	Blocklist []string
	// Timeout bounds the whole detection run
	Timeout time.Duration
	// Mode controls how intrusive detection is
	Mode Mode
}

// DefaultOptions returns passive detection with a five second timeout
func DefaultOptions() Options {
	return Options{
		Timeout:   5 * time.Second,
		Mode:      Passive,
		Blocklist: DefaultBlocklist(),
	}
}

// Detector finds candidate buses for one transport
type Detector interface {
	// Transport returns the transport name, matching sdspi.BusType
	Transport() string
	// Detect returns the candidates found
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Detector{}
)

// RegisterDetector adds a detector. Registering a second detector for the
// same transport replaces the first.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Transport()] = d
}

// Transports lists the transports that have a detector, sorted
func Transports() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func detectors() []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()
	list := make([]Detector, 0, len(registry))
	for _, d := range registry {
		list = append(list, d)
	}
	return list
}

// DetectAll runs every registered detector
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	return DetectAllContext(context.Background(), opts)
}

// DetectAllContext runs every registered detector concurrently. Detectors
// that find nothing or cannot run on this platform are skipped. Results are
// sorted by confidence, highest first.
func DetectAllContext(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	return runDetectors(ctx, detectors(), opts)
}

// DetectTransport runs the detector registered for transport
func DetectTransport(ctx context.Context, transport string, opts *Options) ([]DeviceInfo, error) {
	registryMu.RLock()
	d, ok := registry[transport]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, transport)
	}
	return runDetectors(ctx, []Detector{d}, opts)
}

func runDetectors(ctx context.Context, list []Detector, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		devices []DeviceInfo
		errs    []error
	)
	for _, d := range list {
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			found, err := d.Detect(ctx, opts)
			mu.Lock()
			defer mu.Unlock()
			devices = append(devices, found...)
			if err != nil && !errors.Is(err, ErrNoDevicesFound) && !errors.Is(err, ErrUnsupportedPlatform) {
				errs = append(errs, fmt.Errorf("%s: %w", d.Transport(), err))
			}
		}(d)
	}
	wg.Wait()

	if len(devices) == 0 {
		if ctx.Err() != nil {
			return nil, ErrDetectionTimeout
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoDevicesFound
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Confidence != devices[j].Confidence {
			return devices[i].Confidence > devices[j].Confidence
		}
		if devices[i].Transport != devices[j].Transport {
			return devices[i].Transport < devices[j].Transport
		}
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}
