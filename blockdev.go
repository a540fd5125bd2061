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
	"fmt"
	"io"
)

// SectorReadWriter is the sector interface BlockDevice is built on.
// *Device and *ValidatedDevice both satisfy it.
type SectorReadWriter interface {
	ReadBlock(lba uint32, buf []byte) error
	WriteBlock(lba uint32, buf []byte) error
}

// BlockDevice exposes a card as an io.ReaderAt and io.WriterAt over a byte
// range of size bytes. Unaligned writes read the affected sector first.
// Nothing is cached between calls.
type BlockDevice struct {
	dev  SectorReadWriter
	size int64
}

// NewBlockDevice creates a block device of size bytes on dev. size must be a
// positive multiple of SectorSize.
func NewBlockDevice(dev SectorReadWriter, size int64) (*BlockDevice, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidParameter)
	}
	if size <= 0 || size%SectorSize != 0 {
		return nil, fmt.Errorf("%w: size %d is not a positive multiple of %d", ErrInvalidParameter, size, SectorSize)
	}
	return &BlockDevice{dev: dev, size: size}, nil
}

// NewCardBlockDevice creates a block device covering the capacity learned
// during Init
func NewCardBlockDevice(d *Device) (*BlockDevice, error) {
	capacity := d.Info().CapacityBytes()
	if capacity == 0 {
		return nil, fmt.Errorf("%w: card capacity unknown", ErrInvalidParameter)
	}
	return NewBlockDevice(d, int64(capacity))
}

// Size returns the device size in bytes
func (b *BlockDevice) Size() int64 {
	return b.size
}

// ReadAt implements io.ReaderAt
func (b *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidParameter)
	}
	if off >= b.size {
		return 0, io.EOF
	}

	var eof error
	if remaining := b.size - off; int64(len(p)) > remaining {
		p = p[:remaining]
		eof = io.EOF
	}

	sector := make([]byte, SectorSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		lba := uint32(pos / SectorSize)
		within := int(pos % SectorSize)

		if within == 0 && len(p)-n >= SectorSize {
			if err := b.dev.ReadBlock(lba, p[n:n+SectorSize]); err != nil {
				return n, fmt.Errorf("failed to read sector %d: %w", lba, err)
			}
			n += SectorSize
			continue
		}

		if err := b.dev.ReadBlock(lba, sector); err != nil {
			return n, fmt.Errorf("failed to read sector %d: %w", lba, err)
		}
		n += copy(p[n:], sector[within:])
	}
	return n, eof
}

// WriteAt implements io.WriterAt
func (b *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrInvalidParameter)
	}
	if off+int64(len(p)) > b.size {
		return 0, fmt.Errorf("%w: write of %d bytes at %d exceeds device size %d",
			ErrAddressOutOfRange, len(p), off, b.size)
	}

	sector := make([]byte, SectorSize)
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		lba := uint32(pos / SectorSize)
		within := int(pos % SectorSize)

		if within == 0 && len(p)-n >= SectorSize {
			if err := b.dev.WriteBlock(lba, p[n:n+SectorSize]); err != nil {
				return n, fmt.Errorf("failed to write sector %d: %w", lba, err)
			}
			n += SectorSize
			continue
		}

		if err := b.dev.ReadBlock(lba, sector); err != nil {
			return n, fmt.Errorf("failed to read sector %d for partial write: %w", lba, err)
		}
		copied := copy(sector[within:], p[n:])
		if err := b.dev.WriteBlock(lba, sector); err != nil {
			return n, fmt.Errorf("failed to write sector %d: %w", lba, err)
		}
		n += copied
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*BlockDevice)(nil)
	_ io.WriterAt = (*BlockDevice)(nil)
)
