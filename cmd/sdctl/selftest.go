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

package main

import (
	"bytes"
	"fmt"
	"io"

	sdspi "github.com/ZaparooProject/go-sdspi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (a *app) selftestCommand() *cobra.Command {
	var sector uint32
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Write test patterns to a sector, read them back and restore it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context()
			defer cancel()

			dev, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			card, err := a.openSectors(ctx, dev)
			if err != nil {
				return err
			}
			return selftest(cmd.OutOrStdout(), card, sector)
		},
	}
	cmd.Flags().Uint32VarP(&sector, "sector", "s", 0, "sector to test; its contents are restored afterwards")
	return cmd
}

// testPatterns returns the data written during a self test. The first
// pattern differs per sector so that address mix-ups show up.
func testPatterns(lba uint32) [][]byte {
	ramp := make([]byte, sdspi.SectorSize)
	inverted := make([]byte, sdspi.SectorSize)
	for i := range ramp {
		ramp[i] = byte(i) ^ byte(lba) ^ byte(lba>>8)
		inverted[i] = ^ramp[i]
	}
	return [][]byte{ramp, inverted}
}

func selftest(out io.Writer, card sdspi.SectorReadWriter, lba uint32) (err error) {
	original := make([]byte, sdspi.SectorSize)
	if err := card.ReadBlock(lba, original); err != nil {
		return fmt.Errorf("failed to read sector %d: %w", lba, err)
	}
	fmt.Fprintf(out, "read sector %d: ok\n", lba)

	defer func() {
		rerr := roundTrip(card, lba, original)
		if rerr != nil {
			log.Errorf("sector %d may hold test data: %v", lba, rerr)
			fmt.Fprintf(out, "restore: FAILED (%v)\n", rerr)
			if err == nil {
				err = fmt.Errorf("failed to restore sector %d: %w", lba, rerr)
			}
			return
		}
		fmt.Fprintln(out, "restore: ok")
	}()

	for i, pattern := range testPatterns(lba) {
		if err := roundTrip(card, lba, pattern); err != nil {
			fmt.Fprintf(out, "pattern %d: FAILED (%v)\n", i+1, err)
			return fmt.Errorf("self test failed on sector %d: %w", lba, err)
		}
		fmt.Fprintf(out, "pattern %d: ok\n", i+1)
	}
	return nil
}

func roundTrip(card sdspi.SectorReadWriter, lba uint32, data []byte) error {
	if err := card.WriteBlock(lba, data); err != nil {
		return err
	}
	back := make([]byte, sdspi.SectorSize)
	if err := card.ReadBlock(lba, back); err != nil {
		return err
	}
	if !bytes.Equal(back, data) {
		return sdspi.ErrVerifyMismatch
	}
	return nil
}
