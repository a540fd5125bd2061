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
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	sdspi "github.com/ZaparooProject/go-sdspi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const mib = 1 << 20

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Initialize the card and show its registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context()
			defer cancel()

			dev, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			if _, err := dev.ReadCID(ctx); err != nil {
				log.Warnf("cannot read CID: %v", err)
			}
			status, err := dev.Status(ctx)
			if err != nil {
				log.Warnf("cannot read card status: %v", err)
			}
			printInfo(cmd.OutOrStdout(), dev, status, err == nil)
			return nil
		},
	}
}

func printInfo(out io.Writer, dev *sdspi.Device, status sdspi.CardStatus, haveStatus bool) {
	info := dev.Info()
	fmt.Fprintf(out, "Bus:          %s\n", dev.Bus().Type())
	fmt.Fprintf(out, "Type:         %s\n", info.Type)
	fmt.Fprintf(out, "State:        %s\n", info.State)
	fmt.Fprintf(out, "OCR:          0x%08X\n", info.OCR)
	fmt.Fprintf(out, "Sectors:      %d\n", info.SectorCount)
	fmt.Fprintf(out, "Capacity:     %d bytes (%d MiB)\n", info.CapacityBytes(), info.CapacityBytes()/mib)
	if haveStatus {
		fmt.Fprintf(out, "Status:       %s\n", strings.Join(status.Flags(), ", "))
	}

	if csd := info.CSD; csd != nil {
		fmt.Fprintf(out, "CSD:          version %d, %d Hz max, %d byte blocks, classes 0x%03X\n",
			csd.Structure+1, csd.MaxTransferRate, csd.ReadBlockLength, csd.CommandClasses)
		if csd.WriteProtected {
			fmt.Fprintln(out, "              write protected")
		}
	}
	if cid := info.CID; cid != nil {
		fmt.Fprintf(out, "Manufacturer: 0x%02X (%s)\n", cid.Manufacturer, cid.OEMID)
		fmt.Fprintf(out, "Product:      %s rev %s\n", cid.ProductName, cid.RevisionString())
		fmt.Fprintf(out, "Serial:       %08X\n", cid.Serial)
		fmt.Fprintf(out, "Manufactured: %s\n", cid.Manufactured.Format("2006-01"))
	}
}

func (a *app) readCommand() *cobra.Command {
	var (
		sector uint32
		output string
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read one sector and print it as a hex dump or save it to a file",
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
			buf := make([]byte, sdspi.SectorSize)
			if err := card.ReadBlock(sector, buf); err != nil {
				return fmt.Errorf("failed to read sector %d: %w", sector, err)
			}

			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), hex.Dump(buf))
				return nil
			}
			if err := afero.WriteFile(a.fs, output, buf, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			log.Infof("sector %d saved to %s", sector, output)
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&sector, "sector", "s", 0, "sector to read")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to save the sector to (default: hex dump)")
	return cmd
}

func (a *app) writeCommand() *cobra.Command {
	var (
		sector uint32
		input  string
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a file to the card starting at a sector",
		Long: `Writes the contents of a file starting at the given sector. A file that
does not end on a sector boundary leaves the rest of its last sector intact.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return errors.New("no input file given (--input)")
			}
			data, err := afero.ReadFile(a.fs, input)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", input, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("input file %s is empty", input)
			}

			ctx, cancel := a.context()
			defer cancel()

			dev, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			blocks, err := a.blockDevice(ctx, dev)
			if err != nil {
				return err
			}
			n, err := blocks.WriteAt(data, int64(sector)*sdspi.SectorSize)
			if err != nil {
				return fmt.Errorf("failed after %d of %d bytes: %w", n, len(data), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at sector %d\n", n, sector)
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&sector, "sector", "s", 0, "first sector to write")
	cmd.Flags().StringVarP(&input, "input", "i", "", "file to write")
	return cmd
}

func (a *app) dumpCommand() *cobra.Command {
	var (
		start  uint32
		count  uint32
		output string
	)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Copy a range of sectors into a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return errors.New("no output file given (--output)")
			}
			if count == 0 {
				return errors.New("sector count must be positive")
			}

			ctx, cancel := a.context()
			defer cancel()

			dev, err := a.openDevice(ctx)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			blocks, err := a.blockDevice(ctx, dev)
			if err != nil {
				return err
			}
			off := int64(start) * sdspi.SectorSize
			length := int64(count) * sdspi.SectorSize
			if off+length > blocks.Size() {
				return fmt.Errorf("%w: sectors %d-%d beyond card end",
					sdspi.ErrAddressOutOfRange, start, uint64(start)+uint64(count)-1)
			}

			file, err := a.fs.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			n, err := io.Copy(file, io.NewSectionReader(blocks, off, length))
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("dump stopped after %d bytes: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dumped %d sectors to %s\n", count, output)
			return nil
		},
	}
	cmd.Flags().Uint32VarP(&start, "start", "s", 0, "first sector to dump")
	cmd.Flags().Uint32VarP(&count, "count", "n", 1, "number of sectors")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the sectors to")
	return cmd
}

func (a *app) blockDevice(ctx context.Context, dev *sdspi.Device) (*sdspi.BlockDevice, error) {
	card, err := a.openSectors(ctx, dev)
	if err != nil {
		return nil, err
	}
	return sdspi.NewBlockDevice(card, int64(dev.Info().CapacityBytes()))
}

func closeDevice(dev *sdspi.Device) {
	if err := dev.Close(); err != nil {
		log.Warnf("closing device: %v", err)
	}
}
