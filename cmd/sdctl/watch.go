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
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/polling"
	"github.com/spf13/cobra"
)

func (a *app) watchCommand() *cobra.Command {
	var (
		interval time.Duration
		removal  int
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Report card insertion, removal and swaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			openCtx, cancelOpen := a.context()
			bus, err := a.openBus(openCtx)
			cancelOpen()
			if err != nil {
				return err
			}
			dev, err := a.newDevice(bus)
			if err != nil {
				return err
			}

			monitor, err := polling.NewMonitor(dev, &polling.Config{
				PollInterval:     interval,
				RemovalThreshold: removal,
			})
			if err != nil {
				closeDevice(dev)
				return err
			}
			defer func() {
				_ = monitor.Close()
			}()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			watchEvents(monitor, cmd.OutOrStdout(), count, cancel)
			err = monitor.Start(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", polling.DefaultConfig().PollInterval, "time between polls")
	cmd.Flags().IntVar(&removal, "removal-polls", polling.DefaultConfig().RemovalThreshold,
		"failed polls before a card counts as removed")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many events (0 runs until interrupted)")
	return cmd
}

// watchEvents prints monitor events and calls done once count events were
// seen
func watchEvents(m *polling.Monitor, out io.Writer, count int, done func()) {
	seen := 0
	report := func(event polling.Event, detail string) {
		fmt.Fprintf(out, "%s %s%s\n", time.Now().Format(time.RFC3339), event, detail)
		seen++
		if count > 0 && seen >= count {
			done()
		}
	}
	describe := func(info sdspi.CardInfo) string {
		detail := fmt.Sprintf(": %s, %d sectors", info.Type, info.SectorCount)
		if info.CID != nil {
			detail += fmt.Sprintf(", %s serial %08X", info.CID.ProductName, info.CID.Serial)
		}
		return detail
	}

	m.OnCardInserted = func(info sdspi.CardInfo) error {
		report(polling.EventInserted, describe(info))
		return nil
	}
	m.OnCardChanged = func(info sdspi.CardInfo) error {
		report(polling.EventChanged, describe(info))
		return nil
	}
	m.OnCardRemoved = func() {
		report(polling.EventRemoved, "")
	}
}
