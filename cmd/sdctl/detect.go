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
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ZaparooProject/go-sdspi/detection"
	"github.com/spf13/cobra"
)

func (a *app) detectCommand() *cobra.Command {
	var (
		mode      string
		transport string
		wait      time.Duration
		ignore    []string
	)
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List buses that may have a card attached",
		Long: `Searches every registered transport for buses that may reach a card.
The passive mode only enumerates, safe also opens each bus, and full runs the
card initialization on buses where the chip select is known.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := detection.ParseMode(mode)
			if err != nil {
				return err
			}
			opts := detection.DefaultOptions()
			opts.Mode = m
			opts.Timeout = wait
			opts.IgnorePaths = ignore

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			var devices []detection.DeviceInfo
			if transport != "" {
				devices, err = detection.DetectTransport(ctx, transport, &opts)
			} else {
				devices, err = detection.DetectAllContext(ctx, &opts)
			}
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", detection.Passive.String(), "detection mode: passive, safe or full")
	cmd.Flags().StringVar(&transport, "transport", "", "only search this transport")
	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "how long to search")
	cmd.Flags().StringSliceVar(&ignore, "ignore", nil, "paths to leave alone")
	return cmd
}

func printDevices(out io.Writer, devices []detection.DeviceInfo) {
	for _, device := range devices {
		fmt.Fprintln(out, device)
		keys := make([]string, 0, len(device.Metadata))
		for k := range device.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "    %s: %s\n", k, device.Metadata[k])
		}
	}
}
