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
	"os"
	"os/signal"
	"syscall"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	"github.com/ZaparooProject/go-sdspi/control"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve card status and sectors over HTTP",
		Long: `Starts the sector server. The card is initialized on start; when that
fails the server still comes up and PUT /init retries it.

    GET /status        card status (JSON, or text with Accept: text/plain)
    PUT /init          initialize the card
    GET /sector/{n}    read sector n
    PUT /sector/{n}    write sector n, body must be 512 bytes`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			dev, err := a.openServedDevice()
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			srv := control.NewServer(dev)
			done := make(chan error, 1)
			go func() {
				done <- srv.Serve(listen)
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case err := <-done:
				return err
			case s := <-sig:
				log.Infof("received %v", s)
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				return err
			}
			return <-done
		},
	}
	cmd.Flags().StringVar(&listen, "listen", control.DefaultAddress, "address to listen on")
	return cmd
}

// openServedDevice is openDevice without the requirement that the card
// comes up
func (a *app) openServedDevice() (*sdspi.Device, error) {
	ctx, cancel := a.context()
	defer cancel()

	bus, err := a.openBus(ctx)
	if err != nil {
		return nil, err
	}
	dev, err := a.newDevice(bus)
	if err != nil {
		return nil, err
	}
	if err := dev.InitContext(ctx); err != nil {
		log.Warnf("card not ready, serving anyway: %v", err)
	}
	return dev, nil
}
