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
	"os"
	"os/signal"
	"strings"
	"time"

	sdspi "github.com/ZaparooProject/go-sdspi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SDCTL"

const rootHelp = `sdctl talks to an SD or MMC card wired to a SPI bus.

Every global flag can also be set through the environment: the flag name in
upper case, dashes replaced by underscores, prefixed with SDCTL_. For example
SDCTL_BUS=spidev SDCTL_DEVICE=/dev/spidev0.0 sdctl info

The sim bus runs against a simulated card backed by an image file, which is
created with --sectors sectors if it does not exist yet.`

type settings struct {
	bus     string
	device  string
	cs      string
	image   string
	kind    string
	speed   int64
	sectors uint32
	timeout time.Duration
	crc     bool
	verify  bool
	debug   bool
}

// app holds what every subcommand shares: the bound settings and the file
// system used for images, input and output files
type app struct {
	viper *viper.Viper
	fs    afero.Fs
	cfg   settings
}

func newApp(fs afero.Fs) *app {
	return &app{viper: viper.New(), fs: fs}
}

func newRootCommand() *cobra.Command {
	return newApp(afero.NewOsFs()).command()
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "sdctl",
		Short: "Inspect and exercise SD cards attached over SPI",
		Long:  rootHelp,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.String("bus", "", "bus type: periph, spidev, bridge or sim (empty guesses from --device or auto-detects)")
	flags.String("device", "", "SPI port name, spidev node or serial port of a Bus Pirate")
	flags.String("cs", "", "GPIO pin used as chip select on the periph bus")
	flags.Int64("speed", 0, "clock in Hz once the card is initialized (0 keeps the init clock)")
	flags.String("image", "sdcard.img", "image file backing the sim bus")
	flags.Uint32("sectors", 65536, "size in sectors of a newly created sim image")
	flags.String("kind", "SDHC", "simulated card kind: SDHC, SDv2, SDv1 or MMC")
	flags.Duration("timeout", 30*time.Second, "timeout for each card operation")
	flags.Bool("crc", false, "enable CRC checking on the card")
	flags.Bool("verify", false, "read sectors twice and verify writes")
	flags.Bool("debug", false, "enable protocol debug output")

	if err := a.bind(flags); err != nil {
		log.Fatalf("cannot bind settings: %v", err)
	}

	root.AddCommand(
		a.infoCommand(),
		a.readCommand(),
		a.writeCommand(),
		a.dumpCommand(),
		a.selftestCommand(),
		a.detectCommand(),
		a.serveCommand(),
		a.watchCommand(),
	)
	return root
}

// bind makes every flag a viper setting that falls back to its SDCTL_
// environment variable
func (a *app) bind(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		if err = a.viper.BindPFlag(f.Name, f); err != nil {
			return
		}
		err = a.viper.BindEnv(f.Name, envName(f.Name))
	})
	return err
}

func envName(flag string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func (a *app) load() error {
	v := a.viper
	a.cfg = settings{
		bus:     strings.ToLower(v.GetString("bus")),
		device:  v.GetString("device"),
		cs:      v.GetString("cs"),
		image:   v.GetString("image"),
		kind:    v.GetString("kind"),
		speed:   v.GetInt64("speed"),
		sectors: v.GetUint32("sectors"),
		timeout: v.GetDuration("timeout"),
		crc:     v.GetBool("crc"),
		verify:  v.GetBool("verify"),
		debug:   v.GetBool("debug"),
	}

	if a.cfg.speed < 0 {
		return fmt.Errorf("invalid speed %d: must not be negative", a.cfg.speed)
	}
	if a.cfg.timeout <= 0 {
		return fmt.Errorf("invalid timeout %v: must be positive", a.cfg.timeout)
	}
	if a.cfg.debug {
		log.SetLevel(log.DebugLevel)
		sdspi.SetDebugEnabled(true)
	}
	return nil
}

// context returns a context that ends on interrupt or after the configured
// timeout
func (a *app) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, a.cfg.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
