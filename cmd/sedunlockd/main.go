// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sedunlockd is the pre-boot unlock agent. It enumerates Opal
// self-encrypting drives, prompts the operator for their passwords and
// clears the locking ranges so the real data is visible before the OS
// loader takes over.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/prebootsec/sedunlock/pkg/config"
	"github.com/prebootsec/sedunlock/pkg/unlock"
)

const programName = "sedunlockd"

type context struct {
	cfg   *config.Config
	log   zerolog.Logger
	debug bool
}

var cli struct {
	Config  string  `short:"c" type:"path" help:"Path to TOML configuration file."`
	Debug   bool    `help:"Dump Level 0 discovery data for every device."`
	Verbose int     `short:"v" type:"counter" help:"Increase log verbosity."`
	Run     runCmd  `cmd:"" default:"1" help:"Unlock every locked Opal device."`
	List    listCmd `cmd:"" help:"List devices and their locking state."`
}

type runCmd struct{}

func (c *runCmd) Run(ctx *context) error {
	devices, err := findDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		ctx.log.Info().Msg("no Opal devices found, nothing to do")
		return nil
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	orch := unlock.NewOrchestrator(ctx.cfg, termPasswordReader{}, ansiScreen{}, ctx.log)
	targets := make([]unlock.Device, 0, len(devices))
	for _, d := range devices {
		targets = append(targets, d)
	}
	left, err := orch.Run(targets)
	if err != nil {
		return err
	}
	if left > 0 {
		return fmt.Errorf("%d device(s) left locked", left)
	}
	return nil
}

type listCmd struct{}

func (c *listCmd) Run(ctx *context) error {
	devices, err := findDevices(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tMODEL\tFIRMWARE\tLOCKED")
	for _, d := range devices {
		locked, err := d.IsLocked()
		state := fmt.Sprintf("%v", locked)
		if err != nil {
			state = "error"
			ctx.log.Warn().Str("device", d.Path).Err(err).Msg("could not read locking state")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Path, d.Core.Identity.Model, d.Core.Identity.Firmware, state)
	}
	return tw.Flush()
}

func findDevices(ctx *context) ([]*unlock.SecureDevice, error) {
	authority, err := unlock.AuthorityFromName(ctx.cfg.Authority)
	if err != nil {
		return nil, err
	}
	paths := ctx.cfg.Devices
	if len(paths) == 0 {
		paths, err = unlock.EnumerateBlockDevices()
		if err != nil {
			return nil, err
		}
	}
	devices, err := unlock.FindSecureDevices(paths, authority, ctx.log)
	if err != nil {
		return nil, err
	}
	if ctx.debug {
		for _, d := range devices {
			spew.Fdump(os.Stderr, d.Path, d.Core.Level0Discovery)
		}
	}
	return devices, nil
}

type termPasswordReader struct{}

func (termPasswordReader) ReadPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return b, err
}

type ansiScreen struct{}

func (ansiScreen) Clear() {
	fmt.Print("\033[2J\033[H")
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description("Pre-boot TCG Opal self-encrypting drive unlock agent."))

	cfg := config.Default()
	if cli.Config != "" {
		var err error
		cfg, err = config.Load(cli.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
			os.Exit(1)
		}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cli.Verbose > 0 || cli.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	err = kctx.Run(&context{cfg: cfg, log: log, debug: cli.Debug})
	kctx.FatalIfErrorf(err)
}
