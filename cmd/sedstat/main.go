// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sedstat reports the Opal locking state of every block device, either as
// a human readable table, JSON, or OpenMetrics for scraping.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/drive"
)

var (
	outputFmt = flag.String("output", "table", "Output format; one of [table, json, openmetrics]")
	noHeader  = flag.Bool("no-header", false, "Suppress the header in table format output")
)

type DeviceState struct {
	Device   string
	Identity *drive.Identity
	Level0   *core.Level0Discovery
}

type Devices []DeviceState

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Println()
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("The following state flags might be shown:")
		fmt.Println("  L/l - Locking is supported and is enabled (L) or disabled (l)")
		fmt.Println("  K/k - The global range is locked (K) or unlocked (k)")
		fmt.Println("  M/m - MBR is enabled and is active (M) or hidden (m)")
		fmt.Println("  E   - The device has media encryption")
		fmt.Println("  P   - The Admin SP SID PIN is set to MSID [Block SID feature specific]")
		fmt.Println("  !   - Authentication to Admin SP is blocked [Block SID feature specific]")
		fmt.Println()
	}
	flag.Parse()

	sysblk, err := os.ReadDir("/sys/class/block/")
	if err != nil {
		log.Printf("Failed to enumerate block devices: %v", err)
		return
	}

	var state Devices

	for _, fi := range sysblk {
		devname := fi.Name()
		if _, err := os.Stat(filepath.Join("/sys/class/block", devname, "device")); os.IsNotExist(err) {
			continue
		}
		devpath := filepath.Join("/dev", devname)
		if _, err := os.Stat(devpath); os.IsNotExist(err) {
			log.Printf("Failed to find device node %s", devpath)
			continue
		}

		d, err := drive.Open(devpath)
		if err != nil {
			log.Printf("drive.Open(%s): %v", devpath, err)
			continue
		}
		defer d.Close()
		identity, err := d.Identify()
		if err != nil {
			log.Printf("drive.Identify(%s): %v", devpath, err)
		}
		c := &core.Core{DriveIntf: d}
		d0, err := c.Discovery0()
		if err != nil {
			if err != core.ErrNotSupported {
				log.Printf("core.Discovery0(%s): %v", devpath, err)
				continue
			}
			d0 = nil
		}
		state = append(state, DeviceState{
			Device:   devpath,
			Identity: identity,
			Level0:   d0,
		})
	}

	if *outputFmt == "json" {
		outputJSON(state)
	} else if *outputFmt == "openmetrics" {
		outputMetrics(state)
	} else if *outputFmt == "table" {
		outputTable(state)
	} else {
		fmt.Printf("Unsupported output format %q\n", *outputFmt)
		flag.Usage()
		os.Exit(2)
	}
}

func outputJSON(state Devices) {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal JSON: %v", err)
	}
	os.Stdout.Write(b)
}

func outputTable(state Devices) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	if !*noHeader {
		fmt.Fprintf(w, "DEVICE\tMODEL\tSERIAL\tFIRMWARE\tPROTOCOL\tSSC\tSTATE\n")
	}
	for _, s := range state {
		ssc := "-"
		st := "-"
		if s.Level0 != nil {
			ssc = "-"
			if s.Level0.OpalV2 != nil {
				ssc = "Opal 2"
			}
			st = ""
			if l := s.Level0.Locking; l != nil {
				if l.LockingEnabled {
					st += "L"
				} else if l.LockingSupported {
					st += "l"
				}
				if l.LockingEnabled {
					if l.Locked {
						st += "K"
					} else {
						st += "k"
					}
				}
				if l.MBREnabled {
					if l.MBRDone {
						st += "m"
					} else {
						st += "M"
					}
				}
				if l.MediaEncryption {
					st += "E"
				}
			}
			if b := s.Level0.BlockSID; b != nil {
				if !b.SIDValueState {
					st += "P"
				}
				if b.SIDAuthenticationBlockedState {
					st += "!"
				}
			}
		}

		fmt.Fprint(w,
			s.Device, "\t",
			s.Identity.Model, "\t",
			s.Identity.SerialNumber, "\t",
			s.Identity.Firmware, "\t",
			s.Identity.Protocol, "\t",
			ssc, "\t",
			st, "\t",
			"\n")
	}
	w.Flush()
}
