//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// The dfu tool talks to USB DFU bootloaders: it lists them, inspects
// them and downloads firmware into them, including DfuSe flavored ones
// found on STM32 parts.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dfu/pflagenv"
	"github.com/mongoose-os/dfu/version"
)

const (
	envPrefix = "DFU_"
)

var (
	vidFlag    = flag.String("vid", "", "USB vendor ID to match, hex. Empty matches any DFU device")
	pidFlag    = flag.String("pid", "", "USB product ID to match, hex. Empty matches any DFU device")
	serialFlag = flag.String("serial", "", "USB serial number to match")
	altFlag    = flag.Int("alt", 0, "Interface alt setting to claim")

	addressFlag = flag.String("address", "", "Address to place raw images at, hex. "+
		"Defaults to the base of the device's memory layout")
	layoutFlag = flag.String("layout", "", "Memory layout override, DfuSe alt name format, "+
		"e.g. \"@Internal Flash/0x08000000/64*128Kg\"")
	transferSize  = flag.Int("transfer-size", 0, "Override the transfer size reported by the device")
	overridesFile = flag.String("device-overrides", "", "YAML file with per-device overrides")

	timeout   = flag.Duration("timeout", 5*time.Minute, "Timeout for the whole operation")
	resetFlag = flag.Bool("reset", false, "Issue a USB reset after a successful download")
	yes       = flag.BoolP("yes", "y", false, "Answer yes to all questions")
	helpFull  = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	commands = []command{
		{"list", list, `List DFU devices on the bus`, nil, []string{"vid", "pid"}},
		{"status", status, `Query the device's DFU status and state`, nil, []string{"vid", "pid", "serial"}},
		{"clear", clearStatus, `Clear a device stuck in dfuERROR`, nil, []string{"vid", "pid", "serial"}},
		{"download", download, `Download (flash) a firmware image to the device`, nil,
			[]string{"vid", "pid", "serial", "alt", "address", "layout", "transfer-size", "reset", "yes"}},
		{"leave", leave, `Leave DFU mode, running the application at the address`, nil,
			[]string{"vid", "pid", "serial", "alt", "address", "layout"}},
		{"reset", resetDevice, `Issue a USB reset to the device`, nil, []string{"vid", "pid", "serial"}},
		{"suffix", suffix, `Show, add or strip a DFU file suffix`, nil, []string{"vid", "pid"}},
		{"version", showVersion, `Print version and exit`, nil, nil},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func getCommand(str string) *command {
	for _, c := range commands {
		if c.name == str {
			return &c
		}
	}
	return nil
}

func run(ctx context.Context) error {
	c := getCommand(flag.Arg(0))
	if c == nil {
		usage()
		return nil
	}
	if err := checkFlags(c.required); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.handler(ctx))
}

func showVersion(ctx context.Context) error {
	v := version.Version
	if !version.LooksLikeVersionNumber(v) {
		v += " (development build)"
	}
	fmt.Printf(
		"%s\nVersion: %s\nBuild ID: %s\nBuilt: %s\n",
		"The DFU flashing tool", v, version.BuildId, version.BuildTimestamp,
	)
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	pflagenv.Parse(envPrefix)

	if *helpFull {
		unhideFlags()
		usage()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx); err != nil {
		glog.Infof("Error: %s", errors.ErrorStack(err))
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
