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
package main

import (
	"context"
	"os"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dfu/image"
	"github.com/mongoose-os/dfu/ourutil"
)

func suffix(ctx context.Context) error {
	var action, fname string
	switch flag.NArg() {
	case 2:
		action, fname = "show", flag.Arg(1)
	case 3:
		action, fname = flag.Arg(1), flag.Arg(2)
	default:
		return errors.Errorf("Usage: %s suffix [add|strip] FILE", os.Args[0])
	}

	data, err := os.ReadFile(fname)
	if err != nil {
		return errors.Trace(err)
	}
	sfx, sfxLen, err := image.ParseSuffix(data)
	if err != nil {
		return errors.Annotatef(err, "%s", fname)
	}

	switch action {
	case "show":
		if sfx == nil {
			ourutil.Reportf("%s: no DFU suffix", fname)
		} else {
			ourutil.Reportf("%s: %s", fname, sfx)
		}
	case "add":
		if sfx != nil {
			return errors.Errorf("%s already carries a DFU suffix (%s), strip it first", fname, sfx)
		}
		vid, pid, err := idFlags()
		if err != nil {
			return errors.Trace(err)
		}
		// DFU 1.0, the revision dfu-suffix stamps plain files with.
		ns := &image.Suffix{Device: image.AnyID, Product: image.AnyID, Vendor: image.AnyID, DFU: 0x0100}
		if *vidFlag != "" {
			ns.Vendor = vid
		}
		if *pidFlag != "" {
			ns.Product = pid
		}
		if err := os.WriteFile(fname, image.AppendSuffix(data, ns), 0644); err != nil {
			return errors.Trace(err)
		}
		ourutil.Reportf("%s: added %s", fname, ns)
	case "strip":
		if sfx == nil {
			return errors.Errorf("%s has no DFU suffix", fname)
		}
		if err := os.WriteFile(fname, data[:len(data)-sfxLen], 0644); err != nil {
			return errors.Trace(err)
		}
		ourutil.Reportf("%s: stripped %s", fname, sfx)
	default:
		return errors.Errorf("unknown suffix action %q, want add or strip", action)
	}
	return nil
}
