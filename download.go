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
	"strings"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/dfu/dfu"
	"github.com/mongoose-os/dfu/image"
	"github.com/mongoose-os/dfu/ourutil"
)

func download(ctx context.Context) error {
	if flag.NArg() != 2 {
		return errors.Errorf("Usage: %s download FIRMWARE.{bin,dfu,hex}", os.Args[0])
	}
	fname := flag.Arg(1)
	f, err := image.ParseFile(fname)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("%s: %s", fname, f)

	dc, err := openDevice()
	if err != nil {
		return errors.Trace(err)
	}
	defer dc.Close()

	vid, pid := dc.dev.ID()
	if !f.Suffix.Matches(vid, pid) {
		ourutil.Reportf("Warning: %s is marked for %04x:%04x but the device is %04x:%04x",
			fname, f.Suffix.Vendor, f.Suffix.Product, vid, pid)
		if !*yes {
			if ans := ourutil.Prompt("Flash anyway? [y/N]"); !strings.EqualFold(ans, "y") && !strings.EqualFold(ans, "yes") {
				return errors.Errorf("aborted")
			}
		}
	}

	target := f.Target(uint8(*altFlag))
	if target == nil {
		return errors.Errorf("%s carries no image for alt setting %d", fname, *altFlag)
	}
	if target.Name != "" {
		ourutil.Reportf("Target: %s", target.Name)
	}

	lays, err := dc.layouts()
	if err != nil {
		return errors.Trace(err)
	}

	var regions []dfu.Region
	for i := range target.Elements {
		el := &target.Elements[i]
		addr := el.Address
		if f.Format == image.FormatRaw {
			if addr, err = dc.defaultAddress(lays); err != nil {
				return errors.Trace(err)
			}
		}
		lay := layoutContaining(lays, addr)
		if lay == nil {
			return errors.Errorf("address 0x%08x is outside the device's memory layout", addr)
		}
		sub := lay
		if addr != lay.Address() {
			if sub, err = lay.From(addr); err != nil {
				return errors.Trace(err)
			}
		}
		if !sub.Erasable() {
			return errors.Errorf("%s at 0x%08x is not erasable", lay.Name(), addr)
		}
		ourutil.Reportf("%d bytes at 0x%08x (%s)", len(el.Data), addr, lay.Name())
		regions = append(regions, dfu.Region{Layout: sub, Address: addr, Data: el.Data})
	}

	lastPct := -1
	err = dfu.DownloadRegions(ctx, dc.sess, regions, func(done, total int) {
		if pct := done * 100 / total; pct/10 > lastPct/10 {
			lastPct = pct
			ourutil.Reportf("  %d%% (%d/%d)", pct, done, total)
		}
	})
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Done, %d bytes written", target.Size())

	if *resetFlag {
		if dc.sess.Descriptor().ManifestationTolerant {
			ourutil.Reportf("Resetting...")
			if err := dc.dev.Reset(); err != nil {
				return errors.Annotatef(err, "resetting device")
			}
		}
		// Devices that are not manifestation tolerant already went
		// through a reset or detached on their own.
	}
	return nil
}

// layoutContaining picks the memory layout whose range covers addr.
func layoutContaining(lays []*dfu.MemoryLayout, addr uint32) *dfu.MemoryLayout {
	for _, l := range lays {
		if uint64(addr) >= uint64(l.Address()) && uint64(addr) < uint64(l.Address())+l.Size() {
			return l
		}
	}
	return nil
}
