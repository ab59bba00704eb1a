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

	"github.com/juju/errors"

	"github.com/mongoose-os/dfu/ourutil"
	"github.com/mongoose-os/dfu/usb"
)

func list(ctx context.Context) error {
	vid, pid, err := idFlags()
	if err != nil {
		return errors.Trace(err)
	}
	infos, err := usb.List()
	if err != nil {
		return errors.Trace(err)
	}
	n := 0
	for _, in := range infos {
		if vid != 0 && in.VID != vid {
			continue
		}
		if pid != 0 && in.PID != pid {
			continue
		}
		n++
		p := ""
		if in.Product != "" {
			p = " " + in.Product
		}
		sn := ""
		if in.Serial != "" {
			sn = ", serial '" + in.Serial + "'"
		}
		ourutil.Reportf("%s%s%s", in, p, sn)
		for _, alt := range in.Alts {
			ourutil.Reportf("  alt %d: %s", alt.Number, alt.Name)
		}
	}
	if n == 0 {
		ourutil.Reportf("No DFU devices found")
	}
	return nil
}
