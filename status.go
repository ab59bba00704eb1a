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

	"github.com/mongoose-os/dfu/dfu"
	"github.com/mongoose-os/dfu/ourutil"
)

func status(ctx context.Context) error {
	dc, err := openDevice()
	if err != nil {
		return errors.Trace(err)
	}
	defer dc.Close()
	vid, pid := dc.dev.ID()
	ourutil.Reportf("Device:  %04x:%04x %s, serial '%s'", vid, pid, dc.dev.Product(), dc.dev.Serial())
	ourutil.Reportf("DFU:     %s", dc.dev.Descriptor())
	if an := dc.dev.AltName(); an != "" {
		ourutil.Reportf("Alt:     %s", an)
	}
	rep, err := dfu.ReadStatus(dc.sess)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("State:   %s", rep.State)
	ourutil.Reportf("Status:  %s (%s)", rep.Status, rep.Status.Description())
	return nil
}

func clearStatus(ctx context.Context) error {
	dc, err := openDevice()
	if err != nil {
		return errors.Trace(err)
	}
	defer dc.Close()
	if _, _, err := dc.sess.Clear().Clear(); err != nil {
		return errors.Annotatef(err, "clearing device status")
	}
	rep, err := dfu.ReadStatus(dc.sess)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Device now reports %s/%s", rep.Status, rep.State)
	return nil
}
