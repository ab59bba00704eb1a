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

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dfu/dfu"
	"github.com/mongoose-os/dfu/ourutil"
)

// leave makes the bootloader run the application: a set-address command
// followed by a zero-length download tells a DfuSe device to jump to the
// given address.
func leave(ctx context.Context) error {
	dc, err := openDevice()
	if err != nil {
		return errors.Trace(err)
	}
	defer dc.Close()

	lays, err := dc.layouts()
	if err != nil {
		// --address alone is enough to leave by.
		glog.V(1).Infof("no memory layout: %s", err)
		lays = nil
	}
	addr, err := dc.defaultAddress(lays)
	if err != nil {
		return errors.Trace(err)
	}
	ourutil.Reportf("Booting the application at 0x%08x...", addr)
	return errors.Trace(dfu.Download(ctx, dc.sess, nil, addr, nil, nil))
}
