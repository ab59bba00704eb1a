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
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/dfu/devices"
	"github.com/mongoose-os/dfu/dfu"
	"github.com/mongoose-os/dfu/usb"
)

// deviceConn is an opened DFU device together with the session and the
// override entry that apply to it.
type deviceConn struct {
	dev      usb.Device
	sess     *dfu.Session
	override *devices.Override
}

func parseHex16(name, val string) (uint16, error) {
	if val == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(val), "0x"), 16, 16)
	if err != nil {
		return 0, errors.Errorf("invalid --%s value %q, want hex like 0483", name, val)
	}
	return uint16(v), nil
}

func idFlags() (uint16, uint16, error) {
	vid, err := parseHex16("vid", *vidFlag)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	pid, err := parseHex16("pid", *pidFlag)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	return vid, pid, nil
}

func loadOverrides() (*devices.Registry, error) {
	reg := devices.Builtin()
	if *overridesFile != "" {
		if err := reg.LoadFile(*overridesFile); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return reg, nil
}

// openDevice opens the DFU device selected by the flags and builds a
// session for it, with any overrides applied on top of its descriptor.
func openDevice() (*deviceConn, error) {
	reg, err := loadOverrides()
	if err != nil {
		return nil, errors.Trace(err)
	}
	vid, pid, err := idFlags()
	if err != nil {
		return nil, errors.Trace(err)
	}
	dev, err := usb.Open(vid, pid, *serialFlag, *altFlag)
	if err != nil {
		return nil, errors.Trace(err)
	}
	devVID, devPID := dev.ID()
	o := reg.Lookup(devVID, devPID)
	if o != nil && o.Name != "" {
		glog.V(1).Infof("known device: %s", o.Name)
	}
	desc := dev.Descriptor()
	switch {
	case *transferSize > 0:
		if *transferSize > 0xffff {
			dev.Close()
			return nil, errors.Errorf("--transfer-size must be at most 65535")
		}
		desc.TransferSize = uint16(*transferSize)
	case o != nil && o.TransferSize != 0:
		glog.V(1).Infof("override: transfer size %d", o.TransferSize)
		desc.TransferSize = o.TransferSize
	}
	sess := dfu.NewSession(dev, desc)
	if o != nil && o.MinPollTimeoutMs > 0 {
		glog.V(1).Infof("override: min poll timeout %v", o.MinPollTimeout())
		sess.SetMinPollTimeout(o.MinPollTimeout())
	}
	return &deviceConn{dev: dev, sess: sess, override: o}, nil
}

func (dc *deviceConn) Close() {
	if err := dc.dev.Close(); err != nil {
		glog.Errorf("closing device: %s", err)
	}
}

// layouts resolves the memory layout: the --layout flag wins, then the
// per-device override, then whatever the claimed alt setting describes.
func (dc *deviceConn) layouts() ([]*dfu.MemoryLayout, error) {
	if *layoutFlag != "" {
		ms, err := dfu.ParseMemoryLayout(*layoutFlag)
		return ms, errors.Annotatef(err, "--layout")
	}
	if dc.override != nil && dc.override.Layout != "" {
		ms, err := dfu.ParseMemoryLayout(dc.override.Layout)
		return ms, errors.Annotatef(err, "device override layout")
	}
	return dc.dev.Layouts()
}

// defaultAddress is where a raw image with no address of its own goes.
func (dc *deviceConn) defaultAddress(lays []*dfu.MemoryLayout) (uint32, error) {
	if *addressFlag != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(*addressFlag), "0x"), 16, 32)
		if err != nil {
			return 0, errors.Errorf("invalid --address value %q", *addressFlag)
		}
		return uint32(v), nil
	}
	if dc.override != nil && dc.override.DefaultAddress != 0 {
		return dc.override.DefaultAddress, nil
	}
	if len(lays) > 0 {
		return lays[0].Address(), nil
	}
	return 0, errors.Errorf("no memory layout to infer the address from, use --address")
}
