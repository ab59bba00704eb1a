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

//go:build !no_libudev

package usb

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"

	"github.com/mongoose-os/dfu/dfu"
)

const (
	classAppSpecific gousb.Class    = 0xfe
	subclassDFU      gousb.Class    = 0x01
	protoDFU         gousb.Protocol = 0x02

	// Standard GET_DESCRIPTOR request, addressed at the interface.
	reqGetDescriptor uint8 = 0x06
	reqTypeIntfIn    uint8 = 0x81
	directionIn      uint8 = 0x80
)

type device struct {
	uctx    *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	ifnum   uint16
	alt     int
	serial  string
	product string
	altName string
	desc    dfu.FunctionalDescriptor
}

// Open finds the DFU device matching vid, pid and (optionally) serial and
// claims its DFU interface with the given alt setting (0 when alt < 0).
// vid and pid of 0 match any device carrying a DFU interface. It is an
// error for more than one device to match: flashing should never guess.
func Open(vid, pid uint16, serial string, alt int) (Device, error) {
	d, err := open(gousb.NewContext(), vid, pid, serial, alt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}

// open takes ownership of uctx: it is released with everything else on
// failure, and by Device.Close on success.
func open(uctx *gousb.Context, vid, pid uint16, serial string, alt int) (*device, error) {
	d := &device{uctx: uctx}
	ok := false
	defer func() {
		if !ok {
			d.close()
		}
	}()

	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		if vid != 0 && uint16(dd.Vendor) != vid {
			return false
		}
		if pid != 0 && uint16(dd.Product) != pid {
			return false
		}
		_, _, _, ok := dfuInterface(dd)
		glog.V(1).Infof("dev %04x:%04x bus %d addr %d: dfu %v",
			uint16(dd.Vendor), uint16(dd.Product), dd.Bus, dd.Address, ok)
		return ok
	})
	// OpenDevices may fail overall but still return results. Only fail if
	// no devices were returned.
	if err != nil {
		if len(devs) == 0 {
			return nil, errors.Annotatef(err, "failed to enumerate USB devices")
		}
		glog.Warningf("partial USB enumeration failure: %s", err)
	}
	var matched []*gousb.Device
	for _, dev := range devs {
		sn, _ := dev.SerialNumber()
		glog.V(1).Infof("dev %s sn '%s'", dev, sn)
		if serial == "" || sn == serial {
			matched = append(matched, dev)
		} else {
			dev.Close()
		}
	}
	if len(matched) == 0 {
		sp := ""
		if serial != "" {
			sp = "/" + serial
		}
		return nil, errors.Errorf("no DFU device matching %04x:%04x%s found", vid, pid, sp)
	}
	if len(matched) > 1 {
		var cands []string
		for _, dev := range matched {
			sn, _ := dev.SerialNumber()
			cands = append(cands, fmt.Sprintf("%04x:%04x bus %d addr %d sn '%s'",
				uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), dev.Desc.Bus, dev.Desc.Address, sn))
			dev.Close()
		}
		return nil, errors.Errorf("more than one DFU device matches, use --serial or --vid/--pid to disambiguate: %s",
			strings.Join(cands, "; "))
	}
	d.dev = matched[0]

	dd := d.dev.Desc
	cfgNum, ifNum, dfuMode, _ := dfuInterface(dd)
	if !dfuMode {
		return nil, errors.Errorf("device %04x:%04x is in runtime mode, reboot it into its DFU bootloader first",
			uint16(dd.Vendor), uint16(dd.Product))
	}
	if alt < 0 {
		alt = 0
	}
	if err := d.dev.SetAutoDetach(true); err != nil {
		glog.Warningf("SetAutoDetach failed: %s", err)
	}
	d.serial, _ = d.dev.SerialNumber()
	d.product, _ = d.dev.Product()
	if d.cfg, err = d.dev.Config(cfgNum); err != nil {
		return nil, errors.Annotatef(err, "claiming configuration %d", cfgNum)
	}
	if d.intf, err = d.cfg.Interface(ifNum, alt); err != nil {
		return nil, errors.Annotatef(err, "claiming interface %d alt %d", ifNum, alt)
	}
	d.ifnum = uint16(ifNum)
	d.alt = alt
	if d.desc, err = d.functionalDescriptor(); err != nil {
		return nil, errors.Annotatef(err, "reading the DFU functional descriptor")
	}
	if d.altName, err = d.dev.InterfaceDescription(cfgNum, ifNum, alt); err != nil {
		glog.V(2).Infof("no alt setting name: %s", err)
		d.altName = ""
	}
	glog.V(1).Infof("opened %04x:%04x sn '%s' intf %d alt %d %q, %s",
		uint16(dd.Vendor), uint16(dd.Product), d.serial, ifNum, alt, d.altName, d.desc)
	ok = true
	return d, nil
}

// dfuInterface locates the DFU interface in a device descriptor,
// returning its configuration and interface numbers and whether the
// device is in DFU (as opposed to runtime) mode.
func dfuInterface(dd *gousb.DeviceDesc) (cfgNum, ifNum int, dfuMode, found bool) {
	for _, cfg := range dd.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class == classAppSpecific && alt.SubClass == subclassDFU {
					return cfg.Number, intf.Number, alt.Protocol == protoDFU, true
				}
			}
		}
	}
	return 0, 0, false, false
}

// functionalDescriptor asks the device for the 9-byte DFU functional
// descriptor. gousb does not expose the extra descriptor bytes trailing
// the interface descriptor, so fetch it over the control pipe.
func (d *device) functionalDescriptor() (dfu.FunctionalDescriptor, error) {
	buf := make([]byte, dfu.FunctionalDescriptorLength)
	n, err := d.dev.Control(reqTypeIntfIn, reqGetDescriptor,
		uint16(dfu.FunctionalDescriptorType)<<8, d.ifnum, buf)
	if err != nil {
		return dfu.FunctionalDescriptor{}, errors.Trace(err)
	}
	glog.V(4).Infof("functional descriptor <- % x", buf[:n])
	fd, err := dfu.ParseFunctionalDescriptor(buf[:n])
	if err != nil {
		return dfu.FunctionalDescriptor{}, errors.Trace(err)
	}
	return fd, nil
}

func (d *device) ReadControl(requestType, request uint8, value uint16, buf []byte) (int, error) {
	// The engine formulates requests direction-neutrally; set the
	// device-to-host bit here.
	return d.dev.Control(requestType|directionIn, request, value, d.ifnum, buf)
}

func (d *device) WriteControl(requestType, request uint8, value uint16, data []byte) (int, error) {
	return d.dev.Control(requestType, request, value, d.ifnum, data)
}

func (d *device) Reset() error {
	return d.dev.Reset()
}

func (d *device) ID() (uint16, uint16) {
	return uint16(d.dev.Desc.Vendor), uint16(d.dev.Desc.Product)
}

func (d *device) Serial() string {
	return d.serial
}

func (d *device) Product() string {
	return d.product
}

func (d *device) Descriptor() dfu.FunctionalDescriptor {
	return d.desc
}

func (d *device) AltName() string {
	return d.altName
}

func (d *device) Layouts() ([]*dfu.MemoryLayout, error) {
	if d.altName == "" {
		return nil, errors.Errorf("device does not describe its memory layout, use --layout")
	}
	ms, err := dfu.ParseMemoryLayout(d.altName)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing alt setting %d name", d.alt)
	}
	return ms, nil
}

func (d *device) Close() error {
	return errors.Trace(d.close())
}

func (d *device) close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	var firstErr error
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			firstErr = err
		}
		d.cfg = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.dev = nil
	}
	// The context goes last, after every device obtained from it.
	if d.uctx != nil {
		if err := d.uctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.uctx = nil
	}
	return firstErr
}

// List enumerates the DFU-capable devices on the bus.
func List() ([]Info, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		_, _, _, ok := dfuInterface(dd)
		return ok
	})
	if err != nil {
		if len(devs) == 0 {
			return nil, errors.Annotatef(err, "failed to enumerate USB devices")
		}
		glog.Warningf("partial USB enumeration failure: %s", err)
	}
	var res []Info
	for _, dev := range devs {
		res = append(res, deviceInfo(dev))
		dev.Close()
	}
	return res, nil
}

func deviceInfo(dev *gousb.Device) Info {
	dd := dev.Desc
	cfgNum, ifNum, dfuMode, _ := dfuInterface(dd)
	in := Info{
		VID:     uint16(dd.Vendor),
		PID:     uint16(dd.Product),
		Bus:     dd.Bus,
		Address: dd.Address,
		DFUMode: dfuMode,
	}
	in.Product, _ = dev.Product()
	in.Serial, _ = dev.SerialNumber()
	for _, intf := range dd.Configs[cfgNum].Interfaces {
		if intf.Number != ifNum {
			continue
		}
		for _, alt := range intf.AltSettings {
			name, err := dev.InterfaceDescription(cfgNum, ifNum, alt.Alternate)
			if err != nil {
				name = ""
			}
			in.Alts = append(in.Alts, AltInfo{Number: alt.Alternate, Name: name})
		}
	}
	return in
}
