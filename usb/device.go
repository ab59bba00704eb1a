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

// Package usb discovers DFU-capable USB devices and provides the control
// transfer transport the protocol engine runs on.
package usb

import (
	"fmt"

	"github.com/mongoose-os/dfu/dfu"
)

// Device is an open, claimed DFU interface on a USB device.
type Device interface {
	dfu.Transport

	// ID returns the device's vendor and product IDs.
	ID() (vid, pid uint16)
	// Serial returns the device's serial number, "" when it has none.
	Serial() string
	// Product returns the product string, "" when the device has none.
	Product() string
	// Descriptor returns the DFU functional descriptor.
	Descriptor() dfu.FunctionalDescriptor
	// AltName returns the name of the claimed alt setting. On DfuSe
	// devices this is the memory description of the region.
	AltName() string
	// Layouts parses the claimed alt setting's memory description.
	Layouts() ([]*dfu.MemoryLayout, error)
	// Close releases the interface, the device and the USB context.
	Close() error
}

// AltInfo is one alt setting of a discovered DFU interface.
type AltInfo struct {
	Number int
	Name   string
}

// Info describes a DFU-capable device found during enumeration.
type Info struct {
	VID, PID     uint16
	Bus, Address int
	Product      string
	Serial       string
	// DFUMode is false for devices still running their application
	// firmware (runtime protocol); those need to be rebooted into the
	// bootloader before they accept a download.
	DFUMode bool
	Alts    []AltInfo
}

func (i Info) String() string {
	mode := "runtime"
	if i.DFUMode {
		mode = "DFU"
	}
	return fmt.Sprintf("%04x:%04x bus %d addr %d (%s)", i.VID, i.PID, i.Bus, i.Address, mode)
}
