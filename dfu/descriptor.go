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
package dfu

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// FunctionalDescriptorType is the class-specific descriptor type of
	// the DFU functional descriptor.
	FunctionalDescriptorType = 0x21
	// FunctionalDescriptorLength is its fixed size on the wire.
	FunctionalDescriptorLength = 9

	// dfuSeVersion is the bcdDFUVersion STM32 bootloaders advertise to
	// signal the DfuSe extensions.
	dfuSeVersion = 0x011a
)

// FunctionalDescriptor is the DFU functional descriptor (DFU 1.1, section
// 4.1.3) advertising the device's capabilities and transfer parameters.
type FunctionalDescriptor struct {
	CanDownload           bool
	CanUpload             bool
	ManifestationTolerant bool
	// WillDetach reports that the device re-enumerates by itself after
	// manifestation, without a host-issued bus reset.
	WillDetach    bool
	DetachTimeout time.Duration
	// TransferSize caps the payload of a single DNLOAD block.
	TransferSize uint16
	// Version is the BCD DFU specification number.
	Version uint16
}

// DfuSe reports whether the device implements the STMicroelectronics
// DfuSe extensions rather than plain DFU 1.1 addressing.
func (d FunctionalDescriptor) DfuSe() bool {
	return d.Version == dfuSeVersion
}

func (d FunctionalDescriptor) String() string {
	return fmt.Sprintf("dnload %v upload %v tolerant %v detach %v xfer %d ver %02x.%02x",
		d.CanDownload, d.CanUpload, d.ManifestationTolerant, d.WillDetach,
		d.TransferSize, byte(d.Version>>8), byte(d.Version))
}

// ParseFunctionalDescriptor decodes the 9-byte wire form.
func ParseFunctionalDescriptor(data []byte) (FunctionalDescriptor, error) {
	if len(data) < FunctionalDescriptorLength {
		return FunctionalDescriptor{}, &ResponseTooShortError{Got: len(data), Want: FunctionalDescriptorLength}
	}
	if data[1] != FunctionalDescriptorType {
		return FunctionalDescriptor{}, fmt.Errorf("not a DFU functional descriptor: type 0x%02x, want 0x%02x", data[1], FunctionalDescriptorType)
	}
	attrs := data[2]
	return FunctionalDescriptor{
		CanDownload:           attrs&0x01 != 0,
		CanUpload:             attrs&0x02 != 0,
		ManifestationTolerant: attrs&0x04 != 0,
		WillDetach:            attrs&0x08 != 0,
		DetachTimeout:         time.Duration(binary.LittleEndian.Uint16(data[3:])) * time.Millisecond,
		TransferSize:          binary.LittleEndian.Uint16(data[5:]),
		Version:               binary.LittleEndian.Uint16(data[7:]),
	}, nil
}
