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

package image

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/juju/errors"
)

// AnyID in a suffix vendor or product field matches any device.
const AnyID uint16 = 0xffff

const (
	suffixMinLength = 16
	// "DFU" stored back to front, at offset 8 of the 16-byte trailer.
	suffixSignature = "UFD"
)

// Suffix is the DFU 1.1 file suffix: the device the file is intended
// for and the DFU spec revision it was made against.
type Suffix struct {
	Device  uint16 // bcdDevice, AnyID if not restricted
	Product uint16 // idProduct, AnyID if not restricted
	Vendor  uint16 // idVendor, AnyID if not restricted
	DFU     uint16 // bcdDFU, 0x011a for DfuSe files
}

// Matches reports whether the suffix allows downloading to the device
// with the given IDs. A nil suffix (an unsuffixed file) matches any
// device.
func (s *Suffix) Matches(vid, pid uint16) bool {
	if s == nil {
		return true
	}
	if s.Vendor != AnyID && s.Vendor != vid {
		return false
	}
	if s.Product != AnyID && s.Product != pid {
		return false
	}
	return true
}

func (s *Suffix) String() string {
	return fmt.Sprintf("%04x:%04x rev %04x dfu %04x", s.Vendor, s.Product, s.Device, s.DFU)
}

// suffixCRC is the CRC the DFU suffix is protected with: standard
// reflected CRC-32 seeded with 0xffffffff and not inverted at the end,
// i.e. the complement of Go's ChecksumIEEE.
func suffixCRC(data []byte) uint32 {
	return ^crc32.ChecksumIEEE(data)
}

// ParseSuffix looks for a DFU suffix at the end of data and returns it
// along with its length in bytes, so callers can strip it. A missing
// suffix is not an error and yields (nil, 0, nil); a suffix that is
// present but corrupt is.
func ParseSuffix(data []byte) (*Suffix, int, error) {
	if len(data) < suffixMinLength {
		return nil, 0, nil
	}
	tr := data[len(data)-suffixMinLength:]
	if string(tr[8:11]) != suffixSignature {
		return nil, 0, nil
	}
	sfxLen := int(tr[11])
	if sfxLen < suffixMinLength {
		return nil, 0, errors.Errorf("invalid DFU suffix length %d", sfxLen)
	}
	if sfxLen > len(data) {
		return nil, 0, errors.Errorf("DFU suffix length %d exceeds the file size %d", sfxLen, len(data))
	}
	stored := binary.LittleEndian.Uint32(tr[12:])
	computed := suffixCRC(data[:len(data)-4])
	if stored != computed {
		return nil, 0, errors.Errorf("DFU suffix CRC mismatch (stored %08x, computed %08x)", stored, computed)
	}
	s := &Suffix{
		Device:  binary.LittleEndian.Uint16(tr[0:]),
		Product: binary.LittleEndian.Uint16(tr[2:]),
		Vendor:  binary.LittleEndian.Uint16(tr[4:]),
		DFU:     binary.LittleEndian.Uint16(tr[6:]),
	}
	return s, sfxLen, nil
}

// AppendSuffix appends a 16-byte DFU suffix to data and returns the
// result. Vendor or product AnyID leaves the file usable on any device.
func AppendSuffix(data []byte, s *Suffix) []byte {
	out := make([]byte, len(data), len(data)+suffixMinLength)
	copy(out, data)
	var tr [suffixMinLength]byte
	binary.LittleEndian.PutUint16(tr[0:], s.Device)
	binary.LittleEndian.PutUint16(tr[2:], s.Product)
	binary.LittleEndian.PutUint16(tr[4:], s.Vendor)
	binary.LittleEndian.PutUint16(tr[6:], s.DFU)
	copy(tr[8:11], suffixSignature)
	tr[11] = suffixMinLength
	out = append(out, tr[:12]...)
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], suffixCRC(out))
	return append(out, crc[:]...)
}
