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

// Package image loads firmware images for DFU download: plain binaries,
// binaries with a DFU suffix, DfuSe files (the STMicroelectronics
// extension) and Intel HEX.
package image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Format is the payload encoding of a firmware file, regardless of
// whether a DFU suffix was attached to it.
type Format int

const (
	FormatRaw Format = iota
	FormatDfuSe
	FormatIntelHex
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatDfuSe:
		return "DfuSe"
	case FormatIntelHex:
		return "Intel HEX"
	}
	return fmt.Sprintf("format %d", int(f))
}

// Element is a contiguous chunk of firmware data. Address is absolute
// for DfuSe and Intel HEX payloads; raw payloads carry no address and
// leave it 0, the caller decides where they go.
type Element struct {
	Address uint32
	Data    []byte
}

// Target is the part of an image destined for one alt setting of the
// device. Raw and Intel HEX payloads produce a single unnamed target
// with alt setting 0.
type Target struct {
	Alt      uint8
	Name     string
	Elements []Element
}

// Size returns the number of payload bytes in the target.
func (t *Target) Size() int {
	n := 0
	for _, e := range t.Elements {
		n += len(e.Data)
	}
	return n
}

// File is a parsed firmware file.
type File struct {
	Format  Format
	Suffix  *Suffix // nil if the file carries no DFU suffix
	Targets []Target
}

// Target returns the target for the given alt setting, or nil. Formats
// without alt information have their only target returned for any alt.
func (f *File) Target(alt uint8) *Target {
	if f.Format != FormatDfuSe && len(f.Targets) == 1 {
		return &f.Targets[0]
	}
	for i := range f.Targets {
		if f.Targets[i].Alt == alt {
			return &f.Targets[i]
		}
	}
	return nil
}

func (f *File) String() string {
	ss := ""
	if f.Suffix != nil {
		ss = fmt.Sprintf(", suffix %s", f.Suffix)
	}
	n := 0
	for i := range f.Targets {
		n += f.Targets[i].Size()
	}
	return fmt.Sprintf("%s, %d target(s), %d bytes%s", f.Format, len(f.Targets), n, ss)
}

// Parse decodes a firmware file. The DFU suffix, if present, is
// verified and stripped first, then the payload encoding is sniffed.
func Parse(data []byte) (*File, error) {
	sfx, sfxLen, err := ParseSuffix(data)
	if err != nil {
		return nil, errors.Trace(err)
	}
	body := data[:len(data)-sfxLen]
	f := &File{Suffix: sfx}
	switch {
	case bytes.HasPrefix(body, []byte(dfuseSignature)):
		f.Format = FormatDfuSe
		if f.Targets, err = parseDfuSe(body); err != nil {
			return nil, errors.Annotatef(err, "parsing DfuSe payload")
		}
	case looksLikeHex(body):
		f.Format = FormatIntelHex
		elems, err := parseHex(body, hexFillByte, hexMaxGapSize)
		if err != nil {
			return nil, errors.Annotatef(err, "parsing Intel HEX payload")
		}
		f.Targets = []Target{{Elements: elems}}
	default:
		f.Format = FormatRaw
		f.Targets = []Target{{Elements: []Element{{Data: body}}}}
	}
	glog.V(1).Infof("parsed image: %s", f)
	return f, nil
}

// ParseFile reads and decodes the firmware file fname.
func ParseFile(fname string) (*File, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "%s", fname)
	}
	return f, nil
}

func looksLikeHex(data []byte) bool {
	data = bytes.TrimLeft(data, " \t\r\n")
	return len(data) > 0 && data[0] == ':'
}
