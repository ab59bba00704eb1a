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
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/dfu/ourutil"
)

// MemoryLayout is the erasable page structure of a flash region, ordered
// by address. The download loop consumes pages head-first while the erase
// cursor runs ahead of the writes.
type MemoryLayout struct {
	name    string
	address uint32
	pages   []uint32
	attrs   []PageAttrs // parallel to pages; nil means all pages r/e/w
}

// PageAttrs is the access mode of a page, decoded from the sector-run
// mode letter of a DfuSe descriptor: 'a'..'g' carry the
// readable/erasable/writable bits.
type PageAttrs uint8

const (
	PageReadable PageAttrs = 1 << iota
	PageErasable
	PageWritable
)

// NewMemoryLayout builds a layout from explicit page sizes.
func NewMemoryLayout(name string, address uint32, pageSizes ...uint32) *MemoryLayout {
	return &MemoryLayout{name: name, address: address, pages: pageSizes}
}

// Name returns the region name from the descriptor, e.g. "Internal Flash".
func (m *MemoryLayout) Name() string {
	return m.name
}

// Address returns the region base address.
func (m *MemoryLayout) Address() uint32 {
	return m.address
}

// Pages returns the page sizes in address order. The slice is the
// layout's own and must not be modified.
func (m *MemoryLayout) Pages() []uint32 {
	return m.pages
}

// Attrs returns the per-page access modes, parallel to Pages. A nil
// slice means every page is readable, erasable and writable.
func (m *MemoryLayout) Attrs() []PageAttrs {
	return m.attrs
}

// Erasable reports whether every page of the region may be erased. DfuSe
// devices expose regions that are written without erasing, like the
// STM32 option bytes; the download engine does not drive those.
func (m *MemoryLayout) Erasable() bool {
	for _, a := range m.attrs {
		if a&PageErasable == 0 {
			return false
		}
	}
	return true
}

// Size returns the total region size in bytes.
func (m *MemoryLayout) Size() uint64 {
	var n uint64
	for _, p := range m.pages {
		n += uint64(p)
	}
	return n
}

func (m *MemoryLayout) String() string {
	return fmt.Sprintf("%s @ 0x%08x, %d pages, %d bytes", m.name, m.address, len(m.pages), m.Size())
}

// pageSizes tolerates a nil layout: no pages, which is enough for a
// download that erases nothing.
func pageSizes(m *MemoryLayout) []uint32 {
	if m == nil {
		return nil
	}
	return m.pages
}

// From returns the tail of the layout backing addresses at and above
// addr, for downloads that start past the region base (e.g. behind a
// resident bootloader). addr must fall on a page boundary inside the
// region.
func (m *MemoryLayout) From(addr uint32) (*MemoryLayout, error) {
	if addr < m.address {
		return nil, errors.Errorf("address 0x%08x is below the region base 0x%08x", addr, m.address)
	}
	pos := m.address
	for i, p := range m.pages {
		if pos == addr {
			tail := &MemoryLayout{name: m.name, address: addr, pages: m.pages[i:]}
			if m.attrs != nil {
				tail.attrs = m.attrs[i:]
			}
			return tail, nil
		}
		if pos > addr {
			break
		}
		pos += p
	}
	return nil, errors.Errorf("address 0x%08x is not a page boundary of %s", addr, m)
}

// A DfuSe device describes its flash regions in the name of each DFU alt
// setting, e.g.
//
//	@Internal Flash  /0x08000000/004*016Kg,001*064Kg,007*128Kg
//
// name, then one or more address groups, each a base address followed by
// comma-separated sector runs of count*size with a multiplier suffix and
// an access-mode letter (a..g encoding readable/erasable/writable bits).
var sectorRunRE = regexp.MustCompile(`^(?P<count>[0-9]+)\*(?P<size>[0-9]+)(?P<unit>[BKM ]?)(?P<mode>[a-g])$`)

// ParseMemoryLayout parses a DfuSe memory description string, returning
// one layout per address group.
func ParseMemoryLayout(s string) ([]*MemoryLayout, error) {
	if !strings.HasPrefix(s, "@") {
		return nil, errors.Errorf("%q is not a DfuSe memory description", s)
	}
	parts := strings.Split(s[1:], "/")
	if len(parts) < 3 || (len(parts)-1)%2 != 0 {
		return nil, errors.Errorf("malformed memory description %q", s)
	}
	name := strings.TrimSpace(parts[0])
	var res []*MemoryLayout
	for i := 1; i < len(parts); i += 2 {
		addr, err := parseHex32(parts[i])
		if err != nil {
			return nil, errors.Annotatef(err, "bad base address %q", parts[i])
		}
		pages, attrs, err := parseSectorRuns(parts[i+1])
		if err != nil {
			return nil, errors.Annotatef(err, "bad sector description %q", parts[i+1])
		}
		res = append(res, &MemoryLayout{name: name, address: addr, pages: pages, attrs: attrs})
	}
	return res, nil
}

func parseSectorRuns(s string) ([]uint32, []PageAttrs, error) {
	var pages []uint32
	var attrs []PageAttrs
	for _, run := range strings.Split(s, ",") {
		m := ourutil.FindNamedSubmatches(sectorRunRE, strings.TrimSpace(run))
		if m == nil {
			return nil, nil, errors.Errorf("invalid sector run %q", run)
		}
		count, err := strconv.ParseUint(m["count"], 10, 32)
		if err != nil || count == 0 {
			return nil, nil, errors.Errorf("invalid sector count %q", m["count"])
		}
		size, err := strconv.ParseUint(m["size"], 10, 32)
		if err != nil {
			return nil, nil, errors.Errorf("invalid sector size %q", m["size"])
		}
		switch m["unit"] {
		case "K":
			size *= 1024
		case "M":
			size *= 1024 * 1024
		}
		if size == 0 || size > math.MaxUint32 {
			return nil, nil, errors.Errorf("sector size %d is out of range", size)
		}
		mode := PageAttrs(m["mode"][0] - 'a' + 1)
		for i := uint64(0); i < count; i++ {
			pages = append(pages, uint32(size))
			attrs = append(attrs, mode)
		}
	}
	return pages, attrs, nil
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return uint32(v), nil
}
