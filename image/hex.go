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
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	// Holes smaller than this are filled with the erased-flash value
	// instead of splitting the image into separate elements.
	hexMaxGapSize = 256
	hexFillByte   = 0xff
)

func parseHex(hexData []byte, fill byte, maxGapSize int) ([]Element, error) {
	var elems []Element
	eof := false
	scanner := bufio.NewScanner(bytes.NewBuffer(hexData))
	lineNo := 0
	var curData []byte
	var base, partBase, curAddr uint32
	for scanner.Scan() {
		lineNo++
		l := strings.TrimSpace(scanner.Text())
		if len(l) == 0 {
			continue
		}
		if l[0] != ':' {
			return nil, errors.Errorf("line %d: invalid start of the line", lineNo)
		}
		if len(l) < 11 || len(l)%2 != 1 {
			return nil, errors.Errorf("line %d: too short (%d)", lineNo, len(l))
		}
		ld, err := hex.DecodeString(l[1:])
		if err != nil {
			return nil, errors.Errorf("line %d: error decoding record body", lineNo)
		}
		recLen := ld[0]
		if len(ld) != 4+int(recLen)+1 {
			return nil, errors.Errorf("line %d: invalid length %d", lineNo, len(ld))
		}
		checksum := ld[len(ld)-1]
		cs := uint8(0)
		for _, b := range ld[:len(ld)-1] {
			cs += uint8(b)
		}
		cs = (cs ^ 0xff) + 1
		if cs != checksum {
			return nil, errors.Errorf("line %d: invalid checksum (want %02x, got %02x)", lineNo, checksum, cs)
		}
		recOffset := binary.BigEndian.Uint16(ld[1:3])
		recType := ld[3]
		body := ld[4 : 4+recLen]
		switch recType {
		case 0:
			addr := base + uint32(recOffset)
			if curData != nil && addr != curAddr {
				// There is a discontinuity in data.
				gap := int64(addr) - int64(curAddr)
				if gap > 0 && gap < int64(maxGapSize) {
					curData = append(curData, bytes.Repeat([]byte{fill}, int(gap))...)
				} else {
					// Flush the element, start a new one.
					elems = append(elems, Element{Address: partBase, Data: curData})
					curData = nil
				}
			}
			if curData == nil {
				partBase = addr
			}
			curData = append(curData, body...)
			curAddr = addr + uint32(len(body))
		case 1:
			if curData != nil {
				elems = append(elems, Element{Address: partBase, Data: curData})
			}
			eof = true
		case 2:
			if recLen != 2 {
				return nil, errors.Errorf("line %d: invalid extended segment address", lineNo)
			}
			base = uint32(binary.BigEndian.Uint16(body)) << 4
		case 3, 5:
			// Start address records carry the entry point, which plays
			// no role in a DFU download.
			if recLen != 4 {
				return nil, errors.Errorf("line %d: invalid start address record", lineNo)
			}
			glog.V(3).Infof("line %d: ignoring start address record type %d", lineNo, recType)
		case 4:
			if recLen != 2 {
				return nil, errors.Errorf("line %d: invalid extended linear address", lineNo)
			}
			base = uint32(binary.BigEndian.Uint16(body)) << 16
		default:
			return nil, errors.Errorf("line %d: unsupported record type (%d)", lineNo, recType)
		}
		if eof {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotatef(err, "line %d", lineNo)
	}
	if !eof {
		return nil, errors.Errorf("unexpected end of data")
	}
	return elems, nil
}
