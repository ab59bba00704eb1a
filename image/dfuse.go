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
	"bytes"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// DfuSe file layout, per ST UM0391: an 11-byte prefix, then bTargets
// targets, each a 274-byte target prefix followed by its elements.
const (
	dfuseSignature  = "DfuSe"
	dfuseVersion    = 0x01
	dfusePrefixLen  = 11
	dfuseTargetSig  = "Target"
	dfuseTargetLen  = 274
	dfuseTargetName = 255
	dfuseElementLen = 8
)

func parseDfuSe(data []byte) ([]Target, error) {
	if len(data) < dfusePrefixLen {
		return nil, errors.Errorf("truncated prefix (%d bytes)", len(data))
	}
	if v := data[5]; v != dfuseVersion {
		return nil, errors.Errorf("unsupported DfuSe version %d", v)
	}
	imageSize := binary.LittleEndian.Uint32(data[6:])
	nTargets := int(data[10])
	if int64(imageSize) != int64(len(data)) {
		// The prefix counts itself and all targets; the suffix is
		// already stripped by the caller.
		return nil, errors.Errorf("image size %d does not match the payload size %d", imageSize, len(data))
	}
	glog.V(2).Infof("DfuSe: %d bytes, %d target(s)", imageSize, nTargets)
	rest := data[dfusePrefixLen:]
	var targets []Target
	for ti := 0; ti < nTargets; ti++ {
		t, n, err := parseDfuSeTarget(rest)
		if err != nil {
			return nil, errors.Annotatef(err, "target %d", ti)
		}
		targets = append(targets, t)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, errors.Errorf("%d trailing bytes after the last target", len(rest))
	}
	return targets, nil
}

func parseDfuSeTarget(data []byte) (Target, int, error) {
	var t Target
	if len(data) < dfuseTargetLen {
		return t, 0, errors.Errorf("truncated target prefix (%d bytes)", len(data))
	}
	if !bytes.HasPrefix(data, []byte(dfuseTargetSig)) {
		return t, 0, errors.Errorf("bad target signature % x", data[:6])
	}
	t.Alt = data[6]
	named := binary.LittleEndian.Uint32(data[7:]) != 0
	if named {
		name := data[11 : 11+dfuseTargetName]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		t.Name = string(name)
	}
	nElements := int(binary.LittleEndian.Uint32(data[270:]))
	pos := dfuseTargetLen
	for ei := 0; ei < nElements; ei++ {
		if len(data)-pos < dfuseElementLen {
			return t, 0, errors.Errorf("truncated element %d header", ei)
		}
		addr := binary.LittleEndian.Uint32(data[pos:])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		pos += dfuseElementLen
		if len(data)-pos < size {
			return t, 0, errors.Errorf("truncated element %d: %d bytes declared, %d available", ei, size, len(data)-pos)
		}
		t.Elements = append(t.Elements, Element{Address: addr, Data: data[pos : pos+size]})
		pos += size
	}
	// dwTargetSize at offset 266 is redundant with the element walk;
	// some generators get it wrong, so it is not enforced.
	if ts := binary.LittleEndian.Uint32(data[266:]); int(ts) != pos-dfuseTargetLen {
		glog.V(2).Infof("target size field %d != %d walked, ignoring", ts, pos-dfuseTargetLen)
	}
	glog.V(2).Infof("DfuSe target: alt %d name %q, %d element(s), %d bytes", t.Alt, t.Name, len(t.Elements), t.Size())
	return t, pos, nil
}
