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

// Package devices carries per-device overrides for bootloaders with
// known-broken descriptors: wrong transfer sizes, missing or bogus
// memory layout strings, zero poll timeouts. Users can supply more in
// a YAML file keyed by "vid:pid".
package devices

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/dfu/ourutil"
)

// Override replaces what the device descriptors claim. Zero fields
// leave the corresponding descriptor value alone.
type Override struct {
	Name             string `yaml:"name,omitempty"`
	TransferSize     uint16 `yaml:"transfer_size,omitempty"`
	Layout           string `yaml:"layout,omitempty"`
	MinPollTimeoutMs int    `yaml:"min_poll_timeout_ms,omitempty"`
	DefaultAddress   uint32 `yaml:"default_address,omitempty"`
}

func (o *Override) MinPollTimeout() time.Duration {
	return time.Duration(o.MinPollTimeoutMs) * time.Millisecond
}

// Registry maps devices to overrides, user-loaded entries shadowing
// the builtin ones.
type Registry struct {
	user    map[string]*Override
	builtin map[string]*Override
}

// Builtin returns a registry with the quirks this tool knows about.
func Builtin() *Registry {
	return &Registry{
		builtin: map[string]*Override{
			// GigaDevice GD32VF103 bootloader describes its flash as
			// 512 1K pages; the chip tops out at 128K.
			"28e9:0189": {
				Name:   "GD32VF103",
				Layout: "@Internal Flash /0x08000000/128*001Kg",
			},
			// Reports bwPollTimeout 0 and then NAKs the status poll.
			"1d50:5119": {
				Name:             "OpenMoko Freerunner",
				MinPollTimeoutMs: 5,
			},
			// The ROM bootloader default, handy for bare binaries.
			"0483:df11": {
				Name:           "STM32 BOOTLOADER",
				DefaultAddress: 0x08000000,
			},
		},
	}
}

var keyRE = regexp.MustCompile(`^(?P<vid>[0-9a-fA-F]{1,4}):(?P<pid>[0-9a-fA-F]{1,4})$`)

func parseKey(key string) (uint16, uint16, error) {
	m := ourutil.FindNamedSubmatches(keyRE, key)
	if m == nil {
		return 0, 0, errors.Errorf("invalid device key %q, want vid:pid", key)
	}
	vid, _ := strconv.ParseUint(m["vid"], 16, 16)
	pid, _ := strconv.ParseUint(m["pid"], 16, 16)
	return uint16(vid), uint16(pid), nil
}

func lookupKey(vid, pid uint16) string {
	return fmt.Sprintf("%04x:%04x", vid, pid)
}

// LoadFile merges user overrides from a YAML file into the registry.
func (r *Registry) LoadFile(fname string) error {
	data, err := os.ReadFile(fname)
	if err != nil {
		return errors.Trace(err)
	}
	if err := r.Load(data); err != nil {
		return errors.Annotatef(err, "%s", fname)
	}
	return nil
}

// Load merges user overrides from YAML data into the registry.
func (r *Registry) Load(data []byte) error {
	var entries map[string]*Override
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return errors.Annotatef(err, "parsing device overrides")
	}
	if r.user == nil {
		r.user = map[string]*Override{}
	}
	for key, o := range entries {
		vid, pid, err := parseKey(key)
		if err != nil {
			return errors.Trace(err)
		}
		r.user[lookupKey(vid, pid)] = o
		glog.V(2).Infof("device override %04x:%04x: %+v", vid, pid, *o)
	}
	return nil
}

// Lookup returns the override for the device, or nil if there is none.
// A user entry shadows the builtin one entirely.
func (r *Registry) Lookup(vid, pid uint16) *Override {
	key := lookupKey(vid, pid)
	if o, ok := r.user[key]; ok {
		return o
	}
	return r.builtin[key]
}
