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

// Package dfu implements the host side of the USB Device Firmware Upgrade
// protocol (DFU 1.1) together with the DfuSe extensions used by STM32
// bootloaders.
//
// The protocol engine is sans-I/O: command values compute the control
// transfers to issue and parse the responses, while a Transport
// implementation carries them out. Waiting is explicit as well: poll steps
// tell the caller how long the device asked to be left alone instead of
// sleeping themselves. Download runs the engine against a transport
// synchronously for callers that do not need that level of control.
//
// Command values are single use. Each one either performs its transfer and
// hands out the follow-up value, or fails; reusing a value that already ran
// is an error. Dropping a pending value is always safe, the device keeps
// whatever state it had and a new session can be started later.
package dfu

import (
	"time"

	"github.com/golang/glog"
)

// DFU class-specific request codes (DFU 1.1, table 3.2).
const (
	reqDetach    uint8 = 0
	reqDnload    uint8 = 1
	reqUpload    uint8 = 2
	reqGetStatus uint8 = 3
	reqClrStatus uint8 = 4
	reqGetState  uint8 = 5
	reqAbort     uint8 = 6
)

// requestType is the bmRequestType of every DFU class request: class
// request, interface recipient. The transport adds the direction bit on
// reads and supplies the interface number as wIndex.
const requestType uint8 = 0b00100001

// Transport performs the USB control transfers the protocol engine asks
// for. Implementations address the transfers at the claimed DFU interface.
type Transport interface {
	// ReadControl issues an IN control transfer and fills buf, returning
	// the number of bytes the device sent.
	ReadControl(requestType, request uint8, value uint16, buf []byte) (int, error)
	// WriteControl issues an OUT control transfer carrying data, returning
	// the number of bytes accepted.
	WriteControl(requestType, request uint8, value uint16, data []byte) (int, error)
	// Reset performs a USB bus reset of the device.
	Reset() error
}

// Session binds a transport to the device's DFU attributes and builds the
// protocol command chains.
type Session struct {
	io      Transport
	desc    FunctionalDescriptor
	minPoll time.Duration
}

// NewSession creates a session over io for a device advertising desc.
func NewSession(io Transport, desc FunctionalDescriptor) *Session {
	return &Session{io: io, desc: desc}
}

// Descriptor returns the functional descriptor the session was built with.
func (s *Session) Descriptor() FunctionalDescriptor {
	return s.desc
}

// SetMinPollTimeout puts a floor under the poll intervals reported by the
// device. Some bootloaders advertise near-zero timeouts and then stall
// when polled that fast.
func (s *Session) SetMinPollTimeout(d time.Duration) {
	s.minPoll = d
}

// Download begins a firmware download session: clear any stale error
// state, query the device and verify it sits in dfuIDLE. The returned
// chain yields the download loop once the device checks out.
//
// layout lists the erasable pages backing the region at address; length
// is the total number of firmware bytes about to be streamed. A nil
// layout has no pages, which only a zero-length download gets away with.
func (s *Session) Download(layout *MemoryLayout, address, length uint32) (*ClearStatus[*GetStatus[*DownloadLoop]], error) {
	endPos, ok := addU32(address, length)
	if !ok {
		return nil, ErrAddressRange
	}
	pages := pageSizes(layout)
	glog.V(1).Infof("download: %d bytes at 0x%08x, %d pages available", length, address, len(pages))
	return &ClearStatus[*GetStatus[*DownloadLoop]]{
		sess: s,
		next: &GetStatus[*DownloadLoop]{
			sess: s,
			chain: &downloadStart{
				sess:    s,
				pages:   pages,
				address: address,
				endPos:  endPos,
			},
		},
	}, nil
}

// Status builds a standalone GETSTATUS query yielding the parsed report.
func (s *Session) Status() *GetStatus[Report] {
	return &GetStatus[Report]{sess: s, chain: reportChain{}}
}

// Clear builds a standalone CLRSTATUS command, recovering a device stuck
// in dfuERROR.
func (s *Session) Clear() *ClearStatus[struct{}] {
	return &ClearStatus[struct{}]{sess: s}
}

// reportChain terminates a GETSTATUS chain with the report itself.
type reportChain struct{}

func (reportChain) Chain(rep Report) (Report, error) {
	return rep, nil
}

// oneShot guards the consuming methods of command values. Replaying a
// command would desynchronize the host and device state machines.
type oneShot struct {
	used bool
}

func (o *oneShot) consume() error {
	if o.used {
		return ErrConsumed
	}
	o.used = true
	return nil
}

// mustConsume is consume for methods without an error result.
func (o *oneShot) mustConsume(what string) {
	if o.used {
		panic("dfu: " + what + " used twice")
	}
	o.used = true
}

func addU32(a, b uint32) (uint32, bool) {
	s := a + b
	return s, s >= a
}

func addU16(a, b uint16) (uint16, bool) {
	s := a + b
	return s, s >= a
}
