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
	"time"
)

// Status is the status byte of a GETSTATUS response (DFU 1.1, section
// 6.1.2). Values outside the defined table are carried through untouched.
type Status uint8

const (
	StatusOK             Status = 0x00
	StatusErrTarget      Status = 0x01
	StatusErrFile        Status = 0x02
	StatusErrWrite       Status = 0x03
	StatusErrErase       Status = 0x04
	StatusErrCheckErased Status = 0x05
	StatusErrProg        Status = 0x06
	StatusErrVerify      Status = 0x07
	StatusErrAddress     Status = 0x08
	StatusErrNotDone     Status = 0x09
	StatusErrFirmware    Status = 0x0a
	StatusErrVendor      Status = 0x0b
	StatusErrUSBR        Status = 0x0c
	StatusErrPOR         Status = 0x0d
	StatusErrUnknown     Status = 0x0e
	StatusErrStalledPkt  Status = 0x0f
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrTarget:
		return "errTARGET"
	case StatusErrFile:
		return "errFILE"
	case StatusErrWrite:
		return "errWRITE"
	case StatusErrErase:
		return "errERASE"
	case StatusErrCheckErased:
		return "errCHECK_ERASED"
	case StatusErrProg:
		return "errPROG"
	case StatusErrVerify:
		return "errVERIFY"
	case StatusErrAddress:
		return "errADDRESS"
	case StatusErrNotDone:
		return "errNOTDONE"
	case StatusErrFirmware:
		return "errFIRMWARE"
	case StatusErrVendor:
		return "errVENDOR"
	case StatusErrUSBR:
		return "errUSBR"
	case StatusErrPOR:
		return "errPOR"
	case StatusErrUnknown:
		return "errUNKNOWN"
	case StatusErrStalledPkt:
		return "errSTALLEDPKT"
	}
	return fmt.Sprintf("status 0x%02x", uint8(s))
}

// Description returns the diagnostic text the DFU specification attaches
// to the status code.
func (s Status) Description() string {
	switch s {
	case StatusOK:
		return "no error condition is present"
	case StatusErrTarget:
		return "file is not targeted for use by this device"
	case StatusErrFile:
		return "file fails a vendor-specific verification test"
	case StatusErrWrite:
		return "device is unable to write memory"
	case StatusErrErase:
		return "memory erase function failed"
	case StatusErrCheckErased:
		return "memory erase check failed"
	case StatusErrProg:
		return "program memory function failed"
	case StatusErrVerify:
		return "programmed memory failed verification"
	case StatusErrAddress:
		return "received address is out of range"
	case StatusErrNotDone:
		return "download terminated before the device got all of the data"
	case StatusErrFirmware:
		return "device firmware is corrupt, run-time operation impossible"
	case StatusErrVendor:
		return "vendor-specific error, see the status string descriptor"
	case StatusErrUSBR:
		return "device detected an unexpected USB reset"
	case StatusErrPOR:
		return "device detected an unexpected power-on reset"
	case StatusErrUnknown:
		return "device failed for an unknown reason"
	case StatusErrStalledPkt:
		return "device stalled an unexpected request"
	}
	return "unknown status code"
}

// Err returns the error for a non-OK status, nil otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return &StatusError{Status: s}
}

// State is the state byte of a GETSTATUS response (DFU 1.1, appendix A).
// Values outside the defined table are carried through untouched.
type State uint8

const (
	StateAppIdle              State = 0
	StateAppDetach            State = 1
	StateDfuIdle              State = 2
	StateDfuDnloadSync        State = 3
	StateDfuDnbusy            State = 4
	StateDfuDnloadIdle        State = 5
	StateDfuManifestSync      State = 6
	StateDfuManifest          State = 7
	StateDfuManifestWaitReset State = 8
	StateDfuUploadIdle        State = 9
	StateDfuError             State = 10
)

func (s State) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateDfuIdle:
		return "dfuIDLE"
	case StateDfuDnloadSync:
		return "dfuDNLOAD-SYNC"
	case StateDfuDnbusy:
		return "dfuDNBUSY"
	case StateDfuDnloadIdle:
		return "dfuDNLOAD-IDLE"
	case StateDfuManifestSync:
		return "dfuMANIFEST-SYNC"
	case StateDfuManifest:
		return "dfuMANIFEST"
	case StateDfuManifestWaitReset:
		return "dfuMANIFEST-WAIT-RESET"
	case StateDfuUploadIdle:
		return "dfuUPLOAD-IDLE"
	case StateDfuError:
		return "dfuERROR"
	}
	return fmt.Sprintf("state 0x%02x", uint8(s))
}

// Err returns the error for a state that halts the protocol (dfuERROR),
// nil for all others.
func (s State) Err() error {
	if s == StateDfuError {
		return &StateError{State: s}
	}
	return nil
}

// getStatusLength is the size of a GETSTATUS response on the wire.
const getStatusLength = 6

// Report is a decoded GETSTATUS response.
type Report struct {
	Status Status
	// PollTimeout is how long the device asks to be left alone before the
	// next GETSTATUS.
	PollTimeout time.Duration
	State       State
	// Index is the string descriptor describing the status, 0 when the
	// device has nothing to say.
	Index uint8
}

// parseReport decodes the 6-byte wire form: status, a 24-bit little-endian
// poll timeout in milliseconds, state, string index.
func parseReport(data []byte) (Report, error) {
	if len(data) < getStatusLength {
		return Report{}, &ResponseTooShortError{Got: len(data), Want: getStatusLength}
	}
	ms := uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16
	return Report{
		Status:      Status(data[0]),
		PollTimeout: time.Duration(ms) * time.Millisecond,
		State:       State(data[4]),
		Index:       data[5],
	}, nil
}

// Bytes encodes the report back into its 6-byte wire form.
func (r Report) Bytes() []byte {
	ms := uint32(r.PollTimeout/time.Millisecond) & 0xffffff
	return []byte{
		byte(r.Status),
		byte(ms), byte(ms >> 8), byte(ms >> 16),
		byte(r.State),
		r.Index,
	}
}

// Err reports the fatal condition carried by the report, if any: a non-OK
// status or the dfuERROR state. It is checked before any continuation
// runs.
func (r Report) Err() error {
	if err := r.Status.Err(); err != nil {
		return err
	}
	return r.State.Err()
}

func (r Report) String() string {
	return fmt.Sprintf("%s/%s poll %v str %d", r.Status, r.State, r.PollTimeout, r.Index)
}
