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
	"testing"
)

// fakeTransport scripts the device side of an exchange: reads pop queued
// GETSTATUS responses, writes and resets are recorded for inspection.
type fakeTransport struct {
	t        *testing.T
	reports  [][]byte
	reads    []ctrlReq
	writes   []ctrlWrite
	resets   int
	readErr  error
	writeErr error
}

type ctrlReq struct {
	requestType, request uint8
	value                uint16
}

type ctrlWrite struct {
	requestType, request uint8
	value                uint16
	data                 []byte
}

func (f *fakeTransport) ReadControl(requestType, request uint8, value uint16, buf []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	f.reads = append(f.reads, ctrlReq{requestType, request, value})
	if request != reqGetStatus {
		f.t.Fatalf("unexpected read request 0x%02x", request)
	}
	if len(f.reports) == 0 {
		f.t.Fatalf("unexpected GETSTATUS, script exhausted")
	}
	rep := f.reports[0]
	f.reports = f.reports[1:]
	return copy(buf, rep), nil
}

func (f *fakeTransport) WriteControl(requestType, request uint8, value uint16, data []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, ctrlWrite{requestType, request, value, append([]byte{}, data...)})
	return len(data), nil
}

func (f *fakeTransport) Reset() error {
	f.resets++
	return nil
}

func newTestSession(t *testing.T, desc FunctionalDescriptor, reports ...[]byte) (*Session, *fakeTransport) {
	ft := &fakeTransport{t: t, reports: reports}
	return NewSession(ft, desc), ft
}

// statusBytes builds the 6-byte GETSTATUS wire form.
func statusBytes(st Status, pollMs uint32, state State) []byte {
	return []byte{byte(st), byte(pollMs), byte(pollMs >> 8), byte(pollMs >> 16), byte(state), 0}
}
