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
	"errors"
	"fmt"
)

// Protocol errors are plain typed values so callers can match them with
// errors.Is / errors.As; transports and drivers add context of their own
// when wrapping them.

// StatusError is a non-OK status reported by the device in a GETSTATUS
// response. The device rejects further commands until the status is
// cleared with CLRSTATUS.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device reported status %s (%s)", e.Status, e.Status.Description())
}

// StateError is a state that halts the protocol, i.e. dfuERROR.
type StateError struct {
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("device entered state %s", e.State)
}

// InvalidStateError is a device state the protocol did not expect at this
// point in the exchange.
type InvalidStateError struct {
	Got, Want State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid device state %s, want %s", e.Got, e.Want)
}

// ResponseTooShortError is a control-transfer response shorter than the
// structure the protocol expects from it.
type ResponseTooShortError struct {
	Got, Want int
}

func (e *ResponseTooShortError) Error() string {
	return fmt.Sprintf("response too short: %d bytes, want %d", e.Got, e.Want)
}

// BufferTooSmallError is a caller-supplied read buffer smaller than the
// response the device is going to send.
type BufferTooSmallError struct {
	Got, Want int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: %d bytes, want %d", e.Got, e.Want)
}

var (
	// ErrNoSpaceLeft means the memory layout ran out of pages before the
	// erase cursor covered the end of the download.
	ErrNoSpaceLeft = errors.New("no space left on device")
	// ErrEraseLimit means the erase cursor overflowed while advancing past
	// the last erased page.
	ErrEraseLimit = errors.New("erase limit reached")
	// ErrTransferSize means the write cursor overflowed while accounting a
	// chunk.
	ErrTransferSize = errors.New("maximum transfer size exceeded")
	// ErrChunkLimit means the 16-bit block number overflowed.
	ErrChunkLimit = errors.New("maximum number of chunks exceeded")
	// ErrDataTooLong means a chunk's length does not fit in 32 bits.
	ErrDataTooLong = errors.New("chunk too long")
	// ErrAddressRange means address plus length overflows the 32-bit
	// address space the protocol can express.
	ErrAddressRange = errors.New("address range exceeds device capabilities")
	// ErrConsumed means a single-use command value was used twice.
	ErrConsumed = errors.New("command already consumed")
)
