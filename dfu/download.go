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
	"encoding/binary"
	"math"

	"github.com/golang/glog"
)

// DfuSe command opcodes, sent as DNLOAD block 0 followed by a 32-bit
// little-endian address.
const (
	cmdSetAddress byte = 0x21
	cmdErase      byte = 0x41
)

// downloadStart validates the device state reported at the beginning of a
// download session and seeds the loop cursor.
type downloadStart struct {
	sess    *Session
	pages   []uint32
	address uint32
	endPos  uint32
}

// Chain admits only dfuIDLE: anything else means a previous session left
// the device mid-flight and the caller has to recover it first.
func (d *downloadStart) Chain(rep Report) (*DownloadLoop, error) {
	if rep.State != StateDfuIdle {
		return nil, &InvalidStateError{Got: rep.State, Want: StateDfuIdle}
	}
	// Block numbers 0 and 1 address DfuSe commands; data starts at 2.
	return &DownloadLoop{
		sess:      d.sess,
		pages:     d.pages,
		endPos:    d.endPos,
		copiedPos: d.address,
		erasedPos: d.address,
		blockNum:  2,
	}, nil
}

// DownloadLoop drives the erase, set-address and write phases of a
// firmware download. Loop values are immutable snapshots of the cursor:
// every completed phase polls the device back to dfuDNLOAD-IDLE and only
// then releases the successor value.
type DownloadLoop struct {
	oneShot
	sess       *Session
	pages      []uint32
	endPos     uint32
	copiedPos  uint32
	erasedPos  uint32
	addressSet bool
	blockNum   uint16
	eof        bool
}

// DownloadStep is the next phase the download calls for. The concrete
// type is one of *ErasePage, *SetAddress, *DownloadChunk or Done.
type DownloadStep interface {
	downloadStep()
}

// Done reports the stream fully transferred; the session can proceed to
// manifestation.
type Done struct{}

// ErasePage erases the page under the erase cursor.
type ErasePage struct {
	oneShot
	loop *DownloadLoop
}

// SetAddress communicates the write pointer for the chunks that follow.
type SetAddress struct {
	oneShot
	loop *DownloadLoop
}

// DownloadChunk transfers the next slice of firmware.
type DownloadChunk struct {
	oneShot
	loop *DownloadLoop
}

func (Done) downloadStep()           {}
func (*ErasePage) downloadStep()     {}
func (*SetAddress) downloadStep()    {}
func (*DownloadChunk) downloadStep() {}

// Rebase aims the loop at another memory region without touching the
// device. Multi-element images continue in the same session, each element
// erased and written in turn; only the very last write carries the
// end-of-stream marker. Block numbering restarts at 2 for every region.
func (l *DownloadLoop) Rebase(layout *MemoryLayout, address, length uint32) (*DownloadLoop, error) {
	if err := l.consume(); err != nil {
		return nil, err
	}
	endPos, ok := addU32(address, length)
	if !ok {
		return nil, ErrAddressRange
	}
	pages := pageSizes(layout)
	glog.V(1).Infof("rebase: %d bytes at 0x%08x, %d pages available", length, address, len(pages))
	return &DownloadLoop{
		sess:      l.sess,
		pages:     pages,
		endPos:    endPos,
		copiedPos: address,
		erasedPos: address,
		blockNum:  2,
	}, nil
}

// Next picks the phase the cursor calls for and consumes the loop value.
// The successor value emerges from the phase's wait loop.
func (l *DownloadLoop) Next() DownloadStep {
	l.mustConsume("DownloadLoop.Next")
	switch {
	case l.eof:
		glog.V(2).Info("download stream complete")
		return Done{}
	case l.erasedPos < l.endPos:
		return &ErasePage{loop: l}
	case !l.addressSet:
		return &SetAddress{loop: l}
	default:
		return &DownloadChunk{loop: l}
	}
}

// Erase issues the erase command for the page under the cursor and yields
// the wait for the device to finish it. Erasing invalidates the device's
// address pointer, so the successor will set it again before writing.
func (e *ErasePage) Erase() (*WaitState[*DownloadLoop], int, error) {
	if err := e.consume(); err != nil {
		return nil, 0, err
	}
	l := e.loop
	if len(l.pages) == 0 {
		return nil, 0, ErrNoSpaceLeft
	}
	page, rest := l.pages[0], l.pages[1:]
	erased, ok := addU32(l.erasedPos, page)
	if !ok {
		return nil, 0, ErrEraseLimit
	}
	next := &DownloadLoop{
		sess:       l.sess,
		pages:      rest,
		endPos:     l.endPos,
		copiedPos:  l.copiedPos,
		erasedPos:  erased,
		addressSet: false,
		blockNum:   l.blockNum,
		eof:        l.eof,
	}
	glog.V(2).Infof("erase page at 0x%08x (%d bytes)", l.erasedPos, page)
	n, err := writeCommand(l.sess, cmdErase, l.erasedPos)
	if err != nil {
		return nil, 0, err
	}
	return waitDnloadIdle(l.sess, next), n, nil
}

// SetAddress issues the set-address-pointer command for the write cursor
// and yields the wait for the device to acknowledge it.
func (s *SetAddress) SetAddress() (*WaitState[*DownloadLoop], int, error) {
	if err := s.consume(); err != nil {
		return nil, 0, err
	}
	l := s.loop
	next := &DownloadLoop{
		sess:       l.sess,
		pages:      l.pages,
		endPos:     l.endPos,
		copiedPos:  l.copiedPos,
		erasedPos:  l.erasedPos,
		addressSet: true,
		blockNum:   l.blockNum,
		eof:        l.eof,
	}
	glog.V(2).Infof("set address pointer to 0x%08x", l.copiedPos)
	n, err := writeCommand(l.sess, cmdSetAddress, l.copiedPos)
	if err != nil {
		return nil, 0, err
	}
	return waitDnloadIdle(l.sess, next), n, nil
}

// Write sends up to the device's transfer size from data as the next
// DNLOAD block, returning the wait for the device plus the number of
// payload bytes handed over. Empty data is the end-of-stream marker: the
// device starts manifesting once it acknowledges the block.
func (c *DownloadChunk) Write(data []byte) (*WaitState[*DownloadLoop], int, error) {
	if err := c.consume(); err != nil {
		return nil, 0, err
	}
	l := c.loop
	if uint64(len(data)) > math.MaxUint32 {
		return nil, 0, ErrDataTooLong
	}
	n := uint32(len(data))
	if ts := uint32(l.sess.desc.TransferSize); n > ts {
		n = ts
	}
	copied, ok := addU32(l.copiedPos, n)
	if !ok {
		return nil, 0, ErrTransferSize
	}
	blockNum, ok := addU16(l.blockNum, 1)
	if !ok {
		return nil, 0, ErrChunkLimit
	}
	next := &DownloadLoop{
		sess:       l.sess,
		pages:      l.pages,
		endPos:     l.endPos,
		copiedPos:  copied,
		erasedPos:  l.erasedPos,
		addressSet: l.addressSet,
		blockNum:   blockNum,
		eof:        len(data) == 0,
	}
	if len(data) == 0 {
		glog.V(2).Infof("block %d: end of stream", l.blockNum)
	} else {
		glog.V(3).Infof("block %d: %d bytes at 0x%08x", l.blockNum, n, l.copiedPos)
	}
	written, err := l.sess.io.WriteControl(requestType, reqDnload, l.blockNum, data[:n])
	if err != nil {
		return nil, 0, err
	}
	return waitDnloadIdle(l.sess, next), written, nil
}

// writeCommand issues a DfuSe command block: the opcode plus a 32-bit
// little-endian address, sent as DNLOAD block 0.
func writeCommand(sess *Session, op byte, addr uint32) (int, error) {
	cmd := [5]byte{op}
	binary.LittleEndian.PutUint32(cmd[1:], addr)
	glog.V(4).Infof("DNLOAD cmd -> % x", cmd[:])
	return sess.io.WriteControl(requestType, reqDnload, 0, cmd[:])
}

func waitDnloadIdle(sess *Session, next *DownloadLoop) *WaitState[*DownloadLoop] {
	return &WaitState[*DownloadLoop]{sess: sess, target: StateDfuDnloadIdle, cargo: next}
}
