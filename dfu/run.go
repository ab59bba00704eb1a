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
	"context"
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Region is one destination range of a download: the data to place at
// Address and the erasable pages backing it. The pages of Layout must
// back the region at Address; use MemoryLayout.From for regions that
// start past the layout base. A nil Layout carries no pages, which only
// an empty region gets away with.
type Region struct {
	Layout  *MemoryLayout
	Address uint32
	Data    []byte
}

// Download runs a complete firmware download synchronously: erase the
// pages backing fw, stream it in transfer-size blocks, then see
// manifestation through the way the device's descriptor dictates
// (polling it out, resetting the bus, or simply letting the device drop
// off). progress, when non-nil, is invoked after every accepted block
// with the running byte count.
func Download(ctx context.Context, sess *Session, layout *MemoryLayout, address uint32, fw []byte, progress func(done, total int)) error {
	return DownloadRegions(ctx, sess, []Region{{Layout: layout, Address: address, Data: fw}}, progress)
}

// DownloadRegions downloads a multi-region image in a single session,
// the way DfuSe images with several elements are meant to go down: each
// region is erased, addressed and written in turn, and manifestation
// happens exactly once, after the last one. Empty regions are skipped.
func DownloadRegions(ctx context.Context, sess *Session, regions []Region, progress func(done, total int)) error {
	if !sess.desc.CanDownload {
		return errors.New("device does not advertise download capability")
	}
	if sess.desc.TransferSize == 0 {
		return errors.New("device reports a zero transfer size")
	}
	if len(regions) == 0 {
		return errors.New("nothing to download")
	}
	total := 0
	for _, r := range regions {
		if uint64(len(r.Data)) > math.MaxUint32 {
			return ErrDataTooLong
		}
		total += len(r.Data)
	}
	start := time.Now()
	first, rest := regions[0], regions[1:]
	chain, err := sess.Download(first.Layout, first.Address, uint32(len(first.Data)))
	if err != nil {
		return errors.Trace(err)
	}
	gs, _, err := chain.Clear()
	if err != nil {
		return errors.Annotatef(err, "clearing device status")
	}
	loop, err := statusRoundTrip(gs)
	if err != nil {
		return errors.Annotatef(err, "starting download session")
	}

	data := first.Data
	sent := 0
	erased := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if len(data) == 0 && len(rest) > 0 {
			r := rest[0]
			rest = rest[1:]
			if len(r.Data) == 0 {
				continue
			}
			if loop, err = loop.Rebase(r.Layout, r.Address, uint32(len(r.Data))); err != nil {
				return errors.Trace(err)
			}
			data = r.Data
			erased = 0
			continue
		}
		switch step := loop.Next().(type) {
		case Done:
			// Unreachable in practice: the final empty block returns
			// through manifest below. Kept for a clean exit anyway.
			return nil
		case *ErasePage:
			w, _, err := step.Erase()
			if err != nil {
				return errors.Annotatef(err, "erasing flash")
			}
			erased++
			if loop, err = settle(ctx, w); err != nil {
				return errors.Trace(err)
			}
		case *SetAddress:
			glog.V(1).Infof("erased %d pages", erased)
			w, _, err := step.SetAddress()
			if err != nil {
				return errors.Annotatef(err, "setting address pointer")
			}
			if loop, err = settle(ctx, w); err != nil {
				return errors.Trace(err)
			}
		case *DownloadChunk:
			if len(data) == 0 {
				w, _, err := step.Write(nil)
				if err != nil {
					return errors.Annotatef(err, "finalizing download")
				}
				if err := manifest(ctx, sess, w); err != nil {
					return errors.Trace(err)
				}
				glog.V(1).Infof("downloaded %d bytes in %s", total, time.Since(start).Round(time.Millisecond))
				return nil
			}
			w, n, err := step.Write(data)
			if err != nil {
				return errors.Annotatef(err, "writing at offset %d", sent)
			}
			data = data[n:]
			sent += n
			if progress != nil {
				progress(sent, total)
			}
			if loop, err = settle(ctx, w); err != nil {
				return errors.Trace(err)
			}
		}
	}
}

// ReadStatus performs a single GETSTATUS exchange. Unlike the command
// chains it hands the report back as-is, error status included; that is
// what an inspection tool wants from a device sitting in dfuERROR. Use
// Report.Err to map it.
func ReadStatus(sess *Session) (Report, error) {
	var buf [getStatusLength]byte
	_, n, err := sess.Status().Send(buf[:])
	if err != nil {
		return Report{}, errors.Trace(err)
	}
	return parseReport(buf[:n])
}

// settle polls a mid-download wait to completion. Manifestation before
// the end of the stream means the device gave up on us.
func settle(ctx context.Context, w *WaitState[*DownloadLoop]) (*DownloadLoop, error) {
	loop, _, manifested, err := pollWait(ctx, w)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if manifested {
		return nil, errors.New("device entered manifestation before the end of the stream")
	}
	return loop, nil
}

// manifest sees the device through manifestation after the final block.
// A manifestation-tolerant device keeps answering GETSTATUS and settles
// in dfuIDLE, never back in dfuDNLOAD-IDLE, so the loop's own wait does
// not apply to it.
func manifest(ctx context.Context, sess *Session, w *WaitState[*DownloadLoop]) error {
	if sess.desc.ManifestationTolerant {
		_, _, _, err := pollWait(ctx, WaitFor(sess, StateDfuIdle, struct{}{}))
		return errors.Trace(err)
	}
	_, reset, manifested, err := pollWait(ctx, w)
	if err != nil {
		return errors.Trace(err)
	}
	if manifested && reset != nil {
		if err := reset.Reset(); err != nil {
			return errors.Annotatef(err, "resetting device")
		}
	}
	return nil
}

// pollWait drives one wait loop: sleep as long as the device asked, run
// the GETSTATUS round trip, repeat until the loop breaks or the manifest
// branch fires.
func pollWait[T any](ctx context.Context, w *WaitState[T]) (cargo T, reset *UsbReset, manifested bool, err error) {
	var zero T
	for {
		switch step := w.Next().(type) {
		case Break[T]:
			return step.Cmd, nil, false, nil
		case ManifestWaitReset[T]:
			return zero, step.Reset, true, nil
		case Wait[T]:
			if step.Timeout > 0 {
				glog.V(3).Infof("device busy, waiting %v", step.Timeout)
				if err := sleepCtx(ctx, step.Timeout); err != nil {
					return zero, nil, false, errors.Trace(err)
				}
			}
			next, err := statusRoundTrip(step.GetStatus)
			if err != nil {
				return zero, nil, false, errors.Trace(err)
			}
			w = next
		}
	}
}

// statusRoundTrip performs the send and receive halves of a GETSTATUS
// exchange in one go.
func statusRoundTrip[R any](gs *GetStatus[R]) (R, error) {
	var buf [getStatusLength]byte
	recv, n, err := gs.Send(buf[:])
	if err != nil {
		var zero R
		return zero, errors.Trace(err)
	}
	return recv.Recv(buf[:n])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
