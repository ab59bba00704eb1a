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
	"time"

	"github.com/golang/glog"
)

// ChainedCommand consumes a status report and produces the next unit of
// work of type R.
type ChainedCommand[R any] interface {
	Chain(rep Report) (R, error)
}

// GetStatus issues a DFU_GETSTATUS request. R is the value the chain
// ultimately produces once the response has been parsed.
type GetStatus[R any] struct {
	oneShot
	sess  *Session
	chain ChainedCommand[R]
}

// Send asks the device for its status. buf receives the raw response and
// must hold at least the 6 bytes the device is going to send. The returned
// GetStatusRecv parses the bytes that landed in buf.
func (g *GetStatus[R]) Send(buf []byte) (*GetStatusRecv[R], int, error) {
	if err := g.consume(); err != nil {
		return nil, 0, err
	}
	if len(buf) < getStatusLength {
		return nil, 0, &BufferTooSmallError{Got: len(buf), Want: getStatusLength}
	}
	n, err := g.sess.io.ReadControl(requestType, reqGetStatus, 0, buf)
	if err != nil {
		return nil, 0, err
	}
	if n > len(buf) {
		n = len(buf)
	}
	glog.V(4).Infof("GETSTATUS <- % x", buf[:n])
	return &GetStatusRecv[R]{sess: g.sess, chain: g.chain}, n, nil
}

// GetStatusRecv parses the response to a previously sent GetStatus.
type GetStatusRecv[R any] struct {
	oneShot
	sess  *Session
	chain ChainedCommand[R]
}

// Recv decodes the raw response, raises any device-reported failure and
// hands the report to the chained command.
func (g *GetStatusRecv[R]) Recv(data []byte) (R, error) {
	var zero R
	if err := g.consume(); err != nil {
		return zero, err
	}
	rep, err := parseReport(data)
	if err != nil {
		return zero, err
	}
	glog.V(3).Infof("status: %v", rep)
	if err := rep.Err(); err != nil {
		return zero, err
	}
	return g.chain.Chain(rep)
}

// ClearStatus issues DFU_CLRSTATUS, moving a device out of dfuERROR or
// resetting a fresh session to a known-good state. The cargo T is carried
// through untouched.
type ClearStatus[T any] struct {
	oneShot
	sess *Session
	next T
}

// Clear sends the request and yields the follow-up command.
func (c *ClearStatus[T]) Clear() (T, int, error) {
	var zero T
	if err := c.consume(); err != nil {
		return zero, 0, err
	}
	n, err := c.sess.io.WriteControl(requestType, reqClrStatus, 0, nil)
	if err != nil {
		return zero, 0, err
	}
	glog.V(3).Info("CLRSTATUS")
	return c.next, n, nil
}

// WaitState polls the device until it reaches a target state, then
// releases its cargo T. It is its own continuation: each GETSTATUS
// response chains back into an updated WaitState.
type WaitState[T any] struct {
	nextOnce  oneShot
	chainOnce oneShot

	sess        *Session
	target      State
	cargo       T
	reached     bool
	inManifest  bool
	pollTimeout time.Duration
}

// WaitFor builds a poll loop that releases cargo once the device reports
// the given state. The engine builds its own waits for the download
// phases; WaitFor covers the waits a flow needs beyond those, such as
// seeing manifestation through on a manifestation-tolerant device.
func WaitFor[T any](sess *Session, target State, cargo T) *WaitState[T] {
	return &WaitState[T]{sess: sess, target: target, cargo: cargo}
}

// PollStep is one turn of a status-polling loop. The concrete type is one
// of Break, Wait or ManifestWaitReset.
type PollStep[T any] interface {
	pollStep()
}

// Break ends the loop: the device reached the target state. Cmd is the
// command the loop was holding back until the device settled.
type Break[T any] struct {
	Cmd T
}

// Wait instructs the caller to leave the device alone for Timeout and
// then run the GetStatus round trip to re-evaluate its state.
type Wait[T any] struct {
	GetStatus *GetStatus[*WaitState[T]]
	Timeout   time.Duration
}

// ManifestWaitReset reports that the device entered manifestation and
// does not tolerate further traffic. Reset, when non-nil, must be used to
// kick the device back onto the bus; when nil the device detaches by
// itself.
type ManifestWaitReset[T any] struct {
	Reset *UsbReset
}

func (Break[T]) pollStep()             {}
func (Wait[T]) pollStep()              {}
func (ManifestWaitReset[T]) pollStep() {}

// Next decides the loop's next move and consumes the value. The loop
// lives on through the Wait step's GetStatus chain.
func (w *WaitState[T]) Next() PollStep[T] {
	w.nextOnce.mustConsume("WaitState.Next")
	switch {
	case w.reached:
		return Break[T]{Cmd: w.cargo}
	case w.inManifest && !w.sess.desc.ManifestationTolerant:
		var reset *UsbReset
		if !w.sess.desc.WillDetach {
			reset = &UsbReset{sess: w.sess}
		}
		glog.V(2).Infof("device manifesting, will detach: %v", w.sess.desc.WillDetach)
		return ManifestWaitReset[T]{Reset: reset}
	default:
		return Wait[T]{
			GetStatus: &GetStatus[*WaitState[T]]{sess: w.sess, chain: w},
			Timeout:   w.pollTimeout,
		}
	}
}

// Chain folds a fresh status report into the wait, producing the loop's
// next iteration.
func (w *WaitState[T]) Chain(rep Report) (*WaitState[T], error) {
	if err := w.chainOnce.consume(); err != nil {
		return nil, err
	}
	poll := rep.PollTimeout
	if poll < w.sess.minPoll {
		poll = w.sess.minPoll
	}
	return &WaitState[T]{
		sess:        w.sess,
		target:      w.target,
		cargo:       w.cargo,
		reached:     rep.State == w.target,
		inManifest:  rep.State == StateDfuManifest,
		pollTimeout: poll,
	}, nil
}
