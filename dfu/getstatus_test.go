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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordChain records the reports handed to it and yields a fixed value.
type recordChain struct {
	reps []Report
}

func (r *recordChain) Chain(rep Report) (string, error) {
	r.reps = append(r.reps, rep)
	return "chained", nil
}

func TestGetStatusSendRecv(t *testing.T) {
	sess, ft := newTestSession(t, FunctionalDescriptor{}, statusBytes(StatusOK, 25, StateDfuIdle))
	rec := &recordChain{}
	gs := &GetStatus[string]{sess: sess, chain: rec}

	var buf [getStatusLength]byte
	recv, n, err := gs.Send(buf[:])
	require.NoError(t, err)
	require.Equal(t, getStatusLength, n)
	require.Len(t, ft.reads, 1)
	assert.Equal(t, ctrlReq{0b00100001, reqGetStatus, 0}, ft.reads[0])

	out, err := recv.Recv(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "chained", out)
	require.Len(t, rec.reps, 1)
	assert.Equal(t, Report{Status: StatusOK, PollTimeout: 25 * time.Millisecond, State: StateDfuIdle}, rec.reps[0])
}

func TestGetStatusBufferTooSmall(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{})
	gs := &GetStatus[string]{sess: sess, chain: &recordChain{}}
	_, _, err := gs.Send(make([]byte, getStatusLength-1))
	var small *BufferTooSmallError
	require.True(t, errors.As(err, &small))
	assert.Equal(t, getStatusLength-1, small.Got)
	assert.Equal(t, getStatusLength, small.Want)
}

func TestGetStatusConsumed(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{},
		statusBytes(StatusOK, 0, StateDfuIdle))
	gs := &GetStatus[string]{sess: sess, chain: &recordChain{}}
	var buf [getStatusLength]byte
	recv, n, err := gs.Send(buf[:])
	require.NoError(t, err)
	_, _, err = gs.Send(buf[:])
	assert.ErrorIs(t, err, ErrConsumed)

	_, err = recv.Recv(buf[:n])
	require.NoError(t, err)
	_, err = recv.Recv(buf[:n])
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestRecvShortCircuitsDeviceError(t *testing.T) {
	// A device-reported failure must surface before the continuation runs.
	rec := &recordChain{}
	sess, _ := newTestSession(t, FunctionalDescriptor{})
	recv := &GetStatusRecv[string]{sess: sess, chain: rec}
	_, err := recv.Recv(statusBytes(StatusErrWrite, 0, StateDfuError))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, StatusErrWrite, statusErr.Status)
	assert.Empty(t, rec.reps)

	recv = &GetStatusRecv[string]{sess: sess, chain: rec}
	_, err = recv.Recv(statusBytes(StatusOK, 0, StateDfuError))
	var stateErr *StateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, StateDfuError, stateErr.State)
	assert.Empty(t, rec.reps)
}

func TestRecvShortResponse(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{})
	recv := &GetStatusRecv[string]{sess: sess, chain: &recordChain{}}
	_, err := recv.Recv([]byte{0, 0, 0})
	var tooShort *ResponseTooShortError
	require.True(t, errors.As(err, &tooShort))
	assert.Equal(t, 3, tooShort.Got)
}

func TestClearStatus(t *testing.T) {
	sess, ft := newTestSession(t, FunctionalDescriptor{})
	cs := &ClearStatus[int]{sess: sess, next: 42}
	next, _, err := cs.Clear()
	require.NoError(t, err)
	assert.Equal(t, 42, next)
	require.Len(t, ft.writes, 1)
	assert.Equal(t, uint8(0b00100001), ft.writes[0].requestType)
	assert.Equal(t, reqClrStatus, ft.writes[0].request)
	assert.Equal(t, uint16(0), ft.writes[0].value)
	assert.Empty(t, ft.writes[0].data)

	_, _, err = cs.Clear()
	assert.ErrorIs(t, err, ErrConsumed)
}

func TestWaitStatePollLoop(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{},
		statusBytes(StatusOK, 5, StateDfuDnbusy),
		statusBytes(StatusOK, 7, StateDfuDnbusy),
		statusBytes(StatusOK, 0, StateDfuDnloadIdle))
	w := WaitFor(sess, StateDfuDnloadIdle, "cargo")

	wantTimeouts := []time.Duration{0, 5 * time.Millisecond, 7 * time.Millisecond}
	for i, want := range wantTimeouts {
		step, ok := w.Next().(Wait[string])
		require.Truef(t, ok, "turn %d", i)
		assert.Equalf(t, want, step.Timeout, "turn %d", i)
		var err error
		w, err = statusRoundTrip(step.GetStatus)
		require.NoErrorf(t, err, "turn %d", i)
	}
	brk, ok := w.Next().(Break[string])
	require.True(t, ok)
	assert.Equal(t, "cargo", brk.Cmd)
}

func TestWaitStateManifest(t *testing.T) {
	cases := []struct {
		desc      FunctionalDescriptor
		wantReset bool
	}{
		// The host must reset devices that neither tolerate manifestation
		// traffic nor detach on their own.
		{FunctionalDescriptor{WillDetach: true}, false},
		{FunctionalDescriptor{WillDetach: false}, true},
	}
	for _, c := range cases {
		sess, ft := newTestSession(t, c.desc, statusBytes(StatusOK, 0, StateDfuManifest))
		w := WaitFor(sess, StateDfuDnloadIdle, "cargo")
		step, ok := w.Next().(Wait[string])
		require.True(t, ok)
		w, err := statusRoundTrip(step.GetStatus)
		require.NoError(t, err)

		mwr, ok := w.Next().(ManifestWaitReset[string])
		require.Truef(t, ok, "will detach %v", c.desc.WillDetach)
		if !c.wantReset {
			assert.Nil(t, mwr.Reset)
			continue
		}
		require.NotNil(t, mwr.Reset)
		require.NoError(t, mwr.Reset.Reset())
		assert.Equal(t, 1, ft.resets)
		assert.ErrorIs(t, mwr.Reset.Reset(), ErrConsumed)
	}
}

func TestWaitStateTolerantKeepsPolling(t *testing.T) {
	desc := FunctionalDescriptor{ManifestationTolerant: true}
	sess, _ := newTestSession(t, desc,
		statusBytes(StatusOK, 3, StateDfuManifest),
		statusBytes(StatusOK, 0, StateDfuIdle))
	w := WaitFor(sess, StateDfuIdle, "cargo")

	step, ok := w.Next().(Wait[string])
	require.True(t, ok)
	w, err := statusRoundTrip(step.GetStatus)
	require.NoError(t, err)

	// Manifestation does not break the loop on a tolerant device.
	step, ok = w.Next().(Wait[string])
	require.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, step.Timeout)
	w, err = statusRoundTrip(step.GetStatus)
	require.NoError(t, err)

	brk, ok := w.Next().(Break[string])
	require.True(t, ok)
	assert.Equal(t, "cargo", brk.Cmd)
}

func TestWaitStateMinPollTimeout(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{},
		statusBytes(StatusOK, 1, StateDfuDnbusy))
	sess.SetMinPollTimeout(10 * time.Millisecond)
	w := WaitFor(sess, StateDfuDnloadIdle, 0)
	step := w.Next().(Wait[int])
	w, err := statusRoundTrip(step.GetStatus)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, w.Next().(Wait[int]).Timeout)
}

func TestWaitStateNextTwicePanics(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{})
	w := WaitFor(sess, StateDfuIdle, 0)
	w.Next()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on the second Next")
		}
	}()
	w.Next()
}
