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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFirmware(n int) []byte {
	fw := make([]byte, n)
	for i := range fw {
		fw[i] = byte(i % 251)
	}
	return fw
}

func TestDownloadDriver(t *testing.T) {
	// Full run against a device that does not tolerate manifestation and
	// does not detach by itself: the driver has to reset it at the end.
	const base = 0x08000000
	desc := FunctionalDescriptor{CanDownload: true, TransferSize: 2048}
	idle := statusBytes(StatusOK, 0, StateDfuDnloadIdle)
	sess, ft := newTestSession(t, desc,
		statusBytes(StatusOK, 0, StateDfuIdle),
		statusBytes(StatusOK, 1, StateDfuDnbusy), idle, // first erase takes a moment
		idle, idle, idle, idle,
		statusBytes(StatusOK, 0, StateDfuManifest))
	fw := testFirmware(3000)
	layout := NewMemoryLayout("Internal Flash", base, 2048, 2048)

	var progress [][2]int
	err := Download(context.Background(), sess, layout, base, fw, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	want := []ctrlWrite{
		{0b00100001, reqClrStatus, 0, []byte{}},
		{0b00100001, reqDnload, 0, []byte{0x41, 0x00, 0x00, 0x00, 0x08}},
		{0b00100001, reqDnload, 0, []byte{0x41, 0x00, 0x08, 0x00, 0x08}},
		{0b00100001, reqDnload, 0, []byte{0x21, 0x00, 0x00, 0x00, 0x08}},
		{0b00100001, reqDnload, 2, fw[:2048]},
		{0b00100001, reqDnload, 3, fw[2048:]},
		{0b00100001, reqDnload, 4, []byte{}},
	}
	require.Len(t, ft.writes, len(want))
	for i, c := range want {
		assert.Equalf(t, c, ft.writes[i], "write %d", i)
	}
	assert.Equal(t, [][2]int{{2048, 3000}, {3000, 3000}}, progress)
	assert.Equal(t, 1, ft.resets)
	assert.Empty(t, ft.reports, "script fully consumed")
}

func TestDownloadDriverTolerant(t *testing.T) {
	// A manifestation-tolerant device answers GETSTATUS throughout and
	// settles back in dfuIDLE; no reset is involved.
	const base = 0x08000000
	desc := FunctionalDescriptor{CanDownload: true, ManifestationTolerant: true, TransferSize: 2048}
	idle := statusBytes(StatusOK, 0, StateDfuDnloadIdle)
	sess, ft := newTestSession(t, desc,
		statusBytes(StatusOK, 0, StateDfuIdle),
		idle, idle, idle,
		statusBytes(StatusOK, 1, StateDfuManifest),
		statusBytes(StatusOK, 0, StateDfuIdle))

	err := Download(context.Background(), sess, NewMemoryLayout("flash", base, 2048), base, testFirmware(100), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, ft.resets)
	assert.Empty(t, ft.reports, "script fully consumed")
	require.Len(t, ft.writes, 5)
	assert.Equal(t, uint16(4), ft.writes[4].value, "terminating empty block")
	assert.Empty(t, ft.writes[4].data)
}

func TestDownloadDriverEmptyFirmware(t *testing.T) {
	// Zero bytes still mean a set-address and the empty end-of-stream
	// block, the device decides what to make of it.
	const base = 0x08000000
	desc := FunctionalDescriptor{CanDownload: true, ManifestationTolerant: true, TransferSize: 2048}
	sess, ft := newTestSession(t, desc,
		statusBytes(StatusOK, 0, StateDfuIdle),
		statusBytes(StatusOK, 0, StateDfuDnloadIdle),
		statusBytes(StatusOK, 0, StateDfuIdle))

	err := Download(context.Background(), sess, NewMemoryLayout("flash", base, 2048), base, nil, nil)
	require.NoError(t, err)
	require.Len(t, ft.writes, 3)
	assert.Equal(t, reqClrStatus, ft.writes[0].request)
	assert.Equal(t, []byte{0x21, 0x00, 0x00, 0x00, 0x08}, ft.writes[1].data)
	assert.Equal(t, uint16(2), ft.writes[2].value)
	assert.Empty(t, ft.writes[2].data)
}

func TestDownloadDriverDeviceError(t *testing.T) {
	const base = 0x08000000
	desc := FunctionalDescriptor{CanDownload: true, TransferSize: 2048}
	sess, _ := newTestSession(t, desc,
		statusBytes(StatusOK, 0, StateDfuIdle),
		statusBytes(StatusErrVerify, 0, StateDfuError))

	err := Download(context.Background(), sess, NewMemoryLayout("flash", base, 2048), base, testFirmware(100), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "errVERIFY")
}

func TestDownloadDriverCancel(t *testing.T) {
	const base = 0x08000000
	desc := FunctionalDescriptor{CanDownload: true, TransferSize: 2048}
	sess, _ := newTestSession(t, desc, statusBytes(StatusOK, 0, StateDfuIdle))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Download(ctx, sess, NewMemoryLayout("flash", base, 2048), base, testFirmware(100), nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "context canceled")
}

func TestDownloadDriverRefusals(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{TransferSize: 2048})
	err := Download(context.Background(), sess, NewMemoryLayout("flash", 0, 2048), 0, nil, nil)
	assert.ErrorContains(t, err, "download capability")

	sess, _ = newTestSession(t, FunctionalDescriptor{CanDownload: true})
	err = Download(context.Background(), sess, NewMemoryLayout("flash", 0, 2048), 0, nil, nil)
	assert.ErrorContains(t, err, "zero transfer size")
}

func TestDownloadDriverRegions(t *testing.T) {
	// A two-element image in one session: both regions erased, addressed
	// and written in turn, one manifestation at the very end.
	desc := FunctionalDescriptor{CanDownload: true, ManifestationTolerant: true, TransferSize: 1024}
	idle := statusBytes(StatusOK, 0, StateDfuDnloadIdle)
	sess, ft := newTestSession(t, desc,
		statusBytes(StatusOK, 0, StateDfuIdle),
		idle, idle, idle, idle, idle, idle,
		statusBytes(StatusOK, 1, StateDfuManifest),
		statusBytes(StatusOK, 0, StateDfuIdle))
	fw1 := testFirmware(600)
	fw2 := testFirmware(100)

	var progress [][2]int
	err := DownloadRegions(context.Background(), sess, []Region{
		{Layout: NewMemoryLayout("bank1", 0x08000000, 1024), Address: 0x08000000, Data: fw1},
		{Layout: nil, Address: 0x20000000, Data: nil}, // skipped entirely
		{Layout: NewMemoryLayout("bank2", 0x08008000, 2048), Address: 0x08008000, Data: fw2},
	}, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	want := []ctrlWrite{
		{0b00100001, reqClrStatus, 0, []byte{}},
		{0b00100001, reqDnload, 0, []byte{0x41, 0x00, 0x00, 0x00, 0x08}},
		{0b00100001, reqDnload, 0, []byte{0x21, 0x00, 0x00, 0x00, 0x08}},
		{0b00100001, reqDnload, 2, fw1},
		{0b00100001, reqDnload, 0, []byte{0x41, 0x00, 0x80, 0x00, 0x08}},
		{0b00100001, reqDnload, 0, []byte{0x21, 0x00, 0x80, 0x00, 0x08}},
		{0b00100001, reqDnload, 2, fw2},
		{0b00100001, reqDnload, 3, []byte{}},
	}
	require.Len(t, ft.writes, len(want))
	for i, c := range want {
		assert.Equalf(t, c, ft.writes[i], "write %d", i)
	}
	assert.Equal(t, [][2]int{{600, 700}, {700, 700}}, progress)
	assert.Equal(t, 0, ft.resets)
	assert.Empty(t, ft.reports, "script fully consumed")
}

func TestDownloadDriverNoRegions(t *testing.T) {
	sess, _ := newTestSession(t, FunctionalDescriptor{CanDownload: true, TransferSize: 1024})
	err := DownloadRegions(context.Background(), sess, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to download")
}
