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

func TestStatusStrings(t *testing.T) {
	cases := []struct {
		st Status
		s  string
	}{
		{StatusOK, "OK"},
		{StatusErrTarget, "errTARGET"},
		{StatusErrFile, "errFILE"},
		{StatusErrWrite, "errWRITE"},
		{StatusErrErase, "errERASE"},
		{StatusErrCheckErased, "errCHECK_ERASED"},
		{StatusErrProg, "errPROG"},
		{StatusErrVerify, "errVERIFY"},
		{StatusErrAddress, "errADDRESS"},
		{StatusErrNotDone, "errNOTDONE"},
		{StatusErrFirmware, "errFIRMWARE"},
		{StatusErrVendor, "errVENDOR"},
		{StatusErrUSBR, "errUSBR"},
		{StatusErrPOR, "errPOR"},
		{StatusErrUnknown, "errUNKNOWN"},
		{StatusErrStalledPkt, "errSTALLEDPKT"},
		{Status(0x37), "status 0x37"},
	}
	for _, c := range cases {
		assert.Equalf(t, c.s, c.st.String(), "status 0x%02x", uint8(c.st))
		assert.NotEmptyf(t, c.st.Description(), "status 0x%02x", uint8(c.st))
	}
}

func TestStateStrings(t *testing.T) {
	cases := []struct {
		st State
		s  string
	}{
		{StateAppIdle, "appIDLE"},
		{StateAppDetach, "appDETACH"},
		{StateDfuIdle, "dfuIDLE"},
		{StateDfuDnloadSync, "dfuDNLOAD-SYNC"},
		{StateDfuDnbusy, "dfuDNBUSY"},
		{StateDfuDnloadIdle, "dfuDNLOAD-IDLE"},
		{StateDfuManifestSync, "dfuMANIFEST-SYNC"},
		{StateDfuManifest, "dfuMANIFEST"},
		{StateDfuManifestWaitReset, "dfuMANIFEST-WAIT-RESET"},
		{StateDfuUploadIdle, "dfuUPLOAD-IDLE"},
		{StateDfuError, "dfuERROR"},
		{State(0xbb), "state 0xbb"},
	}
	for _, c := range cases {
		assert.Equalf(t, c.s, c.st.String(), "state 0x%02x", uint8(c.st))
	}
}

func TestParseReportShort(t *testing.T) {
	for n := 0; n < getStatusLength; n++ {
		_, err := parseReport(make([]byte, n))
		require.Errorf(t, err, "%d bytes", n)
		var tooShort *ResponseTooShortError
		require.Truef(t, errors.As(err, &tooShort), "%d bytes: %v", n, err)
		assert.Equal(t, n, tooShort.Got)
		assert.Equal(t, getStatusLength, tooShort.Want)
	}
}

func TestReportRoundTrip(t *testing.T) {
	// Defined codes and catch-all bytes alike must survive a decode and
	// re-encode unchanged.
	raw := [][]byte{
		statusBytes(StatusOK, 0, StateDfuIdle),
		statusBytes(StatusErrVerify, 25, StateDfuError),
		statusBytes(Status(0x37), 0x123456, State(0xbb)),
		{0x0f, 0xff, 0xff, 0xff, 0x0a, 0x42},
	}
	for st := StatusOK; st <= StatusErrStalledPkt; st++ {
		raw = append(raw, statusBytes(st, 5, StateDfuDnloadIdle))
	}
	for st := StateAppIdle; st <= StateDfuError; st++ {
		raw = append(raw, statusBytes(StatusOK, 1000, st))
	}
	for _, b := range raw {
		rep, err := parseReport(b)
		require.NoErrorf(t, err, "% x", b)
		assert.Equalf(t, b, rep.Bytes(), "% x", b)
	}

	rep, err := parseReport(statusBytes(StatusOK, 250, StateDfuDnbusy))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, rep.PollTimeout)
}

func TestReportErr(t *testing.T) {
	ok, err := parseReport(statusBytes(StatusOK, 0, StateDfuIdle))
	require.NoError(t, err)
	assert.NoError(t, ok.Err())

	bad, err := parseReport(statusBytes(StatusErrWrite, 0, StateDfuError))
	require.NoError(t, err)
	var statusErr *StatusError
	// The status outranks the state when both are fatal.
	require.True(t, errors.As(bad.Err(), &statusErr))
	assert.Equal(t, StatusErrWrite, statusErr.Status)

	halted, err := parseReport(statusBytes(StatusOK, 0, StateDfuError))
	require.NoError(t, err)
	var stateErr *StateError
	require.True(t, errors.As(halted.Err(), &stateErr))
	assert.Equal(t, StateDfuError, stateErr.State)
	assert.Contains(t, stateErr.Error(), "dfuERROR")
}
