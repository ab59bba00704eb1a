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

func TestParseFunctionalDescriptor(t *testing.T) {
	// The descriptor of an STM32 system bootloader.
	raw := []byte{0x09, 0x21, 0x0b, 0xff, 0x00, 0x00, 0x08, 0x1a, 0x01}
	fd, err := ParseFunctionalDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, FunctionalDescriptor{
		CanDownload:           true,
		CanUpload:             true,
		ManifestationTolerant: false,
		WillDetach:            true,
		DetachTimeout:         255 * time.Millisecond,
		TransferSize:          2048,
		Version:               0x011a,
	}, fd)
	assert.True(t, fd.DfuSe())
}

func TestParseFunctionalDescriptorPlainDFU(t *testing.T) {
	raw := []byte{0x09, 0x21, 0x05, 0x00, 0x01, 0x00, 0x04, 0x10, 0x01}
	fd, err := ParseFunctionalDescriptor(raw)
	require.NoError(t, err)
	assert.True(t, fd.CanDownload)
	assert.False(t, fd.CanUpload)
	assert.True(t, fd.ManifestationTolerant)
	assert.False(t, fd.WillDetach)
	assert.Equal(t, uint16(1024), fd.TransferSize)
	assert.False(t, fd.DfuSe())
}

func TestParseFunctionalDescriptorErrors(t *testing.T) {
	_, err := ParseFunctionalDescriptor([]byte{0x09, 0x21, 0x0b})
	var tooShort *ResponseTooShortError
	require.True(t, errors.As(err, &tooShort))
	assert.Equal(t, 3, tooShort.Got)
	assert.Equal(t, FunctionalDescriptorLength, tooShort.Want)

	_, err = ParseFunctionalDescriptor(make([]byte, FunctionalDescriptorLength))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "functional descriptor")
}
