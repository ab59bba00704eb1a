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
	"github.com/golang/glog"
)

// UsbReset performs the bus reset that brings a device out of
// manifestation and back onto the bus with its new firmware.
type UsbReset struct {
	oneShot
	sess *Session
}

// Reset issues the reset through the transport.
func (u *UsbReset) Reset() error {
	if err := u.consume(); err != nil {
		return err
	}
	glog.V(2).Info("resetting USB device")
	return u.sess.io.Reset()
}
