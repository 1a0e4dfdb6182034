// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Copyright 2021 Christian Svensson. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sgio

import (
	"bytes"
	"testing"
)

func vpdPage(code byte, data []byte) []byte {
	page := make([]byte, 252)
	page[1] = code
	page[2] = byte(len(data) >> 8)
	page[3] = byte(len(data))
	copy(page[4:], data)
	return page
}

func TestParseVPDUnitSerial(t *testing.T) {
	testCases := []struct {
		name string
		page []byte
		want []byte
		ok   bool
	}{
		{"Plain serial", vpdPage(SCSI_VPD_UNIT_SERIAL, []byte("S2RBNB0HA12200B")), []byte("S2RBNB0HA12200B"), true},
		{"Space padded", vpdPage(SCSI_VPD_UNIT_SERIAL, []byte("  Z1E1A2B3      ")), []byte("Z1E1A2B3"), true},
		{"Wrong page code", vpdPage(0x83, []byte("S2RBNB0HA12200B")), nil, false},
		{"Truncated header", []byte{0x00, SCSI_VPD_UNIT_SERIAL}, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseVPDUnitSerial(tc.page)
			if tc.ok != (err == nil) {
				t.Fatalf("parseVPDUnitSerial error = %v; want ok=%v", err, tc.ok)
			}
			if tc.ok && !bytes.Equal(got, tc.want) {
				t.Errorf("parseVPDUnitSerial = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestParseVPDUnitSerialClampsLength(t *testing.T) {
	// Declared page length beyond the transfer must not be trusted
	page := vpdPage(SCSI_VPD_UNIT_SERIAL, []byte("ABC"))
	page[2] = 0xFF
	page[3] = 0xFF
	if _, err := parseVPDUnitSerial(page); err != nil {
		t.Fatalf("parseVPDUnitSerial failed: %v", err)
	}
}
