// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"encoding/binary"
	"errors"
	"testing"
)

// comIDResponse builds a protocol 0x02 response carrying the given payload.
func comIDResponse(comID ComID, req ComIDRequest, payload []byte) []byte {
	buf := make([]byte, 512)
	binary.BigEndian.PutUint16(buf[0:2], uint16(comID&0xffff))
	copy(buf[4:8], req[:])
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(payload)))
	copy(buf[12:], payload)
	return buf
}

func TestIsComIDValid(t *testing.T) {
	testCases := []struct {
		name  string
		state uint32
		want  bool
	}{
		{"Invalid", 0, false},
		{"Inactive", 1, false},
		{"Issued", 2, true},
		{"Associated", 3, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			state := make([]byte, 4)
			binary.BigEndian.PutUint32(state, tc.state)
			f := &scriptedDrive{responses: [][]byte{comIDResponse(0x1001, ComIDRequestVerifyComIDValid, state)}}
			got, err := IsComIDValid(f, 0x1001)
			if err != nil {
				t.Fatalf("IsComIDValid failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("IsComIDValid(state=%d) = %v; want %v", tc.state, got, tc.want)
			}
		})
	}
}

func TestHandleComIDRequestRejectsOversizedLength(t *testing.T) {
	// A drive declaring more payload than the transfer holds must be a
	// protocol error, not a crash.
	resp := make([]byte, 512)
	binary.BigEndian.PutUint16(resp[10:12], 0xFFFF)
	f := &scriptedDrive{responses: [][]byte{resp}}
	if _, err := HandleComIDRequest(f, 0x1001, ComIDRequestVerifyComIDValid); !errors.Is(err, ErrMalformedComIDResponse) {
		t.Errorf("HandleComIDRequest = %v; want ErrMalformedComIDResponse", err)
	}
}

func TestHandleComIDRequestMaxLength(t *testing.T) {
	// Exactly filling the transfer buffer is still valid
	resp := make([]byte, 512)
	binary.BigEndian.PutUint16(resp[10:12], 500)
	f := &scriptedDrive{responses: [][]byte{resp}}
	res, err := HandleComIDRequest(f, 0x1001, ComIDRequestVerifyComIDValid)
	if err != nil {
		t.Fatalf("HandleComIDRequest failed: %v", err)
	}
	if len(res) != 500 {
		t.Errorf("payload length = %d; want 500", len(res))
	}
}
