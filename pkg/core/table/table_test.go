// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"errors"
	"reflect"
	"testing"

	"github.com/prebootsec/sedunlock/pkg/core/stream"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

func TestParseRowValues(t *testing.T) {
	testCases := []struct {
		name string
		in   stream.List
		want RowValues
		err  error
	}{
		{"Empty", stream.List{}, RowValues{}, nil},
		{"One column",
			stream.List{stream.StartName, uint(7), uint(1), stream.EndName},
			RowValues{7: uint(1)}, nil},
		{"Two columns",
			stream.List{
				stream.StartName, uint(7), uint(0), stream.EndName,
				stream.StartName, uint(8), []byte{0xAA}, stream.EndName,
			},
			RowValues{7: uint(0), 8: []byte{0xAA}}, nil},
		{"Missing EndName",
			stream.List{stream.StartName, uint(7), uint(1)},
			nil, ErrMalformedResult},
		{"Not a name group",
			stream.List{uint(7), uint(1)},
			nil, ErrMalformedResult},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRowValues(tc.in)
			if !reflect.DeepEqual(got, tc.want) || !errors.Is(err, tc.err) {
				t.Errorf("parseRowValues(%+v) = %+v, %v; want %+v, %v", tc.in, got, err, tc.want, tc.err)
			}
		})
	}
}

func TestParseGetResult(t *testing.T) {
	res := stream.List{
		stream.List{
			stream.List{stream.StartName, uint(3), []byte("pin"), stream.EndName},
		},
	}
	got, err := parseGetResult(res)
	if err != nil {
		t.Fatalf("parseGetResult failed: %v", err)
	}
	want := RowValues{3: []byte("pin")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseGetResult = %+v; want %+v", got, want)
	}

	if _, err := parseGetResult(stream.List{}); !errors.Is(err, ErrEmptyResult) {
		t.Errorf("parseGetResult(empty) = %v; want ErrEmptyResult", err)
	}
	if _, err := parseGetResult(stream.List{uint(5)}); !errors.Is(err, ErrMalformedResult) {
		t.Errorf("parseGetResult(scalar) = %v; want ErrMalformedResult", err)
	}
}

// A Locking_Set that changes nothing must not touch the session at all.
func TestLockingSetNoopSkipsWire(t *testing.T) {
	if err := Locking_Set(nil, uid.LockingGlobalRange, &LockingUpdate{}); err != nil {
		t.Errorf("empty Locking_Set = %v; want nil", err)
	}
}
