// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package method

import (
	"errors"
	"reflect"
	"testing"

	"github.com/prebootsec/sedunlock/pkg/core/stream"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

func TestMethodCallStructure(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.MethodIDAuthenticate)
	mc.Bytes(uid.LockingAuthorityAdmin1[:])
	mc.StartOptionalParameter(0)
	mc.Bytes([]byte("secret"))
	mc.EndOptionalParameter()

	b, err := mc.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	got, err := stream.Decode(b)
	if err != nil {
		t.Fatalf("Decode of own output failed: %v", err)
	}
	want := stream.List{
		stream.Call,
		uid.InvokeIDThisSP[:],
		uid.MethodIDAuthenticate[:],
		stream.List{
			uid.LockingAuthorityAdmin1[:],
			stream.StartName, uint(0), []byte("secret"), stream.EndName,
		},
		stream.EndOfData,
		stream.List{uint(0), uint(0), uint(0)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded call = %+v; want %+v", got, want)
	}
}

func TestMethodCallUnbalanced(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.MethodIDGet)
	mc.StartList()
	if _, err := mc.MarshalBinary(); !errors.Is(err, ErrMethodListUnbalanced) {
		t.Errorf("MarshalBinary = %v; want ErrMethodListUnbalanced", err)
	}
}

func TestEOSMethodCall(t *testing.T) {
	mc := &EOSMethodCall{}
	b, err := mc.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(b) != 1 || b[0] != byte(stream.EndOfSession) {
		t.Errorf("EOS payload = %+v; want single EndOfSession token", b)
	}
	if !mc.IsEOS() {
		t.Errorf("IsEOS() = false")
	}
}

func TestStatusToError(t *testing.T) {
	if err := StatusToError(0x01); !errors.Is(err, ErrMethodStatusNotAuthorized) {
		t.Errorf("StatusToError(0x01) = %v", err)
	}
	if err := StatusToError(0x77); !errors.Is(err, ErrReceivedUnexpectedResponse) {
		t.Errorf("StatusToError(unknown) = %v", err)
	}
}
