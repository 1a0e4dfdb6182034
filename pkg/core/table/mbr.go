// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

// MBRControl table columns
const (
	mbrControlColEnable uint = 1
	mbrControlColDone   uint = 2
)

type MBRControl struct {
	Enable bool
	Done   bool
}

// MBRControl_Get reads the shadow MBR state of the Locking SP.
func MBRControl_Get(s *core.Session) (*MBRControl, error) {
	vals, err := GetPartialRow(s, uid.MBRControlObj, mbrControlColEnable, mbrControlColDone)
	if err != nil {
		return nil, err
	}
	m := &MBRControl{}
	if v, ok := vals[mbrControlColEnable]; ok {
		m.Enable = uintBool(v)
	}
	if v, ok := vals[mbrControlColDone]; ok {
		m.Done = uintBool(v)
	}
	return m, nil
}

// MBRControl_SetDone raises (or clears) the Done flag so the drive stops
// presenting the shadow MBR. Required after unlocking a drive that has the
// shadow MBR enabled, or the OS never sees the real partition table.
func MBRControl_SetDone(s *core.Session, done bool) error {
	mc := NewSetCall(s, uid.MBRControlObj)
	mc.StartOptionalParameter(mbrControlColDone)
	mc.Bool(done)
	mc.EndOptionalParameter()
	return FinishSetCall(s, mc)
}
