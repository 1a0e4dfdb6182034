// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

// Locking table columns (Opal SSC)
const (
	lockingColUID              uint = 0
	lockingColName             uint = 1
	lockingColRangeStart       uint = 3
	lockingColRangeLength      uint = 4
	lockingColReadLockEnabled  uint = 5
	lockingColWriteLockEnabled uint = 6
	lockingColReadLocked       uint = 7
	lockingColWriteLocked      uint = 8
	lockingColLockOnReset      uint = 9
	lockingColActiveKey        uint = 10
)

type LockingRow struct {
	UID              uid.RowUID
	Name             string
	RangeStart       uint64
	RangeLength      uint64
	ReadLockEnabled  bool
	WriteLockEnabled bool
	ReadLocked       bool
	WriteLocked      bool
	LockOnReset      bool
	ActiveKey        uid.RowUID
}

// Locking_Get reads a locking range row, e.g. uid.LockingGlobalRange.
func Locking_Get(s *core.Session, row uid.RowUID) (*LockingRow, error) {
	vals, err := GetPartialRow(s, row, lockingColUID, lockingColActiveKey)
	if err != nil {
		return nil, err
	}
	lr := &LockingRow{}
	for col, v := range vals {
		switch col {
		case lockingColUID:
			b, ok := v.([]byte)
			if !ok || len(b) != 8 {
				return nil, ErrWrongColumnValueType
			}
			copy(lr.UID[:], b)
		case lockingColName:
			b, ok := v.([]byte)
			if !ok {
				return nil, ErrWrongColumnValueType
			}
			lr.Name = string(b)
		case lockingColRangeStart:
			n, ok := v.(uint)
			if !ok {
				return nil, ErrWrongColumnValueType
			}
			lr.RangeStart = uint64(n)
		case lockingColRangeLength:
			n, ok := v.(uint)
			if !ok {
				return nil, ErrWrongColumnValueType
			}
			lr.RangeLength = uint64(n)
		case lockingColReadLockEnabled:
			lr.ReadLockEnabled = uintBool(v)
		case lockingColWriteLockEnabled:
			lr.WriteLockEnabled = uintBool(v)
		case lockingColReadLocked:
			lr.ReadLocked = uintBool(v)
		case lockingColWriteLocked:
			lr.WriteLocked = uintBool(v)
		case lockingColLockOnReset:
			lr.LockOnReset = uintBool(v)
		case lockingColActiveKey:
			b, ok := v.([]byte)
			if ok && len(b) == 8 {
				copy(lr.ActiveKey[:], b)
			}
		}
	}
	return lr, nil
}

// LockingUpdate lists the columns a Locking_Set should change. Nil fields
// are left untouched on the TPer.
type LockingUpdate struct {
	ReadLockEnabled  *bool
	WriteLockEnabled *bool
	ReadLocked       *bool
	WriteLocked      *bool
}

// Locking_Set updates a locking range row. An update with no columns set
// is a no-op and generates no wire traffic, so re-applying a desired state
// that is already in effect is free.
func Locking_Set(s *core.Session, row uid.RowUID, u *LockingUpdate) error {
	if u.ReadLockEnabled == nil && u.WriteLockEnabled == nil &&
		u.ReadLocked == nil && u.WriteLocked == nil {
		return nil
	}
	mc := NewSetCall(s, row)
	if u.ReadLockEnabled != nil {
		mc.StartOptionalParameter(lockingColReadLockEnabled)
		mc.Bool(*u.ReadLockEnabled)
		mc.EndOptionalParameter()
	}
	if u.WriteLockEnabled != nil {
		mc.StartOptionalParameter(lockingColWriteLockEnabled)
		mc.Bool(*u.WriteLockEnabled)
		mc.EndOptionalParameter()
	}
	if u.ReadLocked != nil {
		mc.StartOptionalParameter(lockingColReadLocked)
		mc.Bool(*u.ReadLocked)
		mc.EndOptionalParameter()
	}
	if u.WriteLocked != nil {
		mc.StartOptionalParameter(lockingColWriteLocked)
		mc.Bool(*u.WriteLocked)
		mc.EndOptionalParameter()
	}
	return FinishSetCall(s, mc)
}

func uintBool(v interface{}) bool {
	n, ok := v.(uint)
	return ok && n > 0
}
