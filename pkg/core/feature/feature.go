// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Level 0 discovery feature descriptor decoding.
//
// Only the descriptors the unlock agent acts on are decoded; everything
// else is recorded by feature code so sedstat can report it.

package feature

import (
	"encoding/binary"
	"io"
)

type FeatureCode uint16

const (
	CodeTPer     FeatureCode = 0x0001
	CodeLocking  FeatureCode = 0x0002
	CodeGeometry FeatureCode = 0x0003
	CodeOpalV2   FeatureCode = 0x0203
	CodeBlockSID FeatureCode = 0x0402
)

type TPer struct {
	SyncSupported       bool
	AsyncSupported      bool
	AckNakSupported     bool
	BufferMgmtSupported bool
	StreamingSupported  bool
	ComIDMgmtSupported  bool
}

type Locking struct {
	LockingSupported bool
	LockingEnabled   bool
	Locked           bool
	MediaEncryption  bool
	MBREnabled       bool
	MBRDone          bool
}

type Geometry struct {
	Align                bool
	LogicalBlockSize     uint32
	AlignmentGranularity uint64
	LowestAlignedLBA     uint64
}

type OpalV2 struct {
	BaseComID                     uint16
	NumComID                      uint16
	RangeCrossingBehavior         bool
	NumLockingSPAdminSupported    uint16
	NumLockingSPUserSupported     uint16
	InitialCPINSIDIndicator       uint8
	BehaviorCPINSIDuponTPerRevert uint8
}

type BlockSID struct {
	LockingSPFreezeLockState      bool
	LockingSPFreezeLockSupported  bool
	SIDAuthenticationBlockedState bool
	SIDValueState                 bool
	HardwareReset                 bool
}

func ReadTPerFeature(rdr io.Reader) (*TPer, error) {
	var raw uint8
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	return &TPer{
		SyncSupported:       raw&0x1 > 0,
		AsyncSupported:      raw&0x2 > 0,
		AckNakSupported:     raw&0x4 > 0,
		BufferMgmtSupported: raw&0x8 > 0,
		StreamingSupported:  raw&0x10 > 0,
		ComIDMgmtSupported:  raw&0x40 > 0,
	}, nil
}

func ReadLockingFeature(rdr io.Reader) (*Locking, error) {
	var raw uint8
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	return &Locking{
		LockingSupported: raw&0x1 > 0,
		LockingEnabled:   raw&0x2 > 0,
		Locked:           raw&0x4 > 0,
		MediaEncryption:  raw&0x8 > 0,
		MBREnabled:       raw&0x10 > 0,
		MBRDone:          raw&0x20 > 0,
	}, nil
}

func ReadGeometryFeature(rdr io.Reader) (*Geometry, error) {
	d := struct {
		Align                uint8
		_                    [7]byte
		LogicalBlockSize     uint32
		AlignmentGranularity uint64
		LowestAlignedLBA     uint64
	}{}
	if err := binary.Read(rdr, binary.BigEndian, &d); err != nil {
		return nil, err
	}
	return &Geometry{
		Align:                d.Align&0x1 > 0,
		LogicalBlockSize:     d.LogicalBlockSize,
		AlignmentGranularity: d.AlignmentGranularity,
		LowestAlignedLBA:     d.LowestAlignedLBA,
	}, nil
}

func ReadOpalV2Feature(rdr io.Reader) (*OpalV2, error) {
	f := &OpalV2{}
	if err := binary.Read(rdr, binary.BigEndian, f); err != nil {
		return nil, err
	}
	return f, nil
}

func ReadBlockSIDFeature(rdr io.Reader) (*BlockSID, error) {
	f := &BlockSID{}
	var raw uint8
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	f.SIDValueState = raw&0x1 > 0
	f.SIDAuthenticationBlockedState = raw&0x2 > 0
	f.LockingSPFreezeLockSupported = raw&0x4 > 0
	f.LockingSPFreezeLockState = raw&0x8 > 0
	if err := binary.Read(rdr, binary.BigEndian, &raw); err != nil {
		return nil, err
	}
	f.HardwareReset = raw&0x1 > 0
	return f, nil
}
