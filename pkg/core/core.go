// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Core holds the device handle together with everything learned about the
// TPer from identification and Level 0 discovery.

package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/prebootsec/sedunlock/pkg/core/feature"
	"github.com/prebootsec/sedunlock/pkg/drive"
)

var ErrNotSupported = errors.New("device does not support TCG Storage Core")

type Core struct {
	drive.DriveIntf
	DiskInfo
}

type DiskInfo struct {
	Identity        *drive.Identity
	Level0Discovery *Level0Discovery
	// Serial as reported by the transport, used as hash salt source
	Serial []byte
}

type Level0Discovery struct {
	MajorVersion    int
	MinorVersion    int
	Vendor          [32]byte
	TPer            *feature.TPer
	Locking         *feature.Locking
	Geometry        *feature.Geometry
	OpalV2          *feature.OpalV2
	BlockSID        *feature.BlockSID
	UnknownFeatures []uint16
}

func NewCore(device string) (*Core, error) {
	d, err := drive.Open(device)
	if err != nil {
		return nil, fmt.Errorf("drive.Open: %v", err)
	}
	return NewCoreFromDrive(d)
}

// NewCoreFromDrive wraps an already opened drive. The drive is not closed
// on error, that is the caller's handle to clean up.
func NewCoreFromDrive(d drive.DriveIntf) (*Core, error) {
	c := &Core{DriveIntf: d, DiskInfo: DiskInfo{}}

	id, err := d.Identify()
	if err != nil {
		return nil, fmt.Errorf("drive.Identify: %v", err)
	}
	c.Identity = id
	if sn, err := d.SerialNumber(); err == nil {
		c.Serial = sn
	}

	d0, err := c.Discovery0()
	if err != nil {
		return nil, err
	}
	c.Level0Discovery = d0
	return c, nil
}

// Discovery0 performs a Level 0 SSC discovery.
func (c *Core) Discovery0() (*Level0Discovery, error) {
	d0raw := make([]byte, 2048)
	if err := c.IFRecv(drive.SecurityProtocolTCGManagement, uint16(ComIDDiscoveryL0), &d0raw); err != nil {
		if errors.Is(err, drive.ErrNotSupported) {
			return nil, ErrNotSupported
		}
		return nil, err
	}
	d0 := &Level0Discovery{}
	d0hdr := struct {
		Size   uint32
		Major  uint16
		Minor  uint16
		_      [8]byte
		Vendor [32]byte
	}{}
	d0buf := bytes.NewBuffer(d0raw)
	if err := binary.Read(d0buf, binary.BigEndian, &d0hdr); err != nil {
		return nil, fmt.Errorf("failed to parse Level 0 discovery header: %v", err)
	}
	if d0hdr.Size == 0 {
		return nil, ErrNotSupported
	}
	d0.MajorVersion = int(d0hdr.Major)
	d0.MinorVersion = int(d0hdr.Minor)
	copy(d0.Vendor[:], d0hdr.Vendor[:])

	// The header size does not include the length field itself
	fsize := int(d0hdr.Size) - binary.Size(d0hdr) + 4
	for fsize > 0 {
		fhdr := struct {
			Code    feature.FeatureCode
			Version uint8
			Size    uint8
		}{}
		if err := binary.Read(d0buf, binary.BigEndian, &fhdr); err != nil {
			return nil, fmt.Errorf("failed to parse feature header: %v", err)
		}
		frdr := io.LimitReader(d0buf, int64(fhdr.Size))
		var err error
		switch fhdr.Code {
		case feature.CodeTPer:
			d0.TPer, err = feature.ReadTPerFeature(frdr)
		case feature.CodeLocking:
			d0.Locking, err = feature.ReadLockingFeature(frdr)
		case feature.CodeGeometry:
			d0.Geometry, err = feature.ReadGeometryFeature(frdr)
		case feature.CodeOpalV2:
			d0.OpalV2, err = feature.ReadOpalV2Feature(frdr)
		case feature.CodeBlockSID:
			d0.BlockSID, err = feature.ReadBlockSIDFeature(frdr)
		default:
			d0.UnknownFeatures = append(d0.UnknownFeatures, uint16(fhdr.Code))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse feature %#04x: %v", fhdr.Code, err)
		}
		if _, err := io.Copy(io.Discard, frdr); err != nil {
			return nil, err
		}
		fsize -= int(fhdr.Size) + 4
	}
	return d0, nil
}
