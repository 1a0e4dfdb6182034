// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ComID acquisition and the protocol 0x02 ComID management requests.

package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/prebootsec/sedunlock/pkg/drive"
)

type ComID int
type ComIDRequest [4]byte

const (
	ComIDInvalid     ComID = -1
	ComIDDiscoveryL0 ComID = 1
)

var (
	ComIDRequestVerifyComIDValid ComIDRequest = [4]byte{0x00, 0x00, 0x00, 0x01}
	ComIDRequestStackReset       ComIDRequest = [4]byte{0x00, 0x00, 0x00, 0x02}

	ErrStackResetPending      = errors.New("stack reset is pending")
	ErrStackResetFailed       = errors.New("stack reset reported failure")
	ErrMalformedComIDResponse = errors.New("malformed ComID management response")
)

// GetComID requests a dynamically allocated ComID from the ComID management
// protocol. Most consumer Opal drives do not implement this and expect the
// host to use the static ComID from the Level 0 discovery instead.
func GetComID(d drive.SendReceive) (ComID, error) {
	var comID [512]byte
	comIDs := comID[:]
	if err := d.IFRecv(drive.SecurityProtocolTCGTPer, 0, &comIDs); err != nil {
		return ComIDInvalid, err
	}

	c := binary.BigEndian.Uint16(comID[0:2])
	ce := binary.BigEndian.Uint16(comID[2:4])
	if c == 0 {
		return ComIDInvalid, drive.ErrNotSupported
	}
	return ComID(uint32(c) | uint32(ce)<<16), nil
}

func HandleComIDRequest(d drive.SendReceive, comID ComID, req ComIDRequest) ([]byte, error) {
	var buf [512]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(comID&0xffff))
	binary.BigEndian.PutUint16(buf[2:4], uint16((comID&0xffff0000)>>16))
	copy(buf[4:8], req[:])

	bufs := buf[:]
	if err := d.IFSend(drive.SecurityProtocolTCGTPer, uint16(comID), bufs); err != nil {
		return nil, err
	}

	for i := range buf {
		buf[i] = 0
	}
	if err := d.IFRecv(drive.SecurityProtocolTCGTPer, uint16(comID), &bufs); err != nil {
		return nil, err
	}
	// Protocol response: ComID, ComID extension, request code echo,
	// reserved, then the available data length and payload. The declared
	// length is drive-controlled, bound it before slicing.
	size := int(binary.BigEndian.Uint16(buf[10:12]))
	if size > len(buf)-12 {
		return nil, fmt.Errorf("%w: %d payload bytes declared, %d received", ErrMalformedComIDResponse, size, len(buf)-12)
	}
	return buf[12 : 12+size], nil
}

// IsComIDValid checks the state of a ComID with the TPer. States "issued"
// and "associated" both count as usable.
func IsComIDValid(d drive.SendReceive, comID ComID) (bool, error) {
	res, err := HandleComIDRequest(d, comID, ComIDRequestVerifyComIDValid)
	if err != nil {
		return false, err
	}
	if len(res) < 4 {
		return false, fmt.Errorf("ComID validity response too short")
	}
	state := binary.BigEndian.Uint32(res[0:4])
	return state == 2 || state == 3, nil
}

// StackReset aborts any open session on the ComID and resets the
// synchronous protocol stack state for it.
func StackReset(d drive.SendReceive, comID ComID) error {
	res, err := HandleComIDRequest(d, comID, ComIDRequestStackReset)
	if err != nil {
		return err
	}
	if len(res) < 4 {
		return ErrStackResetPending
	}
	success := binary.BigEndian.Uint32(res[0:4])
	if success != 0 {
		return ErrStackResetFailed
	}
	return nil
}

// FindComID locates a usable ComID for the device. The statically allocated
// Opal base ComID from Level 0 discovery is preferred, dynamic allocation
// through the ComID management protocol is the fallback.
func FindComID(d drive.SendReceive, d0 *Level0Discovery) (ComID, error) {
	if d0 != nil && d0.OpalV2 != nil && d0.OpalV2.BaseComID > 0 {
		return ComID(d0.OpalV2.BaseComID), nil
	}
	comID, err := GetComID(d)
	if err != nil {
		return ComIDInvalid, fmt.Errorf("no usable ComID: %w", err)
	}
	return comID, nil
}
