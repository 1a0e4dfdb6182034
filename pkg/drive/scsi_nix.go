// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/prebootsec/sedunlock/pkg/drive/sgio"
)

type scsiDrive struct {
	fd FdIntf
}

func mapSCSIError(err error) error {
	if errors.Is(err, sgio.ErrIllegalRequest) {
		return ErrNotSupported
	}
	if errors.Is(err, sgio.ErrNotReady) {
		return ErrNotReady
	}
	return err
}

func (d *scsiDrive) IFRecv(proto SecurityProtocol, sps uint16, data *[]byte) error {
	err := sgio.SCSISecurityIn(d.fd.Fd(), uint8(proto), sps, data)
	runtime.KeepAlive(d.fd)
	return mapSCSIError(err)
}

func (d *scsiDrive) IFSend(proto SecurityProtocol, sps uint16, data []byte) error {
	err := sgio.SCSISecurityOut(d.fd.Fd(), uint8(proto), sps, data)
	runtime.KeepAlive(d.fd)
	return mapSCSIError(err)
}

func (d *scsiDrive) Identify() (*Identity, error) {
	id, err := sgio.SCSIInquiry(d.fd.Fd())
	runtime.KeepAlive(d.fd)
	if err != nil {
		return nil, err
	}

	m := ""
	protocol := ""
	if bytes.Equal(id.VendorIdent[:], []byte("ATA     ")) {
		// SCSI ATA Translation (SAT)
		protocol = "SATA"
		m = strings.TrimSpace(string(id.ProductIdent[:]))
	} else {
		protocol = "SCSI"
		m = fmt.Sprintf("%s %s",
			strings.TrimSpace(string(id.VendorIdent[:])),
			strings.TrimSpace(string(id.ProductIdent[:])))
	}

	return &Identity{
		Protocol: protocol,
		Model:    m,
		Firmware: strings.TrimSpace(string(id.ProductRev[:])),
	}, nil
}

// SerialNumber reads the unit serial number VPD page. The standard INQUIRY
// data has no serial, and the sedutil hash schemes salt with the same
// serial the drive reports here.
func (d *scsiDrive) SerialNumber() ([]byte, error) {
	sn, err := sgio.SCSIInquiryVPDUnitSerial(d.fd.Fd())
	runtime.KeepAlive(d.fd)
	if err != nil {
		return nil, mapSCSIError(err)
	}
	return sn, nil
}

func (d *scsiDrive) Close() error {
	return d.fd.Close()
}

func SCSIDrive(fd FdIntf) *scsiDrive {
	// Hold the full object reference so the underlying File is not GC'd
	// while commands are in flight.
	return &scsiDrive{fd: fd}
}

func isSCSI(fd FdIntf) bool {
	_, err := sgio.SCSIInquiry(fd.Fd())
	return err == nil
}
