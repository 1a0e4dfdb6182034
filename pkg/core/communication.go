// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core packetization for communication

package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/prebootsec/sedunlock/pkg/drive"
)

var (
	ErrTooLargeComPacket = errors.New("encountered a too large ComPacket")
	ErrTooLargePacket    = errors.New("encountered a too large Packet")
	// ErrFrameLength is returned when a header's declared length does not
	// match the enclosed payload. Such a frame is never parsed further.
	ErrFrameLength = errors.New("ComPacket framing length mismatch")
	// ErrNoResponse is returned when the TPer did not produce a response
	// within the receive poll budget.
	ErrNoResponse = errors.New("no response within poll budget")
)

const (
	comPacketHeaderLen = 20
	packetHeaderLen    = 24
	subPacketHeaderLen = 12

	// Response poll budget: the TPer may report OutstandingData while it is
	// still preparing the response.
	recvPollLimit    = 50
	recvPollInterval = 10 * time.Millisecond
)

// CommunicationIntf sends and receives token stream payloads wrapped in
// SubPacket-Packet-ComPacket framing.
//
// NOTE: This is almost io.ReadWriter, but not quite - I couldn't figure out
// a good interface use that wouldn't result in a lot of extra copying.
type CommunicationIntf interface {
	Send(proto drive.SecurityProtocol, ses *Session, data []byte) error
	Receive(proto drive.SecurityProtocol, ses *Session) ([]byte, error)
}

type plainCom struct {
	d  drive.SendReceive
	hp HostProperties
	tp TPerProperties
}

type comPacketHeader struct {
	_               uint32
	ComID           uint16
	ComIDExt        uint16
	OutstandingData uint32
	MinTransfer     uint32
	Length          uint32
}
type packetHeader struct {
	TSN             uint32
	HSN             uint32
	SeqNumber       uint32
	_               uint16
	AckType         uint16
	Acknowledgement uint32
	Length          uint32
}
type subPacketHeader struct {
	_      [6]byte
	Kind   uint16
	Length uint32
}

// NewPlainCommunication creates the non-secure-messaging communication used
// to exchange packets with a TPer or SP.
func NewPlainCommunication(d drive.SendReceive, hp HostProperties, tp TPerProperties) *plainCom {
	return &plainCom{d, hp, tp}
}

func (c *plainCom) Send(proto drive.SecurityProtocol, ses *Session, data []byte) error {
	// From "3.3.10.3 Synchronous Communications Restrictions"
	// > Methods SHALL NOT span ComPackets.
	subpkt := bytes.Buffer{}
	spkthdr := subPacketHeader{
		Kind:   0, // Data
		Length: uint32(len(data)),
	}
	if err := binary.Write(&subpkt, binary.BigEndian, &spkthdr); err != nil {
		return err
	}
	subpkt.Write(data)
	if (len(data) % 4) > 0 {
		pad := 4 - (len(data) % 4)
		subpkt.Write(make([]byte, pad))
	}

	pkt := bytes.Buffer{}
	pkthdr := packetHeader{
		TSN:       uint32(ses.TSN),
		HSN:       uint32(ses.HSN),
		SeqNumber: ses.NextSeqNumber(),
		Length:    uint32(subpkt.Len()),
	}
	if !c.tp.SequenceNumbers || !c.hp.SequenceNumbers {
		pkthdr.SeqNumber = 0
	}
	if err := binary.Write(&pkt, binary.BigEndian, &pkthdr); err != nil {
		return err
	}
	pkt.Write(subpkt.Bytes())
	if uint(pkt.Len()) > c.tp.MaxPacketSize {
		return ErrTooLargePacket
	}

	compkt := bytes.Buffer{}
	compkthdr := comPacketHeader{
		ComID:    uint16(ses.ComID & 0xffff),
		ComIDExt: uint16((ses.ComID & 0xffff0000) >> 16),
		Length:   uint32(pkt.Len()),
	}
	if err := binary.Write(&compkt, binary.BigEndian, &compkthdr); err != nil {
		return err
	}
	compkt.Write(pkt.Bytes())
	if uint(compkt.Len()) > c.tp.MaxComPacketSize {
		return ErrTooLargeComPacket
	}
	// Extend buffer to be aligned to 512 byte pages which some drives like
	compkt.Write(make([]byte, 512-(compkt.Len()%512)))
	return c.d.IFSend(proto, uint16(ses.ComID), compkt.Bytes())
}

// Receive fetches one response ComPacket, re-polling while the TPer reports
// outstanding data, and validates every declared header length against the
// enclosed byte count before the payload is handed to the token decoder.
func (c *plainCom) Receive(proto drive.SecurityProtocol, ses *Session) ([]byte, error) {
	for i := 0; i < recvPollLimit; i++ {
		buf := make([]byte, c.hp.MaxComPacketSize)
		if err := c.d.IFRecv(proto, uint16(ses.ComID), &buf); err != nil {
			return nil, err
		}
		rdr := bytes.NewBuffer(buf)
		compkthdr := comPacketHeader{}
		if err := binary.Read(rdr, binary.BigEndian, &compkthdr); err != nil {
			return nil, err
		}
		if compkthdr.Length == 0 {
			if compkthdr.OutstandingData == 0 {
				// Nothing pending, nothing delivered
				return nil, ErrNoResponse
			}
			// Response not ready yet
			time.Sleep(recvPollInterval)
			continue
		}
		return c.unwrap(&compkthdr, rdr)
	}
	return nil, ErrNoResponse
}

func (c *plainCom) unwrap(compkthdr *comPacketHeader, rdr *bytes.Buffer) ([]byte, error) {
	if uint(compkthdr.Length) > c.hp.MaxComPacketSize-comPacketHeaderLen {
		return nil, ErrTooLargeComPacket
	}
	if int(compkthdr.Length) > rdr.Len() {
		return nil, ErrFrameLength
	}

	pkthdr := packetHeader{}
	if err := binary.Read(rdr, binary.BigEndian, &pkthdr); err != nil {
		return nil, err
	}
	if uint(pkthdr.Length) > c.hp.MaxPacketSize {
		return nil, ErrTooLargePacket
	}
	// The ComPacket payload is exactly one Packet in synchronous operation
	if uint32(packetHeaderLen)+pkthdr.Length != compkthdr.Length {
		return nil, ErrFrameLength
	}

	subpkthdr := subPacketHeader{}
	if err := binary.Read(rdr, binary.BigEndian, &subpkthdr); err != nil {
		return nil, err
	}
	if subpkthdr.Kind != 0 {
		return nil, fmt.Errorf("only data subpackets are implemented")
	}
	pad := (4 - subpkthdr.Length%4) % 4
	if uint32(subPacketHeaderLen)+subpkthdr.Length+pad != pkthdr.Length {
		return nil, ErrFrameLength
	}
	if int(subpkthdr.Length) > rdr.Len() {
		return nil, ErrFrameLength
	}
	data := rdr.Bytes()
	return data[:subpkthdr.Length], nil
}
