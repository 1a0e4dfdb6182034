// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/prebootsec/sedunlock/pkg/drive"
)

// scriptedDrive plays back canned IFRecv responses and records everything
// that was sent.
type scriptedDrive struct {
	sent      [][]byte
	responses [][]byte
	sendErr   error
	recvErr   error
}

var errNoScriptedResponse = errors.New("no scripted response left")

func (f *scriptedDrive) IFSend(proto drive.SecurityProtocol, sps uint16, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *scriptedDrive) IFRecv(proto drive.SecurityProtocol, sps uint16, data *[]byte) error {
	if f.recvErr != nil {
		return f.recvErr
	}
	if len(f.responses) == 0 {
		return errNoScriptedResponse
	}
	copy(*data, f.responses[0])
	f.responses = f.responses[1:]
	return nil
}

// frameResponse wraps a token payload in a valid response ComPacket.
func frameResponse(payload []byte) []byte {
	pad := (4 - len(payload)%4) % 4
	sub := subPacketHeader{Length: uint32(len(payload))}
	pkt := packetHeader{Length: uint32(subPacketHeaderLen + len(payload) + pad)}
	com := comPacketHeader{Length: uint32(packetHeaderLen) + pkt.Length}

	buf := bytes.Buffer{}
	binary.Write(&buf, binary.BigEndian, &com)
	binary.Write(&buf, binary.BigEndian, &pkt)
	binary.Write(&buf, binary.BigEndian, &sub)
	buf.Write(payload)
	buf.Write(make([]byte, pad))
	return buf.Bytes()
}

// Header field offsets in an encoded ComPacket
const (
	offComLength = 16
	offPktSeq    = 28
	offPktLength = 40
	offSubLength = 52
	offPayload   = 56
)

func TestSendFraming(t *testing.T) {
	f := &scriptedDrive{}
	c := NewPlainCommunication(f, InitialHostProperties, InitialTPerProperties)
	ses := &Session{ComID: 0x1001}

	payload := []byte{0xF8, 0x05, 0xA2, 0x01, 0x02} // 5 bytes, 3 bytes pad
	if err := c.Send(drive.SecurityProtocolTCGManagement, ses, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected 1 sent buffer, got %d", len(f.sent))
	}
	b := f.sent[0]

	if len(b)%512 != 0 {
		t.Errorf("sent buffer not 512-byte aligned: %d", len(b))
	}
	comLen := binary.BigEndian.Uint32(b[offComLength : offComLength+4])
	pktLen := binary.BigEndian.Uint32(b[offPktLength : offPktLength+4])
	subLen := binary.BigEndian.Uint32(b[offSubLength : offSubLength+4])
	if subLen != uint32(len(payload)) {
		t.Errorf("SubPacket length = %d; want %d", subLen, len(payload))
	}
	if pktLen != uint32(subPacketHeaderLen+len(payload)+3) {
		t.Errorf("Packet length = %d; want %d", pktLen, subPacketHeaderLen+len(payload)+3)
	}
	if comLen != uint32(packetHeaderLen)+pktLen {
		t.Errorf("ComPacket length = %d; want %d", comLen, uint32(packetHeaderLen)+pktLen)
	}
	if !bytes.Equal(b[offPayload:offPayload+len(payload)], payload) {
		t.Errorf("payload mangled in framing")
	}
	if got := binary.BigEndian.Uint16(b[4:6]); got != 0x1001 {
		t.Errorf("ComID = %#04x; want 0x1001", got)
	}
}

func TestReceiveRoundTrip(t *testing.T) {
	payload := []byte{0xF8, 0x05, 0xA2, 0x01, 0x02}
	f := &scriptedDrive{responses: [][]byte{frameResponse(payload)}}
	c := NewPlainCommunication(f, InitialHostProperties, InitialTPerProperties)

	got, err := c.Receive(drive.SecurityProtocolTCGManagement, &Session{ComID: 0x1001})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Receive = %+v; want %+v", got, payload)
	}
}

func TestReceiveRejectsLengthMismatch(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	testCases := []struct {
		name   string
		tamper func(b []byte)
	}{
		{"Packet length too large", func(b []byte) {
			binary.BigEndian.PutUint32(b[offPktLength:], binary.BigEndian.Uint32(b[offPktLength:])+4)
		}},
		{"Packet length too small", func(b []byte) {
			binary.BigEndian.PutUint32(b[offPktLength:], binary.BigEndian.Uint32(b[offPktLength:])-4)
		}},
		{"SubPacket length mismatch", func(b []byte) {
			binary.BigEndian.PutUint32(b[offSubLength:], binary.BigEndian.Uint32(b[offSubLength:])+1)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := frameResponse(payload)
			tc.tamper(b)
			f := &scriptedDrive{responses: [][]byte{b}}
			c := NewPlainCommunication(f, InitialHostProperties, InitialTPerProperties)
			if _, err := c.Receive(drive.SecurityProtocolTCGManagement, &Session{ComID: 0x1001}); !errors.Is(err, ErrFrameLength) {
				t.Errorf("Receive = %v; want ErrFrameLength", err)
			}
		})
	}
}

func TestReceiveEmpty(t *testing.T) {
	// Length 0, no outstanding data: the TPer has nothing for us
	f := &scriptedDrive{responses: [][]byte{make([]byte, 64)}}
	c := NewPlainCommunication(f, InitialHostProperties, InitialTPerProperties)
	if _, err := c.Receive(drive.SecurityProtocolTCGManagement, &Session{ComID: 0x1001}); !errors.Is(err, ErrNoResponse) {
		t.Errorf("Receive = %v; want ErrNoResponse", err)
	}
}

func TestReceivePollsOutstandingData(t *testing.T) {
	payload := []byte{0xF9}
	pending := make([]byte, 64)
	binary.BigEndian.PutUint32(pending[8:12], 1) // OutstandingData, Length still 0
	f := &scriptedDrive{responses: [][]byte{pending, frameResponse(payload)}}
	c := NewPlainCommunication(f, InitialHostProperties, InitialTPerProperties)

	got, err := c.Receive(drive.SecurityProtocolTCGManagement, &Session{ComID: 0x1001})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Receive = %+v; want %+v", got, payload)
	}
}
