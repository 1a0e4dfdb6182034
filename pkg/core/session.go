// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core session establishment and method execution.

package core

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/prebootsec/sedunlock/pkg/core/method"
	"github.com/prebootsec/sedunlock/pkg/core/stream"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
	"github.com/prebootsec/sedunlock/pkg/drive"
)

var (
	ErrTPerSyncNotSupported        = errors.New("synchronous operation not supported by TPer")
	ErrInvalidPropertiesResponse   = errors.New("response was not the expected Properties call format")
	ErrInvalidStartSessionResponse = errors.New("response was not the expected SyncSession format")
	// ErrSessionAborted marks a session poisoned by an earlier transport
	// fault. Every subsequent operation on it fails with this error, the
	// session state on the TPer side is unknown.
	ErrSessionAborted = errors.New("session aborted after transport fault")
	ErrSessionClosed  = errors.New("session has been closed")
)

type Session struct {
	ControlSession *ControlSession
	d              drive.SendReceive
	c              CommunicationIntf
	ComID          ComID
	TSN, HSN       int
	// See "3.2.3.2.1.2 SeqNumber"
	SeqLastXmit uint32
	aborted     bool
	closed      bool
}

type ControlSession struct {
	Session
	HostProperties
	TPerProperties
}

type HostProperties struct {
	MaxMethods               uint
	MaxSubpackets            uint
	MaxPacketSize            uint
	MaxPackets               uint
	MaxComPacketSize         uint
	MaxResponseComPacketSize *uint
	MaxIndTokenSize          uint
	MaxAggTokenSize          uint
	ContinuedTokens          bool
	SequenceNumbers          bool
	AckNak                   bool
	Asynchronous             bool
}

type TPerProperties struct {
	MaxMethods               uint
	MaxSubpackets            uint
	MaxPacketSize            uint
	MaxPackets               uint
	MaxComPacketSize         uint
	MaxResponseComPacketSize *uint
	MaxSessions              *uint
	MaxReadSessions          *uint
	MaxIndTokenSize          uint
	MaxAggTokenSize          uint
	MaxAuthentications       *uint
	MaxTransactionLimit      *uint
	DefSessionTimeout        *uint
	MaxSessionTimeout        *uint
	MinSessionTimeout        *uint
	ContinuedTokens          bool
	SequenceNumbers          bool
	AckNak                   bool
	Asynchronous             bool
}

// Table 168 - "Communications Initial Assumptions"
var (
	InitialTPerProperties = TPerProperties{
		MaxMethods:       1,
		MaxSubpackets:    1,
		MaxPacketSize:    1004,
		MaxPackets:       1,
		MaxComPacketSize: 1024,
		MaxIndTokenSize:  968,
		MaxAggTokenSize:  968,
	}
	InitialHostProperties = HostProperties{
		MaxMethods:       1,
		MaxSubpackets:    1,
		MaxPacketSize:    1004,
		MaxPackets:       1,
		MaxComPacketSize: 1024,
		MaxIndTokenSize:  968,
		MaxAggTokenSize:  968,
	}
	// What we ask the TPer to raise our limits to. The TPer replies with
	// what it actually accepted.
	requestedHostProperties = HostProperties{
		MaxMethods:       1,
		MaxSubpackets:    1,
		MaxPacketSize:    16364,
		MaxPackets:       1,
		MaxComPacketSize: 16384,
		MaxIndTokenSize:  16328,
		MaxAggTokenSize:  16328,
	}
)

type ControlSessionOpt func(s *ControlSession)
type SessionOpt func(s *Session)

func WithComID(c ComID) ControlSessionOpt {
	return func(s *ControlSession) {
		s.ComID = c
	}
}

func WithHSN(hsn int) SessionOpt {
	return func(s *Session) {
		s.HSN = hsn
	}
}

// NewControlSession creates the session manager channel used for Properties
// exchange and session establishment.
//
// A StackReset is attempted first to clear any state a previous (possibly
// interrupted) host left on the ComID.
func NewControlSession(d drive.SendReceive, d0 *Level0Discovery, opts ...ControlSessionOpt) (*ControlSession, error) {
	if d0 == nil || d0.TPer == nil {
		return nil, ErrTPerSyncNotSupported
	}
	if !d0.TPer.SyncSupported {
		return nil, ErrTPerSyncNotSupported
	}

	hp := InitialHostProperties
	tp := InitialTPerProperties
	cs := &ControlSession{
		Session: Session{
			d:     d,
			ComID: ComIDInvalid,
			TSN:   0,
			HSN:   0,
		},
		HostProperties: hp,
		TPerProperties: tp,
	}
	for _, opt := range opts {
		opt(cs)
	}
	if cs.ComID == ComIDInvalid {
		comID, err := FindComID(d, d0)
		if err != nil {
			return nil, err
		}
		cs.ComID = comID
	}
	cs.c = NewPlainCommunication(d, hp, tp)

	// Best effort, drives without ComID management just ignore this
	if err := StackReset(d, cs.ComID); err != nil &&
		!errors.Is(err, drive.ErrNotSupported) && !errors.Is(err, ErrStackResetPending) {
		return nil, fmt.Errorf("stack reset failed: %w", err)
	}

	rhp := requestedHostProperties
	hp, tp, err := cs.properties(&rhp)
	if err != nil {
		return nil, err
	}
	cs.HostProperties = hp
	cs.TPerProperties = tp
	cs.c = NewPlainCommunication(d, hp, tp)
	return cs, nil
}

// NewSession starts a (write) session against an SP. Authentication is done
// in-session with ThisSP.Authenticate, not as part of StartSession.
func (cs *ControlSession) NewSession(spid uid.SPID, opts ...SessionOpt) (*Session, error) {
	s := &Session{
		ControlSession: cs,
		d:              cs.d,
		c:              cs.c,
		ComID:          cs.ComID,
		TSN:            0,
		HSN:            -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.HSN == -1 {
		var hsn [4]byte
		if _, err := rand.Read(hsn[:]); err != nil {
			return nil, err
		}
		// Keep it positive and non-zero
		s.HSN = int(binary.BigEndian.Uint32(hsn[:])&0x7fffffff | 0x1000)
	}

	mc := method.NewMethodCall(uid.InvokeIDSMU, uid.MethodIDSMStartSession)
	mc.UInt(uint(s.HSN))
	mc.Bytes(spid[:])
	mc.Bool(true) // Write session

	resp, err := cs.ExecuteMethod(mc)
	if err != nil {
		return nil, err
	}

	// Expected: Call, SMU, SyncSession, [ HostSessionID, SPSessionID ... ]
	if len(resp) < 4 ||
		!stream.EqualToken(resp[0], stream.Call) ||
		!stream.EqualBytes(resp[1], uid.InvokeIDSMU[:]) ||
		!stream.EqualBytes(resp[2], uid.MethodIDSMSyncSession[:]) {
		return nil, ErrInvalidStartSessionResponse
	}
	params, ok := resp[3].(stream.List)
	if !ok || len(params) < 2 {
		return nil, ErrInvalidStartSessionResponse
	}
	hsn, ok1 := params[0].(uint)
	tsn, ok2 := params[1].(uint)
	if !ok1 || !ok2 {
		return nil, ErrInvalidStartSessionResponse
	}
	if int(hsn) != s.HSN {
		return nil, fmt.Errorf("%w: host session number mismatch", ErrInvalidStartSessionResponse)
	}
	s.TSN = int(tsn)
	return s, nil
}

// CloseSession forcefully closes a session from the session manager side.
// This is the fallback when the in-band EndOfSession handshake cannot be
// completed.
func (cs *ControlSession) CloseSession(s *Session) error {
	mc := method.NewMethodCall(uid.InvokeIDSMU, uid.MethodIDSMCloseSession)
	mc.UInt(uint(s.HSN))
	mc.UInt(uint(s.TSN))
	_, err := cs.ExecuteMethod(mc)
	s.closed = true
	return err
}

func (cs *ControlSession) Close() error {
	// The control session has no TPer-side state to tear down
	return nil
}

// Close ends the session with the EndOfSession handshake. Safe to call more
// than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.aborted {
		return ErrSessionAborted
	}
	_, err := s.ExecuteMethod(&method.EOSMethodCall{})
	s.closed = true
	return err
}

// NewMethodCall is a convenience wrapper for table helpers.
func (s *Session) NewMethodCall(iid uid.InvokingID, mid uid.MethodID) *method.MethodCall {
	return method.NewMethodCall(iid, mid)
}

// NextSeqNumber hands out packet sequence numbers. Strictly increasing for
// the lifetime of the session, a number is consumed even when sequence
// numbering was not negotiated.
func (s *Session) NextSeqNumber() uint32 {
	s.SeqLastXmit++
	return s.SeqLastXmit
}

// ExecuteMethod sends a method call and decodes the response token stream.
// A non-zero method status code is mapped to its sentinel error from
// method.MethodStatusCodeMap. Any transport fault poisons the session.
func (s *Session) ExecuteMethod(mc method.Call) (stream.List, error) {
	if s.aborted {
		return nil, ErrSessionAborted
	}
	if s.closed {
		return nil, ErrSessionClosed
	}
	b, err := mc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := s.c.Send(drive.SecurityProtocolTCGManagement, s, b); err != nil {
		s.aborted = true
		return nil, err
	}
	resp, err := s.c.Receive(drive.SecurityProtocolTCGManagement, s)
	if err != nil {
		s.aborted = true
		return nil, err
	}
	if len(resp) == 0 {
		return nil, method.ErrEmptyMethodResponse
	}
	reply, err := stream.Decode(resp)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, method.ErrEmptyMethodResponse
	}

	if stream.EqualToken(reply[0], stream.EndOfSession) {
		if mc.IsEOS() {
			// Clean EndOfSession handshake
			return reply, nil
		}
		s.closed = true
		return nil, method.ErrTPerClosedSession
	}
	if mc.IsEOS() {
		return nil, method.ErrReceivedUnexpectedResponse
	}

	// The response ends with EndOfData and the status code list
	if len(reply) < 2 || !stream.EqualToken(reply[len(reply)-2], stream.EndOfData) {
		return nil, method.ErrMalformedMethodResponse
	}
	status, ok := reply[len(reply)-1].(stream.List)
	if !ok || len(status) < 1 {
		return nil, method.ErrMalformedMethodResponse
	}
	sc, ok := status[0].(uint)
	if !ok {
		return nil, method.ErrMalformedMethodResponse
	}
	if sc != method.MethodStatusSuccess {
		return nil, method.StatusToError(sc)
	}
	return reply[:len(reply)-2], nil
}

func (cs *ControlSession) properties(rhp *HostProperties) (HostProperties, TPerProperties, error) {
	hp := InitialHostProperties
	tp := InitialTPerProperties

	mc := method.NewMethodCall(uid.InvokeIDSMU, uid.MethodIDSMProperties)
	mc.StartOptionalParameter(0) // HostProperties
	mc.StartList()
	mc.NamedUInt("MaxComPacketSize", rhp.MaxComPacketSize)
	mc.NamedUInt("MaxPacketSize", rhp.MaxPacketSize)
	mc.NamedUInt("MaxIndTokenSize", rhp.MaxIndTokenSize)
	mc.NamedUInt("MaxAggTokenSize", rhp.MaxAggTokenSize)
	mc.NamedUInt("MaxPackets", rhp.MaxPackets)
	mc.NamedUInt("MaxSubpackets", rhp.MaxSubpackets)
	mc.NamedUInt("MaxMethods", rhp.MaxMethods)
	mc.NamedBool("ContinuedTokens", rhp.ContinuedTokens)
	mc.NamedBool("SequenceNumbers", rhp.SequenceNumbers)
	mc.NamedBool("AckNAK", rhp.AckNak)
	mc.NamedBool("Asynchronous", rhp.Asynchronous)
	mc.EndList()
	mc.EndOptionalParameter()

	resp, err := cs.ExecuteMethod(mc)
	if err != nil {
		return hp, tp, err
	}

	// Expected: Call, SMU, Properties, [ [TPer props] 0: [Host props] ]
	if len(resp) < 4 ||
		!stream.EqualToken(resp[0], stream.Call) ||
		!stream.EqualBytes(resp[1], uid.InvokeIDSMU[:]) ||
		!stream.EqualBytes(resp[2], uid.MethodIDSMProperties[:]) {
		return hp, tp, ErrInvalidPropertiesResponse
	}
	params, ok := resp[3].(stream.List)
	if !ok || len(params) < 1 {
		return hp, tp, ErrInvalidPropertiesResponse
	}
	tpProps, ok := params[0].(stream.List)
	if !ok {
		return hp, tp, ErrInvalidPropertiesResponse
	}
	if err := parseTPerProperties(tpProps, &tp); err != nil {
		return hp, tp, err
	}
	// The TPer echoes the host properties it accepted as optional
	// parameter 0
	if len(params) >= 4 &&
		stream.EqualToken(params[1], stream.StartName) &&
		stream.EqualUInt(params[2], 0) {
		hpProps, ok := params[3].(stream.List)
		if !ok {
			return hp, tp, ErrInvalidPropertiesResponse
		}
		if err := parseHostProperties(hpProps, &hp); err != nil {
			return hp, tp, err
		}
	}
	return hp, tp, nil
}

// walkNamedProperties iterates the StartName name value EndName groups of a
// Properties list.
func walkNamedProperties(l stream.List, apply func(name string, val uint)) error {
	i := 0
	for i < len(l) {
		if !stream.EqualToken(l[i], stream.StartName) {
			return ErrInvalidPropertiesResponse
		}
		if i+3 >= len(l) {
			return ErrInvalidPropertiesResponse
		}
		name, ok1 := l[i+1].([]byte)
		val, ok2 := l[i+2].(uint)
		if !ok1 || !ok2 || !stream.EqualToken(l[i+3], stream.EndName) {
			return ErrInvalidPropertiesResponse
		}
		apply(string(name), val)
		i += 4
	}
	return nil
}

func parseTPerProperties(l stream.List, tp *TPerProperties) error {
	return walkNamedProperties(l, func(name string, val uint) {
		v := val
		switch name {
		case "MaxMethods":
			tp.MaxMethods = v
		case "MaxSubpackets":
			tp.MaxSubpackets = v
		case "MaxPacketSize":
			tp.MaxPacketSize = v
		case "MaxPackets":
			tp.MaxPackets = v
		case "MaxComPacketSize":
			tp.MaxComPacketSize = v
		case "MaxResponseComPacketSize":
			tp.MaxResponseComPacketSize = &v
		case "MaxSessions":
			tp.MaxSessions = &v
		case "MaxReadSessions":
			tp.MaxReadSessions = &v
		case "MaxIndTokenSize":
			tp.MaxIndTokenSize = v
		case "MaxAggTokenSize":
			tp.MaxAggTokenSize = v
		case "MaxAuthentications":
			tp.MaxAuthentications = &v
		case "MaxTransactionLimit":
			tp.MaxTransactionLimit = &v
		case "DefSessionTimeout":
			tp.DefSessionTimeout = &v
		case "MaxSessionTimeout":
			tp.MaxSessionTimeout = &v
		case "MinSessionTimeout":
			tp.MinSessionTimeout = &v
		case "ContinuedTokens":
			tp.ContinuedTokens = v > 0
		case "SequenceNumbers":
			tp.SequenceNumbers = v > 0
		case "AckNAK":
			tp.AckNak = v > 0
		case "Asynchronous":
			tp.Asynchronous = v > 0
		}
	})
}

func parseHostProperties(l stream.List, hp *HostProperties) error {
	return walkNamedProperties(l, func(name string, val uint) {
		v := val
		switch name {
		case "MaxMethods":
			hp.MaxMethods = v
		case "MaxSubpackets":
			hp.MaxSubpackets = v
		case "MaxPacketSize":
			hp.MaxPacketSize = v
		case "MaxPackets":
			hp.MaxPackets = v
		case "MaxComPacketSize":
			hp.MaxComPacketSize = v
		case "MaxResponseComPacketSize":
			hp.MaxResponseComPacketSize = &v
		case "MaxIndTokenSize":
			hp.MaxIndTokenSize = v
		case "MaxAggTokenSize":
			hp.MaxAggTokenSize = v
		case "ContinuedTokens":
			hp.ContinuedTokens = v > 0
		case "SequenceNumbers":
			hp.SequenceNumbers = v > 0
		case "AckNAK":
			hp.AckNak = v > 0
		case "Asynchronous":
			hp.Asynchronous = v > 0
		}
	})
}
