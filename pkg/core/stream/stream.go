// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements the TCG Storage Core data stream token encoding.

package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

type TokenType uint8

// List is a decoded token stream. Elements are uint, []byte, TokenType or
// a nested List.
type List []interface{}

const (
	StartList    TokenType = 0xF0
	EndList      TokenType = 0xF1
	StartName    TokenType = 0xF2
	EndName      TokenType = 0xF3
	Call         TokenType = 0xF8
	EndOfData    TokenType = 0xF9
	EndOfSession TokenType = 0xFA
	EmptyAtom    TokenType = 0xFF
)

var (
	ErrUnbalancedList = errors.New("token stream contains unbalanced list structures")
	ErrUnbalancedName = errors.New("token stream contains unbalanced name structures")
	ErrTruncatedAtom  = errors.New("token stream ends inside an atom")
	ErrSignedAtom     = errors.New("token stream contains a signed atom")
)

func (t TokenType) String() string {
	switch t {
	case StartList:
		return "StartList"
	case EndList:
		return "EndList"
	case StartName:
		return "StartName"
	case EndName:
		return "EndName"
	case Call:
		return "Call"
	case EndOfData:
		return "EndOfData"
	case EndOfSession:
		return "EndOfSession"
	case EmptyAtom:
		return "EmptyAtom"
	}
	return "<Unknown>"
}

func Token(tok TokenType) []byte {
	return []byte{byte(tok)}
}

// UInt encodes an unsigned integer using the smallest atom form that can
// represent it. Values below 64 fit a tiny atom, everything else becomes a
// short atom with the minimal number of data bytes.
func UInt(val uint) []byte {
	if val < 64 {
		return []byte{uint8(val)}
	}
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(val))
	n := 8
	for n > 1 && data[8-n] == 0 {
		n--
	}
	return append([]byte{0x80 | uint8(n)}, data[8-n:]...)
}

// Bytes encodes a byte sequence. Tiny atoms only represent integers
// ("3.2.2.3.1 Simple Tokens - Atoms Overview"), so the smallest binary form
// is a short atom.
func Bytes(b []byte) []byte {
	if len(b) < 16 {
		// Short atom, 0-length allowed
		return append([]byte{0xA0 | uint8(len(b))}, b...)
	} else if len(b) < 2048 {
		// Medium atom
		return append([]byte{0xD0 | uint8((len(b)>>8)&0x7), uint8(len(b) & 0xFF)}, b...)
	}
	// Long atom
	return append([]byte{0xE2, uint8((len(b) >> 16) & 0xFF), uint8((len(b) >> 8) & 0xFF), uint8(len(b) & 0xFF)}, b...)
}

// Encode re-encodes a decoded List into its canonical (minimal atom form)
// byte representation.
func Encode(l List) []byte {
	buf := bytes.Buffer{}
	for _, e := range l {
		switch v := e.(type) {
		case uint:
			buf.Write(UInt(v))
		case []byte:
			buf.Write(Bytes(v))
		case TokenType:
			buf.Write(Token(v))
		case List:
			buf.Write(Token(StartList))
			buf.Write(Encode(v))
			buf.Write(Token(EndList))
		}
	}
	return buf.Bytes()
}

// Decode parses a token stream into a List. Unknown atom tags, truncated
// atoms and unbalanced structural tokens are all rejected - there is no safe
// way to skip over a token of unknown length.
func Decode(b []byte) (List, error) {
	res, rest, err := internalDecode(b, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, ErrUnbalancedList
	}
	return res, nil
}

func internalDecode(b []byte, depth int) (List, []byte, error) {
	res := List{}
	names := 0
	for len(b) > 0 {
		s := 1
		var x interface{}
		if b[0]&0x80 == 0 {
			// Tiny atom. List has no representation for signed values,
			// so sign bits are rejected here and in the forms below.
			if b[0]&0x40 > 0 {
				return nil, nil, ErrSignedAtom
			}
			x = uint(b[0])
		} else if b[0]&0xC0 == 0x80 {
			// Short atom
			if b[0]&0x10 > 0 {
				return nil, nil, ErrSignedAtom
			}
			isbyte := b[0]&0x20 > 0
			n := int(b[0] & 0xF)
			if len(b) < 1+n {
				return nil, nil, ErrTruncatedAtom
			}
			if isbyte {
				bc := make([]byte, n)
				copy(bc, b[1:1+n])
				x = bc
			} else {
				var v uint
				for _, i := range b[1 : 1+n] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s = n + 1
		} else if b[0]&0xE0 == 0xC0 {
			// Medium atom
			if b[0]&0x08 > 0 {
				return nil, nil, ErrSignedAtom
			}
			if len(b) < 2 {
				return nil, nil, ErrTruncatedAtom
			}
			isbyte := b[0]&0x10 > 0
			n := int(b[0]&0x7)<<8 | int(b[1])
			if len(b) < 2+n {
				return nil, nil, ErrTruncatedAtom
			}
			if isbyte {
				bc := make([]byte, n)
				copy(bc, b[2:2+n])
				x = bc
			} else {
				var v uint
				for _, i := range b[2 : 2+n] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s = n + 2
		} else if b[0]&0xF0 == 0xE0 {
			// Long atom
			if b[0]&0x01 > 0 {
				return nil, nil, ErrSignedAtom
			}
			if len(b) < 4 {
				return nil, nil, ErrTruncatedAtom
			}
			isbyte := b[0]&0x02 > 0
			n := int(b[1])<<16 | int(b[2])<<8 | int(b[3])
			if len(b) < 4+n {
				return nil, nil, ErrTruncatedAtom
			}
			if isbyte {
				bc := make([]byte, n)
				copy(bc, b[4:4+n])
				x = bc
			} else {
				var v uint
				for _, i := range b[4 : 4+n] {
					v = v<<8 | uint(i)
				}
				x = v
			}
			s = n + 4
		} else if b[0] == byte(StartList) {
			list, rest, err := internalDecode(b[1:], depth+1)
			if err != nil {
				return nil, nil, err
			}
			s = len(b) - len(rest)
			x = list
		} else if b[0] == byte(EndList) {
			if depth == 0 || names != 0 {
				return nil, nil, ErrUnbalancedList
			}
			return res, b[1:], nil
		} else if b[0]&0xF0 == 0xF0 {
			tok := TokenType(b[0])
			switch tok {
			case StartName:
				names++
				x = tok
			case EndName:
				names--
				if names < 0 {
					return nil, nil, ErrUnbalancedName
				}
				x = tok
			case Call, EndOfData, EndOfSession:
				x = tok
			case EmptyAtom:
				// "3.2.2.3.1.5 Empty Atom": SHALL be ignored
				x = nil
			default:
				return nil, nil, fmt.Errorf("unknown token 0x%02x", b[0])
			}
		} else {
			return nil, nil, fmt.Errorf("unknown atom 0x%02x", b[0])
		}
		if x != nil {
			res = append(res, x)
		}
		b = b[s:]
	}
	if depth > 0 {
		// Ran out of bytes inside a list
		return nil, nil, ErrUnbalancedList
	}
	if names != 0 {
		return nil, nil, ErrUnbalancedName
	}
	return res, b, nil
}

func EqualBytes(obj interface{}, b []byte) bool {
	bd, ok := obj.([]byte)
	if !ok {
		return false
	}
	if len(b) == 0 && len(bd) == 0 {
		return true
	}
	return bytes.Equal(b, bd)
}

func EqualToken(obj interface{}, t TokenType) bool {
	bd, ok := obj.(TokenType)
	if !ok {
		return false
	}
	return bd == t
}

func EqualUInt(obj interface{}, v uint) bool {
	bd, ok := obj.(uint)
	if !ok {
		return false
	}
	return bd == v
}
