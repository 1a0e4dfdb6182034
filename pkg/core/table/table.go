// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Helpers for the generic table Get/Set methods.

package table

import (
	"errors"

	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/method"
	"github.com/prebootsec/sedunlock/pkg/core/stream"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

const (
	CellBlockStartColumn uint = 3
	CellBlockEndColumn   uint = 4
	SetValuesParameter   uint = 1
)

var (
	ErrEmptyResult          = errors.New("method call returned no results")
	ErrMalformedResult      = errors.New("method call returned a malformed result")
	ErrColumnNotPresent     = errors.New("requested column was not present in the result")
	ErrWrongColumnValueType = errors.New("column value has an unexpected type")
)

// RowValues is a decoded table row, keyed by column number.
type RowValues map[uint]interface{}

// GetCell fetches one column of a row.
func GetCell(s *core.Session, row uid.RowUID, column uint) (interface{}, error) {
	vals, err := GetPartialRow(s, row, column, column)
	if err != nil {
		return nil, err
	}
	v, ok := vals[column]
	if !ok {
		return nil, ErrColumnNotPresent
	}
	return v, nil
}

// GetPartialRow fetches a column range of a row.
func GetPartialRow(s *core.Session, row uid.RowUID, startCol uint, endCol uint) (RowValues, error) {
	mc := s.NewMethodCall(uid.InvokingID(row), uid.MethodIDGet)
	mc.StartList() // Cellblock
	mc.StartOptionalParameter(CellBlockStartColumn)
	mc.UInt(startCol)
	mc.EndOptionalParameter()
	mc.StartOptionalParameter(CellBlockEndColumn)
	mc.UInt(endCol)
	mc.EndOptionalParameter()
	mc.EndList()

	resp, err := s.ExecuteMethod(mc)
	if err != nil {
		return nil, err
	}
	return parseGetResult(resp)
}

func parseGetResult(res stream.List) (RowValues, error) {
	if len(res) == 0 {
		return nil, ErrEmptyResult
	}
	methodResult, ok := res[0].(stream.List)
	if !ok {
		return nil, ErrMalformedResult
	}
	if len(methodResult) == 0 {
		return nil, ErrEmptyResult
	}
	inner, ok := methodResult[0].(stream.List)
	if !ok {
		return nil, ErrMalformedResult
	}
	return parseRowValues(inner)
}

// parseRowValues decodes the StartName column value EndName groups of a
// Get result.
func parseRowValues(rv stream.List) (RowValues, error) {
	res := RowValues{}
	i := 0
	for i < len(rv) {
		if !stream.EqualToken(rv[i], stream.StartName) {
			return nil, ErrMalformedResult
		}
		if i+3 >= len(rv) {
			return nil, ErrMalformedResult
		}
		col, ok := rv[i+1].(uint)
		if !ok {
			return nil, ErrMalformedResult
		}
		if !stream.EqualToken(rv[i+3], stream.EndName) {
			return nil, ErrMalformedResult
		}
		res[col] = rv[i+2]
		i += 4
	}
	return res, nil
}

// NewSetCall prepares a Set invocation on a row. The caller adds column
// values with StartOptionalParameter(column) and hands the call to
// FinishSetCall.
func NewSetCall(s *core.Session, row uid.RowUID) *method.MethodCall {
	mc := s.NewMethodCall(uid.InvokingID(row), uid.MethodIDSet)
	mc.StartOptionalParameter(SetValuesParameter)
	mc.StartList()
	return mc
}

func FinishSetCall(s *core.Session, mc *method.MethodCall) error {
	mc.EndList()
	mc.EndOptionalParameter()
	_, err := s.ExecuteMethod(mc)
	return err
}
