// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

const cpinColPIN uint = 3

// Admin_C_PIN_MSID_GetPIN reads the manufacturer default credential from
// the Admin SP. Readable by Anybody, so no prior authentication is needed.
func Admin_C_PIN_MSID_GetPIN(s *core.Session) ([]byte, error) {
	v, err := GetCell(s, uid.Admin_C_PIN_MSIDRow, cpinColPIN)
	if err != nil {
		return nil, err
	}
	pin, ok := v.([]byte)
	if !ok {
		return nil, ErrWrongColumnValueType
	}
	return pin, nil
}
