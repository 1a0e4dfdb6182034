// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"errors"

	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/method"
	"github.com/prebootsec/sedunlock/pkg/core/stream"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

// ErrAuthenticationFailed covers every way a TPer can reject a credential.
// It is distinct from transport and protocol errors so callers can offer a
// retry instead of giving up on the device.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ThisSP_Authenticate proves an authority to the SP of the current session.
// A rejected credential returns ErrAuthenticationFailed, a locked-out
// authority returns method.ErrMethodStatusAuthorityLockedOut.
func ThisSP_Authenticate(s *core.Session, authority uid.AuthorityObjectUID, proof []byte) error {
	mc := s.NewMethodCall(uid.InvokeIDThisSP, uid.MethodIDAuthenticate)
	mc.Bytes(authority[:])
	mc.StartOptionalParameter(0) // Challenge
	mc.Bytes(proof)
	mc.EndOptionalParameter()

	resp, err := s.ExecuteMethod(mc)
	if err != nil {
		if errors.Is(err, method.ErrMethodStatusNotAuthorized) {
			return ErrAuthenticationFailed
		}
		return err
	}
	// The result is a single boolean success value
	if len(resp) == 0 {
		return method.ErrEmptyMethodResponse
	}
	result, ok := resp[0].(stream.List)
	if !ok || len(result) == 0 {
		return method.ErrMalformedMethodResponse
	}
	success, ok := result[0].(uint)
	if !ok {
		return method.ErrMalformedMethodResponse
	}
	if success == 0 {
		return ErrAuthenticationFailed
	}
	return nil
}
