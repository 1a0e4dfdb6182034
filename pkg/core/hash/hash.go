// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Password-to-credential derivation compatible with sedutil.

package hash

import (
	"crypto/sha1"
	"crypto/sha512"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Salt is the drive serial number space padded to exactly 20 bytes, the
// same construction sedutil uses.
func salt(serial []byte) []byte {
	return []byte(fmt.Sprintf("%-20s", string(serial))[:20])
}

// HashSedutilDTA derives a credential the way stock sedutil-cli does.
// The password is taken as bytes so the caller can Zero its only copy.
func HashSedutilDTA(password, serial []byte) []byte {
	return pbkdf2.Key(password, salt(serial), 75000, 32, sha1.New)
}

// HashSedutil512 derives a credential compatible with sedutil builds that
// use the SHA-512 patch set.
func HashSedutil512(password, serial []byte) []byte {
	return pbkdf2.Key(password, salt(serial), 500000, 32, sha512.New)
}

// Zero wipes a credential buffer in place. Call it as soon as the
// credential has been handed to the TPer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
