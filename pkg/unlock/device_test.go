// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unlock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prebootsec/sedunlock/pkg/core/uid"
)

func TestAuthorityFromName(t *testing.T) {
	a, err := AuthorityFromName("admin1")
	require.NoError(t, err)
	assert.Equal(t, uid.LockingAuthorityAdmin1, a)

	a, err = AuthorityFromName("User1")
	require.NoError(t, err)
	assert.Equal(t, uid.LockingAuthorityUser1, a)

	a, err = AuthorityFromName("user4")
	require.NoError(t, err)
	assert.Equal(t, uid.LockingAuthorityUser(4), a)

	for _, bad := range []string{"", "admin2", "user0", "userx", "sid"} {
		_, err := AuthorityFromName(bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}
