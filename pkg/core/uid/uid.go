// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Well-known UIDs from the TCG Storage Architecture Core Specification and
// the Opal SSC. Everything in this package is a compile-time constant table;
// nothing here is allocated or mutated at runtime.

package uid

type InvokingID [8]byte
type MethodID [8]byte
type SPID [8]byte
type AuthorityObjectUID [8]byte
type RowUID [8]byte
type TableUID [8]byte

// Row derives the row UID for a row belonging to a table.
func (t TableUID) Row(row [4]byte) RowUID {
	return RowUID{t[0], t[1], t[2], t[3], row[0], row[1], row[2], row[3]}
}

var (
	InvokeIDNull   InvokingID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	InvokeIDThisSP InvokingID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	// Session Manager UID, the invoker for all pre-session methods
	InvokeIDSMU InvokingID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}

	// Table 241 - "Session Manager Method UIDs"
	MethodIDSMProperties   MethodID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x01}
	MethodIDSMStartSession MethodID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x02}
	MethodIDSMSyncSession  MethodID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x03}
	MethodIDSMCloseSession MethodID = [8]byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x06}

	// MethodID table rows common to all SPs
	MethodIDNext         MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x08}
	MethodIDGetACL       MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x0D}
	MethodIDGet          MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x16}
	MethodIDSet          MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x17}
	MethodIDAuthenticate MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x1C}
	MethodIDRandom       MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x06, 0x01}
	// Opal SSC specific
	MethodIDActivate MethodID = [8]byte{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x02, 0x03}

	AdminSP   SPID = [8]byte{0x00, 0x00, 0x02, 0x05, 0x00, 0x00, 0x00, 0x01}
	LockingSP SPID = [8]byte{0x00, 0x00, 0x02, 0x05, 0x00, 0x00, 0x00, 0x02}

	// Authority table rows
	AuthorityAnybody AuthorityObjectUID = [8]byte{0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x01}
	AuthoritySID     AuthorityObjectUID = [8]byte{0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x06}
	// Locking SP authorities (Opal 2.0)
	LockingAuthorityAdmin1 AuthorityObjectUID = [8]byte{0x00, 0x00, 0x00, 0x09, 0x00, 0x01, 0x00, 0x01}
	LockingAuthorityUser1  AuthorityObjectUID = [8]byte{0x00, 0x00, 0x00, 0x09, 0x00, 0x03, 0x00, 0x01}

	Admin_C_PINTable TableUID = [8]byte{0x00, 0x00, 0x00, 0x0B, 0x00, 0x00, 0x00, 0x00}

	Admin_C_PIN_SIDRow  RowUID = Admin_C_PINTable.Row([4]byte{0x00, 0x00, 0x00, 0x01})
	Admin_C_PIN_MSIDRow RowUID = Admin_C_PINTable.Row([4]byte{0x00, 0x00, 0x84, 0x02})

	// Locking SP C_PIN rows holding the Admin1/User1 credentials
	Locking_C_PIN_Admin1Row RowUID = Admin_C_PINTable.Row([4]byte{0x00, 0x01, 0x00, 0x01})
	Locking_C_PIN_User1Row  RowUID = Admin_C_PINTable.Row([4]byte{0x00, 0x03, 0x00, 0x01})

	Locking_LockingTable TableUID = [8]byte{0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0x00}
	LockingGlobalRange   RowUID   = Locking_LockingTable.Row([4]byte{0x00, 0x00, 0x00, 0x01})
	LockingInfoObj       RowUID   = [8]byte{0x00, 0x00, 0x08, 0x01, 0x00, 0x00, 0x00, 0x01}

	MBRControlObj RowUID = [8]byte{0x00, 0x00, 0x08, 0x03, 0x00, 0x00, 0x00, 0x01}
)

// LockingAuthorityUser returns the Locking SP UserN authority row.
// N is 1-based, as in the Opal SSC.
func LockingAuthorityUser(n uint8) AuthorityObjectUID {
	return AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x03, 0x00, n}
}

// Locking_C_PIN_User returns the C_PIN row holding the UserN credential.
func Locking_C_PIN_User(n uint8) RowUID {
	return Admin_C_PINTable.Row([4]byte{0x00, 0x03, 0x00, n})
}
