// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// SecureDevice couples one physical drive with its Opal session plumbing.

package unlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prebootsec/sedunlock/pkg/core"
	"github.com/prebootsec/sedunlock/pkg/core/table"
	"github.com/prebootsec/sedunlock/pkg/core/uid"
	"github.com/prebootsec/sedunlock/pkg/drive"
)

var (
	ErrNoLockingSupport = errors.New("device has no Opal locking support")
)

// SecureDevice is one drive that passed the capability check. All session
// state is per-operation: every IsLocked or AttemptUnlock opens a fresh
// session and tears it down before returning.
type SecureDevice struct {
	Path      string
	Core      *core.Core
	Authority uid.AuthorityObjectUID

	log zerolog.Logger
}

// NewSecureDevice wraps an opened drive, verifying it actually speaks the
// TCG TPer protocol and implements Opal 2 locking. Devices that do not are
// rejected with drive.ErrDeviceNotSupported so enumeration can skip them.
func NewSecureDevice(path string, d drive.DriveIntf, authority uid.AuthorityObjectUID, log zerolog.Logger) (*SecureDevice, error) {
	if !drive.SupportsTCG(d) {
		return nil, drive.ErrDeviceNotSupported
	}
	c, err := core.NewCoreFromDrive(d)
	if err != nil {
		return nil, err
	}
	d0 := c.Level0Discovery
	if d0.OpalV2 == nil || d0.Locking == nil || !d0.Locking.LockingSupported {
		return nil, ErrNoLockingSupport
	}
	return &SecureDevice{
		Path:      path,
		Core:      c,
		Authority: authority,
		log:       log.With().Str("device", path).Logger(),
	}, nil
}

func (d *SecureDevice) Close() error {
	return d.Core.Close()
}

func (d *SecureDevice) Name() string {
	return d.Path
}

// Serial is the hash salt source for the sedutil credential schemes.
func (d *SecureDevice) Serial() []byte {
	return d.Core.Serial
}

// session opens a fresh Locking SP session.
func (d *SecureDevice) session() (*core.ControlSession, *core.Session, error) {
	cs, err := core.NewControlSession(d.Core, d.Core.Level0Discovery)
	if err != nil {
		return nil, nil, err
	}
	s, err := cs.NewSession(uid.LockingSP)
	if err != nil {
		return nil, nil, err
	}
	return cs, s, nil
}

// IsLocked reports whether the global range holds a read or write lock.
func (d *SecureDevice) IsLocked() (bool, error) {
	cs, s, err := d.session()
	if err != nil {
		return false, err
	}
	defer d.closeSession(cs, s)

	row, err := table.Locking_Get(s, uid.LockingGlobalRange)
	if err != nil {
		return false, err
	}
	return row.ReadLocked || row.WriteLocked, nil
}

// AttemptUnlock authenticates with the credential and clears both lock
// bits of the global range. Returns (true, nil) when the drive is unlocked,
// (false, nil) when the drive rejected the credential, and a non-nil error
// for transport or protocol faults. The caller owns the credential buffer
// and is expected to zero it afterwards.
func (d *SecureDevice) AttemptUnlock(credential []byte) (bool, error) {
	cs, s, err := d.session()
	if err != nil {
		return false, err
	}
	defer d.closeSession(cs, s)

	if err := table.ThisSP_Authenticate(s, d.Authority, credential); err != nil {
		if errors.Is(err, table.ErrAuthenticationFailed) {
			return false, nil
		}
		return false, err
	}

	unlocked := false
	err = table.Locking_Set(s, uid.LockingGlobalRange, &table.LockingUpdate{
		ReadLocked:  &unlocked,
		WriteLocked: &unlocked,
	})
	if err != nil {
		return false, err
	}

	// With a shadow MBR active the OS would still see the pre-boot image
	// instead of the real data, so raise Done in the same session.
	l := d.Core.Level0Discovery.Locking
	if l.MBREnabled && !l.MBRDone {
		if err := table.MBRControl_SetDone(s, true); err != nil {
			return false, err
		}
	}
	return true, nil
}

// closeSession is the best-effort teardown. EndOfSession failures are
// logged and swallowed, the forceful session manager close is the backup.
func (d *SecureDevice) closeSession(cs *core.ControlSession, s *core.Session) {
	if err := s.Close(); err != nil {
		d.log.Debug().Err(err).Msg("EndOfSession failed, trying session manager close")
		if err := cs.CloseSession(s); err != nil {
			d.log.Debug().Err(err).Msg("session manager close failed as well")
		}
	}
}

// AuthorityFromName maps a config authority name to its Locking SP UID.
func AuthorityFromName(name string) (uid.AuthorityObjectUID, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "admin1" {
		return uid.LockingAuthorityAdmin1, nil
	}
	if rest, ok := strings.CutPrefix(n, "user"); ok {
		u, err := strconv.ParseUint(rest, 10, 8)
		if err == nil && u >= 1 {
			return uid.LockingAuthorityUser(uint8(u)), nil
		}
	}
	return uid.AuthorityObjectUID{}, fmt.Errorf("unknown authority %q", name)
}

// EnumerateBlockDevices lists whole-disk block devices from sysfs.
// Partitions and virtual devices (loop, ram, device-mapper) are skipped.
func EnumerateBlockDevices() ([]string, error) {
	entries, err := os.ReadDir("/sys/class/block")
	if err != nil {
		return nil, err
	}
	var res []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") ||
			strings.HasPrefix(name, "dm-") || strings.HasPrefix(name, "zram") {
			continue
		}
		// Partitions carry a "partition" attribute, whole disks do not
		if _, err := os.Stat(filepath.Join("/sys/class/block", name, "partition")); err == nil {
			continue
		}
		res = append(res, filepath.Join("/dev", name))
	}
	return res, nil
}

// FindSecureDevices opens the candidate paths and keeps those that pass
// the Opal capability check. Unsupported devices are closed and logged,
// not treated as errors.
func FindSecureDevices(paths []string, authority uid.AuthorityObjectUID, log zerolog.Logger) ([]*SecureDevice, error) {
	var res []*SecureDevice
	for _, p := range paths {
		d, err := drive.Open(p)
		if err != nil {
			log.Debug().Str("device", p).Err(err).Msg("cannot open device")
			continue
		}
		sd, err := NewSecureDevice(p, d, authority, log)
		if err != nil {
			if errors.Is(err, drive.ErrDeviceNotSupported) || errors.Is(err, ErrNoLockingSupport) ||
				errors.Is(err, core.ErrNotSupported) {
				log.Debug().Str("device", p).Err(err).Msg("not an Opal device, skipping")
				d.Close()
				continue
			}
			d.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		res = append(res, sd)
	}
	return res, nil
}
