// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unlock

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prebootsec/sedunlock/pkg/config"
)

// fakeDevice plays back a scripted sequence of unlock outcomes.
type fakeDevice struct {
	name      string
	locked    bool
	lockedErr error
	outcomes  []error // errRejected is a rejection, nil is success
	attempts  int
	lastCred  []byte
}

var errRejected = errors.New("scripted rejection")

func (d *fakeDevice) Name() string   { return d.name }
func (d *fakeDevice) Serial() []byte { return []byte("FAKESERIAL0001") }

func (d *fakeDevice) IsLocked() (bool, error) {
	return d.locked, d.lockedErr
}

func (d *fakeDevice) AttemptUnlock(credential []byte) (bool, error) {
	if d.attempts >= len(d.outcomes) {
		panic("AttemptUnlock called more often than scripted")
	}
	out := d.outcomes[d.attempts]
	d.attempts++
	d.lastCred = credential
	if out == nil {
		d.locked = false
		return true, nil
	}
	if errors.Is(out, errRejected) {
		return false, nil
	}
	return false, out
}

type fakeReader struct {
	prompts   []string
	passwords [][]byte
}

func (r *fakeReader) ReadPassword(prompt string) ([]byte, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.passwords) == 0 {
		return nil, errors.New("out of scripted passwords")
	}
	pw := r.passwords[0]
	r.passwords = r.passwords[1:]
	return pw, nil
}

type fakeScreen struct {
	clears int
}

func (s *fakeScreen) Clear() { s.clears++ }

func passwords(pws ...string) [][]byte {
	res := make([][]byte, 0, len(pws))
	for _, p := range pws {
		res = append(res, []byte(p))
	}
	return res
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Hash = config.HashNone
	return cfg
}

func TestUnlockFirstTry(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: true, outcomes: []error{nil}}
	rd := &fakeReader{passwords: passwords("hunter2")}
	scr := &fakeScreen{}
	o := NewOrchestrator(testConfig(), rd, scr, zerolog.Nop())

	left, err := o.Run([]Device{dev})
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Equal(t, 1, dev.attempts)
	assert.Equal(t, []string{testConfig().Prompt}, rd.prompts)
	assert.Equal(t, 0, scr.clears)

	locked, err := dev.IsLocked()
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestUnlockSkipsUnlockedDevice(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: false}
	rd := &fakeReader{}
	o := NewOrchestrator(testConfig(), rd, &fakeScreen{}, zerolog.Nop())

	left, err := o.Run([]Device{dev})
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, dev.attempts)
	assert.Empty(t, rd.prompts)
}

func TestUnlockTwoRejectionsThenSuccess(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: true,
		outcomes: []error{errRejected, errRejected, nil}}
	rd := &fakeReader{passwords: passwords("wrong1", "wrong2", "right")}
	scr := &fakeScreen{}
	cfg := testConfig()
	cfg.ClearOnRetry = true
	o := NewOrchestrator(cfg, rd, scr, zerolog.Nop())

	left, err := o.Run([]Device{dev})
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Equal(t, 3, dev.attempts)
	assert.Equal(t, []string{cfg.Prompt, cfg.RetryPrompt, cfg.RetryPrompt}, rd.prompts)
	assert.Equal(t, 2, scr.clears)
}

func TestUnlockRetryWithoutClear(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: true,
		outcomes: []error{errRejected, nil}}
	rd := &fakeReader{passwords: passwords("wrong", "right")}
	scr := &fakeScreen{}
	o := NewOrchestrator(testConfig(), rd, scr, zerolog.Nop())

	left, err := o.Run([]Device{dev})
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, scr.clears)
}

func TestFatalFaultAbandonsDevice(t *testing.T) {
	errTransport := errors.New("passthrough failed")
	broken := &fakeDevice{name: "/dev/fake0", locked: true, outcomes: []error{errTransport}}
	good := &fakeDevice{name: "/dev/fake1", locked: true, outcomes: []error{nil}}
	rd := &fakeReader{passwords: passwords("pw", "pw")}
	o := NewOrchestrator(testConfig(), rd, &fakeScreen{}, zerolog.Nop())

	left, err := o.Run([]Device{broken, good})
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	// The broken device is not retried, the next device still gets served
	assert.Equal(t, 1, broken.attempts)
	assert.Equal(t, 1, good.attempts)
}

func TestFaultDuringIsLockedAbandonsDevice(t *testing.T) {
	errTransport := errors.New("passthrough failed")
	broken := &fakeDevice{name: "/dev/fake0", lockedErr: errTransport}
	good := &fakeDevice{name: "/dev/fake1", locked: true, outcomes: []error{nil}}
	rd := &fakeReader{passwords: passwords("pw")}
	o := NewOrchestrator(testConfig(), rd, &fakeScreen{}, zerolog.Nop())

	left, err := o.Run([]Device{broken, good})
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	assert.Equal(t, 0, broken.attempts)
	assert.Equal(t, 1, good.attempts)
}

func TestPasswordZeroedAfterUse(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: true, outcomes: []error{nil}}
	pw := []byte("hunter2")
	rd := &fakeReader{passwords: [][]byte{pw}}
	cfg := testConfig()
	cfg.Hash = config.HashSedutilDTA
	o := NewOrchestrator(cfg, rd, &fakeScreen{}, zerolog.Nop())

	_, err := o.Run([]Device{dev})
	require.NoError(t, err)
	// The reader's buffer is the only copy of the password and must be
	// wiped once the credential has been derived from it.
	for i, b := range pw {
		assert.Zerof(t, b, "password byte %d not wiped", i)
	}
}

func TestCredentialZeroedAfterUse(t *testing.T) {
	dev := &fakeDevice{name: "/dev/fake0", locked: true, outcomes: []error{nil}}
	rd := &fakeReader{passwords: passwords("hunter2")}
	o := NewOrchestrator(testConfig(), rd, &fakeScreen{}, zerolog.Nop())

	_, err := o.Run([]Device{dev})
	require.NoError(t, err)
	require.NotEmpty(t, dev.lastCred)
	for i, b := range dev.lastCred {
		assert.Zerof(t, b, "credential byte %d not wiped", i)
	}
}
