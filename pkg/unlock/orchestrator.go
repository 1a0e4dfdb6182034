// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unlock

import (
	"github.com/rs/zerolog"

	"github.com/prebootsec/sedunlock/pkg/config"
	"github.com/prebootsec/sedunlock/pkg/core/hash"
)

// PasswordReader is the blocking operator input collaborator.
type PasswordReader interface {
	ReadPassword(prompt string) ([]byte, error)
}

// Screen is the display collaborator, only used for clear_on_retry.
type Screen interface {
	Clear()
}

// Device is what the orchestrator needs from a secure device. Satisfied by
// *SecureDevice.
type Device interface {
	Name() string
	Serial() []byte
	IsLocked() (bool, error)
	AttemptUnlock(credential []byte) (bool, error)
}

// Orchestrator walks the secure devices and drives the interactive retry
// loop against each one. Devices are handled strictly sequentially.
type Orchestrator struct {
	cfg    *config.Config
	pw     PasswordReader
	screen Screen
	log    zerolog.Logger
}

func NewOrchestrator(cfg *config.Config, pw PasswordReader, screen Screen, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, pw: pw, screen: screen, log: log}
}

// Run processes every device. A fatal device error abandons that device
// (it stays locked) and moves on; only operator input failure aborts the
// whole run. Returns the number of devices left locked.
func (o *Orchestrator) Run(devices []Device) (int, error) {
	left := 0
	for _, dev := range devices {
		if err := o.unlockDevice(dev); err != nil {
			o.log.Error().Str("device", dev.Name()).Err(err).Msg("device abandoned, leaving it locked")
			left++
		}
	}
	return left, nil
}

func (o *Orchestrator) unlockDevice(dev Device) error {
	log := o.log.With().Str("device", dev.Name()).Logger()

	locked, err := dev.IsLocked()
	if err != nil {
		return err
	}
	if !locked {
		log.Info().Msg("already unlocked, skipping")
		return nil
	}

	// Unbounded on purpose: once we move past a locked device there is no
	// way back, so the operator decides when to stop trying.
	retry := false
	for {
		prompt := o.cfg.Prompt
		if retry {
			if o.cfg.ClearOnRetry {
				o.screen.Clear()
			}
			prompt = o.cfg.RetryPrompt
		}
		password, err := o.pw.ReadPassword(prompt)
		if err != nil {
			return err
		}
		credential := o.deriveCredential(password, dev)
		ok, err := dev.AttemptUnlock(credential)
		hash.Zero(credential)
		hash.Zero(password)
		if err != nil {
			return err
		}
		if ok {
			log.Info().Msg("unlocked")
			return nil
		}
		log.Info().Msg("credential rejected")
		retry = true
	}
}

// deriveCredential turns the operator password into the credential bytes
// the drive expects. The sedutil schemes salt with the drive serial, so the
// same password yields a different credential per drive.
func (o *Orchestrator) deriveCredential(password []byte, dev Device) []byte {
	switch o.cfg.Hash {
	case config.HashSedutil512:
		return hash.HashSedutil512(password, dev.Serial())
	case config.HashNone:
		cred := make([]byte, len(password))
		copy(cred, password)
		return cred
	default:
		return hash.HashSedutilDTA(password, dev.Serial())
	}
}
