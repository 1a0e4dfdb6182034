// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// TOML configuration for the unlock agent.

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Hash selects how an operator password becomes the Opal credential.
const (
	HashSedutilDTA = "sedutil-dta"
	HashSedutil512 = "sedutil-sha512"
	HashNone       = "none"
)

type Config struct {
	// Prompt shown for the first password attempt of a device
	Prompt string `toml:"prompt"`
	// RetryPrompt shown after a rejected credential
	RetryPrompt string `toml:"retry_prompt"`
	// ClearOnRetry clears the screen before every retry prompt
	ClearOnRetry bool `toml:"clear_on_retry"`
	// Hash is the password derivation scheme, one of sedutil-dta,
	// sedutil-sha512 or none (password bytes used as-is)
	Hash string `toml:"hash"`
	// Authority the credential authenticates, admin1 or userN
	Authority string `toml:"authority"`
	// Devices limits unlocking to these block device paths. Empty means
	// enumerate every device that speaks the TCG TPer protocol.
	Devices []string `toml:"devices"`
	// LogLevel is a zerolog level string (debug, info, warn, error)
	LogLevel string `toml:"log_level"`
}

func Default() *Config {
	return &Config{
		Prompt:       "Enter disk password: ",
		RetryPrompt:  "Incorrect password, try again: ",
		ClearOnRetry: false,
		Hash:         HashSedutilDTA,
		Authority:    "admin1",
		LogLevel:     "info",
	}
}

// Load reads a TOML config file on top of the defaults. Keys absent from
// the file keep their default value, so a config file only needs to state
// what it changes.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	for _, k := range meta.Undecoded() {
		return nil, fmt.Errorf("config %s: unknown key %q", path, k.String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Hash {
	case HashSedutilDTA, HashSedutil512, HashNone:
	default:
		return fmt.Errorf("unknown hash scheme %q", c.Hash)
	}
	if c.Prompt == "" || c.RetryPrompt == "" {
		return fmt.Errorf("prompt and retry_prompt must not be empty")
	}
	return nil
}
