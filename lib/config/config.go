// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Keyhole host.
//
// Configuration is loaded from a single YAML file passed via the
// --config flag. There are no fallbacks or automatic discovery —
// unset fields take the defaults below. This keeps host deployments
// deterministic and auditable with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied to unset fields.
const (
	DefaultListenAddress = ":8050"
	DefaultRunDir        = "/run/keyhole"
	DefaultUserFile      = "/var/lib/keyhole/users.cbor"
	DefaultAttachTimeout = time.Minute
)

// Config is the host daemon's configuration.
type Config struct {
	// ListenAddress is the TCP address the host accepts remote
	// connections on (e.g., ":8050" or "0.0.0.0:8050").
	ListenAddress string `yaml:"listen_address"`

	// RunDir is the runtime directory for per-attach IPC sockets.
	// Must be writable by the host and readable by worker accounts.
	RunDir string `yaml:"run_dir"`

	// WorkerBinary is the path of the keyhole-session binary. Empty
	// means a sibling of the host binary in its install directory.
	WorkerBinary string `yaml:"worker_binary"`

	// UserFile is the path of the persisted user-record list.
	UserFile string `yaml:"user_file"`

	// AttachTimeout bounds how long a session may sit in the Starting
	// or Detached state before it is terminated. Zero means the
	// default of one minute. Exposed for integration environments;
	// production deployments leave it unset.
	AttachTimeout time.Duration `yaml:"attach_timeout"`
}

// Load reads and parses the config file at path. A missing file is an
// error — the caller decides whether to fall back to Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	configuration := Default()
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	configuration.applyDefaults()
	return configuration, nil
}

// Default returns a Config populated with default values.
func Default() *Config {
	configuration := &Config{}
	configuration.applyDefaults()
	return configuration
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.RunDir == "" {
		c.RunDir = DefaultRunDir
	}
	if c.UserFile == "" {
		c.UserFile = DefaultUserFile
	}
	if c.AttachTimeout <= 0 {
		c.AttachTimeout = DefaultAttachTimeout
	}
}
