// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient/engine"
)

const (
	DefaultApplicationName   = "opcua-tag-client"
	DefaultConnectTimeout    = 5 * time.Second
	DefaultReconnectPeriod   = 10 * time.Second
	DefaultMaxBrowseDepth    = 25
	DefaultSessionTimeout    = engine.DefaultSessionTimeout
	DefaultKeepAliveInterval = engine.DefaultKeepAliveInterval
)

// Config describes the server and how the client talks to it.
type Config struct {
	Endpoint        string `yaml:"endpoint"`        // opc.tcp:// URL of the server
	ApplicationName string `yaml:"applicationName"` // Session and application name presented to the server

	UseSecurity                  bool   `yaml:"useSecurity"`                  // Prefer the most secure endpoint
	AcceptUntrusted              bool   `yaml:"acceptUntrusted"`              // Skip server certificate pinning
	ServerCertificateFingerprint string `yaml:"serverCertificateFingerprint"` // SHA3-512 hex of the server certificate

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	SessionTimeout    time.Duration `yaml:"sessionTimeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`
	ReconnectPeriod   time.Duration `yaml:"reconnectPeriod"` // Wait between reconnect attempts

	MaxBrowseDepth int `yaml:"maxBrowseDepth"` // Nodes deeper than this are not expanded
}

// withDefaults fills unset fields
func (c Config) withDefaults() Config {
	if c.ApplicationName == "" {
		c.ApplicationName = DefaultApplicationName
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.ReconnectPeriod <= 0 {
		c.ReconnectPeriod = DefaultReconnectPeriod
	}
	if c.MaxBrowseDepth <= 0 {
		c.MaxBrowseDepth = DefaultMaxBrowseDepth
	}
	return c
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		errs = append(errs, fmt.Errorf("endpoint %q must start with opc.tcp://", c.Endpoint))
	}
	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, errors.New("username and password must be set together"))
	}
	if c.ServerCertificateFingerprint != "" && len(strings.TrimSpace(c.ServerCertificateFingerprint)) != 128 {
		errs = append(errs, errors.New("serverCertificateFingerprint must be a SHA3-512 hex digest"))
	}
	return errors.Join(errs...)
}

// ParseConfig decodes YAML, applies defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

func (c Config) engineOptions() engine.Options {
	return engine.Options{
		Endpoint:                     c.Endpoint,
		ApplicationName:              c.ApplicationName,
		UseSecurity:                  c.UseSecurity,
		AcceptUntrusted:              c.AcceptUntrusted,
		ServerCertificateFingerprint: c.ServerCertificateFingerprint,
		Username:                     c.Username,
		Password:                     c.Password,
		SessionTimeout:               c.SessionTimeout,
		RequestTimeout:               c.RequestTimeout,
		KeepAliveInterval:            c.KeepAliveInterval,
	}
}
