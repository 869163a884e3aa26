// Copyright 2025 The credithub Authors
// This file is part of the credithub library.
//
// The credithub library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The credithub library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the credithub library. If not, see <http://www.gnu.org/licenses/>.

// Package config loads and validates the hub configuration from TOML.
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
	"github.com/shopspring/decimal"
)

// Routing bounds path discovery.
type Routing struct {
	MaxPathLength        int `toml:"max_path_length"`
	MaxPathsPerPayment   int `toml:"max_paths_per_payment"`
	PathFindingTimeoutMS int `toml:"path_finding_timeout_ms"`
}

// Clearing controls the cycle clearing engine.
type Clearing struct {
	Enabled                bool   `toml:"enabled"`
	TriggerCyclesMaxLength int    `toml:"trigger_cycles_max_length"`
	MinClearingAmount      string `toml:"min_clearing_amount"`
	PeriodicIntervalSec    int    `toml:"periodic_interval_seconds"`
}

// Protocol carries the two-phase payment timings.
type Protocol struct {
	PrepareTimeoutMS  int `toml:"prepare_timeout_ms"`
	CommitTimeoutMS   int `toml:"commit_timeout_ms"`
	MaxClockSkewSec   int `toml:"max_clock_skew_seconds"`
	RecoveryInterval  int `toml:"recovery_interval_seconds"`
	RecoveryGraceSec  int `toml:"recovery_grace_seconds"`
}

// Integrity controls the background verifier.
type Integrity struct {
	CheckIntervalSec int `toml:"check_interval_seconds"`
}

// Server carries the HTTP boundary settings.
type Server struct {
	HTTPAddr    string   `toml:"http_addr"`
	CORSOrigins []string `toml:"cors_origins"`
	JWTSecret   string   `toml:"jwt_secret"`
}

// Database selects and configures the ledger backend.
type Database struct {
	// DSN is a PostgreSQL connection string. Empty selects the in-memory
	// backend (development only).
	DSN string `toml:"dsn"`
}

// Config is the full hub configuration.
type Config struct {
	Routing   Routing   `toml:"routing"`
	Clearing  Clearing  `toml:"clearing"`
	Protocol  Protocol  `toml:"protocol"`
	Integrity Integrity `toml:"integrity"`
	Server    Server    `toml:"server"`
	Database  Database  `toml:"database"`
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		Routing: Routing{
			MaxPathLength:        6,
			MaxPathsPerPayment:   3,
			PathFindingTimeoutMS: 500,
		},
		Clearing: Clearing{
			Enabled:                true,
			TriggerCyclesMaxLength: 4,
			MinClearingAmount:      "0.01",
			PeriodicIntervalSec:    3600,
		},
		Protocol: Protocol{
			PrepareTimeoutMS: 3000,
			CommitTimeoutMS:  5000,
			MaxClockSkewSec:  300,
			RecoveryInterval: 60,
			RecoveryGraceSec: 5,
		},
		Integrity: Integrity{
			CheckIntervalSec: 300,
		},
		Server: Server{
			HTTPAddr: "127.0.0.1:8545",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate enforces the documented ranges.
func (c Config) Validate() error {
	if c.Routing.MaxPathLength < 3 || c.Routing.MaxPathLength > 12 {
		return fmt.Errorf("routing.max_path_length must be 3..12, got %d", c.Routing.MaxPathLength)
	}
	if c.Routing.MaxPathsPerPayment < 1 || c.Routing.MaxPathsPerPayment > 10 {
		return fmt.Errorf("routing.max_paths_per_payment must be 1..10, got %d", c.Routing.MaxPathsPerPayment)
	}
	if c.Routing.PathFindingTimeoutMS <= 0 {
		return fmt.Errorf("routing.path_finding_timeout_ms must be positive")
	}
	if c.Clearing.TriggerCyclesMaxLength < 3 || c.Clearing.TriggerCyclesMaxLength > 4 {
		return fmt.Errorf("clearing.trigger_cycles_max_length must be 3 or 4, got %d", c.Clearing.TriggerCyclesMaxLength)
	}
	if _, err := c.MinClearingAmount(); err != nil {
		return err
	}
	if c.Protocol.PrepareTimeoutMS <= 0 || c.Protocol.CommitTimeoutMS <= 0 {
		return fmt.Errorf("protocol timeouts must be positive")
	}
	if c.Protocol.MaxClockSkewSec < 0 {
		return fmt.Errorf("protocol.max_clock_skew_seconds must not be negative")
	}
	if c.Integrity.CheckIntervalSec <= 0 {
		return fmt.Errorf("integrity.check_interval_seconds must be positive")
	}
	return nil
}

// MinClearingAmount parses the clearing floor.
func (c Config) MinClearingAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Clearing.MinClearingAmount)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("clearing.min_clearing_amount must be a non-negative decimal, got %q", c.Clearing.MinClearingAmount)
	}
	return d, nil
}
