// Copyright 2026 The btcnode Authors
// This file is part of the btcnode library.
//
// The btcnode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The btcnode library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the btcnode library. If not, see <http://www.gnu.org/licenses/>.

// Package config is the daemon's TOML configuration layer, grounded on the
// teacher's cmd/geth/config.go: a single struct decoded with
// github.com/naoina/toml, with defaults applied before the file is read so
// an absent or partial config still produces a runnable node.
package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/chainforge/btcnode/internal/chase"
)

// NodeConfig bundles the internal/node.Config fields the daemon needs to
// boot a facade, decoded straight off the [Node] table.
type NodeConfig struct {
	Inventory       int
	ConfirmThreads  int
	MilestoneHeight uint64
}

// ArchiveConfig selects and configures the reference Archive implementation.
type ArchiveConfig struct {
	// Backend is "memory" or "leveldb".
	Backend string
	// DataDir is the LevelDB directory; ignored for the memory backend.
	DataDir string
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is one of trace/debug/info/warn/error.
	Level string
	// JSON selects JSON-formatted log lines over slog's default text
	// handler, the way the teacher's --log.json flag does.
	JSON bool
}

// Config is the full daemon configuration, the decode target for the TOML
// file and the struct cmd/btcnoded wires into internal/node.New.
type Config struct {
	Node    NodeConfig
	Archive ArchiveConfig
	Log     LogConfig
}

// Defaults returns a Config populated with the daemon's built-in defaults,
// the same role gethConfig's zero-value-plus-SetDefaults dance plays in the
// teacher: a user's TOML file only needs to name the fields it overrides.
func Defaults() Config {
	return Config{
		Node: NodeConfig{
			Inventory:      128,
			ConfirmThreads: 4,
		},
		Archive: ArchiveConfig{
			Backend: "leveldb",
			DataDir: "./btcnode-data",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// tomlSettings mirrors the teacher's cmd/geth tomlSettings: an unknown key
// is rejected outright rather than silently ignored, so a typo'd TOML key
// fails fast instead of quietly running with a default.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field %q is not defined in %s", field, rt.String())
	},
}

// Load reads and decodes the TOML file at path over top of Defaults(), the
// way loadConfig does in the teacher's cmd/geth/config.go.
func Load(path string) (Config, error) {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(f).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return cfg, fmt.Errorf("config: %s, %w", path, err)
		}
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Checkpoints is left empty by default; an operator wires well-known
// height->hash pins via a future [Checkpoints] TOML table once the daemon
// needs them for a specific network, per spec.md's Header Chaser checkpoint
// map (this layer deliberately ships no baked-in network checkpoints).
var Checkpoints = map[uint64]chase.Hash32{}
