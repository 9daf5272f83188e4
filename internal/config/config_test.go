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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btcnode.toml")
	body := `
[Node]
Inventory = 256
ConfirmThreads = 8

[Archive]
Backend = "memory"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 256, cfg.Node.Inventory)
	require.Equal(t, 8, cfg.Node.ConfirmThreads)
	require.Equal(t, "memory", cfg.Archive.Backend)
	require.Equal(t, "info", cfg.Log.Level) // untouched, still the default
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btcnode.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Node]\nBogus = 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
