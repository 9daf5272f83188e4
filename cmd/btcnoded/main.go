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

// Command btcnoded is the process entry point: it loads configuration,
// opens an Archive, wires a Node facade over it, and runs until asked to
// stop. Grounded on the teacher's cmd/geth main.go: an urfave/cli.App with
// a config-file flag and a single default Action, rather than a tree of
// subcommands, since this daemon has one job.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/config"
	"github.com/chainforge/btcnode/internal/metrics"
	"github.com/chainforge/btcnode/internal/node"
	"github.com/chainforge/btcnode/internal/xlog"
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "path to a btcnoded TOML config file",
}

var metricsFlag = &cli.BoolFlag{
	Name:  "metrics",
	Usage: "log a snapshot of every registered metric on exit",
}

func main() {
	app := &cli.App{
		Name:  "btcnoded",
		Usage: "candidate-chain progression daemon",
		Flags: []cli.Flag{configFlag, metricsFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "btcnoded:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Defaults()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := xlog.ParseLevel(cfg.Log.Level)
	if cfg.Log.JSON {
		xlog.SetDefault(xlog.NewJSON(level, os.Stderr))
	} else {
		xlog.SetDefault(xlog.New(level, os.Stderr))
	}

	ar, closeArchive, err := openArchive(cfg.Archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer closeArchive()

	n := node.New(ar, node.Config{
		Inventory:       cfg.Node.Inventory,
		ConfirmThreads:  cfg.Node.ConfirmThreads,
		Checkpoints:     config.Checkpoints,
		MilestoneHeight: cfg.Node.MilestoneHeight,
	})
	n.Start()
	xlog.Info("node started", "inventory", cfg.Node.Inventory, "confirm_threads", cfg.Node.ConfirmThreads)

	waitForShutdown()

	n.Close()
	xlog.Info("node stopped")

	if c.Bool(metricsFlag.Name) {
		logMetrics()
	}
	return nil
}

// openArchive opens the configured Archive backend, returning a cleanup
// func that is a no-op for the in-memory backend and closes the LevelDB
// handle for the durable one.
func openArchive(cfg config.ArchiveConfig) (archive.Archive, func(), error) {
	switch cfg.Backend {
	case "memory":
		return archive.NewMemory(), func() {}, nil
	case "leveldb", "":
		db, err := archive.OpenLevelDB(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM, the teacher's own
// utils.StartNode signal-handling idiom for a long-running daemon.
func waitForShutdown() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	signal.Stop(sigc)
}

func logMetrics() {
	metrics.DefaultRegistry.Each(func(name string, m any) {
		switch v := m.(type) {
		case *metrics.Counter:
			xlog.Info("metric", "name", name, "count", v.Count())
		case *metrics.Gauge:
			xlog.Info("metric", "name", name, "value", v.Value())
		}
	})
}
