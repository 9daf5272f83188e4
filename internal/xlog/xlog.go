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

// Package xlog is a thin, leveled wrapper over log/slog. Every chaser logs
// through it with structured key/value pairs rather than formatted strings,
// so that kind/height/hash/peer fields stay greppable.
package xlog

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the interface every chaser depends on; it is satisfied by *Log
// and by test doubles.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	With(ctx ...any) Logger
}

// Log adapts an *slog.Logger to Logger, adding a Trace level below Debug the
// way the teacher's logger does (slog has no native Trace level).
type Log struct {
	inner *slog.Logger
}

const levelTrace = slog.Level(-8)

// New builds a Log writing text-formatted records to w at or above level.
func New(level slog.Level, w *os.File) *Log {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Log{inner: slog.New(h)}
}

// NewJSON builds a Log writing JSON-formatted records to w at or above
// level, the way the teacher's --log.json flag switches its handler.
func NewJSON(level slog.Level, w *os.File) *Log {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Log{inner: slog.New(h)}
}

// ParseLevel maps a config string ("trace"/"debug"/"info"/"warn"/"error")
// to a slog.Level, defaulting to Info for an empty or unrecognized value.
func ParseLevel(s string) slog.Level {
	switch s {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Log) Trace(msg string, ctx ...any) { l.inner.Log(context.Background(), levelTrace, msg, ctx...) }
func (l *Log) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *Log) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *Log) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *Log) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }

func (l *Log) With(ctx ...any) Logger {
	return &Log{inner: l.inner.With(ctx...)}
}

var defaultLogger atomic.Pointer[Log]

func init() {
	SetDefault(New(slog.LevelInfo, os.Stderr))
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l *Log) { defaultLogger.Store(l) }

// Root returns the process-wide default logger.
func Root() Logger { return defaultLogger.Load() }

func Trace(msg string, ctx ...any) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }

// New names a sub-logger the way the teacher's log.New(ctx...) does,
// attaching a fixed set of fields (e.g. "chaser", "header") to every record.
func NewNamed(ctx ...any) Logger {
	return Root().With(ctx...)
}
