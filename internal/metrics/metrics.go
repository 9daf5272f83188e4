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

// Package metrics is a minimal counter/gauge registry grounded on the
// teacher's own metrics package (Counter/Gauge/Registry, atomically updated,
// looked up by dotted name), rather than pulling in a third-party metrics
// client: the teacher rolls its own for this exact reason (no dependency on
// a push/scrape backend to get a queue-depth number into a log line).
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a cumulative, monotonic-or-not int64 counter.
type Counter struct {
	count atomic.Int64
}

// NewCounter returns a Counter at zero.
func NewCounter() *Counter { return &Counter{} }

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) { c.count.Add(delta) }

// Dec subtracts delta from the counter.
func (c *Counter) Dec(delta int64) { c.count.Add(-delta) }

// Clear resets the counter to zero.
func (c *Counter) Clear() { c.count.Store(0) }

// Count returns the current value.
func (c *Counter) Count() int64 { return c.count.Load() }

// Gauge holds the most recently reported value of a quantity that can go up
// or down (queue depth, tree size, channel count).
type Gauge struct {
	value atomic.Int64
}

// NewGauge returns a Gauge at zero.
func NewGauge() *Gauge { return &Gauge{} }

// Update sets the gauge's value.
func (g *Gauge) Update(v int64) { g.value.Store(v) }

// Value returns the gauge's current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Registry is a named collection of counters and gauges, looked up by a
// dotted name (e.g. "workmap.fifo_depth", "blockin.channels_active") the
// way the teacher's registry keys metrics for its debug/metrics HTTP
// endpoint and periodic influxdb/opentsdb reporters.
type Registry struct {
	mu     sync.Mutex
	byName map[string]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]any)}
}

// Register adds metric under name. It is a no-op if name is already taken.
func (r *Registry) Register(name string, metric any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return
	}
	r.byName[name] = metric
}

// Unregister removes the metric at name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// GetOrRegisterCounter returns the named Counter, registering a fresh one if
// absent.
func (r *Registry) GetOrRegisterCounter(name string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byName[name]; ok {
		return m.(*Counter)
	}
	c := NewCounter()
	r.byName[name] = c
	return c
}

// GetOrRegisterGauge returns the named Gauge, registering a fresh one if
// absent.
func (r *Registry) GetOrRegisterGauge(name string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byName[name]; ok {
		return m.(*Gauge)
	}
	g := NewGauge()
	r.byName[name] = g
	return g
}

// Each calls fn for every registered metric, in name order, so snapshot
// output (e.g. periodic log lines) is stable across runs.
func (r *Registry) Each(fn func(name string, metric any)) {
	r.mu.Lock()
	names := make([]string, 0, len(r.byName))
	snapshot := make(map[string]any, len(r.byName))
	for name, m := range r.byName {
		names = append(names, name)
		snapshot[name] = m
	}
	r.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		fn(name, snapshot[name])
	}
}

// DefaultRegistry is the process-wide registry the node facade and its
// chasers register into unless given a private one (e.g. in tests).
var DefaultRegistry = NewRegistry()
