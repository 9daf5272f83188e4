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

// Package workmap implements the Check Chaser of spec.md §4.3: it converts
// unassociated candidate headers into distributable Maps, hands them out to
// peer channels via a FIFO, and accepts returned residuals on split/stall
// and on any channel stop (a purged channel returns nothing). Grounded on the teacher's eth/downloader queue
// (Schedule/Results/Prepare/Idle): a pull-based FIFO of work rather than a
// push-based fan-out.
package workmap

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/metrics"
	"github.com/chainforge/btcnode/internal/xlog"
)

// Map is a distributable set of download items, ordered for deterministic
// Split but queried by hash via an embedded set.
type Map struct {
	items []chase.Item
	set   mapset.Set[chase.Hash32]
}

// NewMap builds a Map over items; items must be non-empty.
func NewMap(items []chase.Item) *Map {
	set := mapset.NewThreadUnsafeSet[chase.Hash32]()
	for _, it := range items {
		set.Add(it.Hash)
	}
	return &Map{items: append([]chase.Item(nil), items...), set: set}
}

// Len reports the number of outstanding items.
func (m *Map) Len() int { return len(m.items) }

// Contains reports whether hash is one of the map's outstanding items.
func (m *Map) Contains(hash chase.Hash32) bool { return m.set.Contains(hash) }

// Remove drops hash from the map once it has been checked successfully.
func (m *Map) Remove(hash chase.Hash32) {
	m.set.Remove(hash)
	for i, it := range m.items {
		if it.Hash == hash {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

// Hashes returns every outstanding hash, in map order, for building a
// get_data request.
func (m *Map) Hashes() []chase.Hash32 {
	out := make([]chase.Hash32, len(m.items))
	for i, it := range m.items {
		out[i] = it.Hash
	}
	return out
}

// Items exposes the outstanding items directly.
func (m *Map) Items() []chase.Item {
	return append([]chase.Item(nil), m.items...)
}

// Split carves the tail half of m into a new Map and shrinks m in place,
// the "split(Map) -> Map" operation of spec.md §4.3, used to subdivide slow
// work on split/stall.
func Split(m *Map) *Map {
	n := len(m.items)
	half := n / 2
	tail := append([]chase.Item(nil), m.items[half:]...)
	m.items = m.items[:half]
	m.set = mapset.NewThreadUnsafeSet[chase.Hash32]()
	for _, it := range m.items {
		m.set.Add(it.Hash)
	}
	return NewMap(tail)
}

// Checker is the Check Chaser: it owns the FIFO of Maps.
type Checker struct {
	mu        sync.Mutex
	ar        archive.Archive
	bus       *eventbus.Bus
	log       xlog.Logger
	inventory int
	depth     *metrics.Gauge

	fifo []*Map
}

// New builds a Checker bound to ar/bus. inventory bounds the batch size
// pulled from the Archive per make_map call.
func New(ar archive.Archive, bus *eventbus.Bus, inventory int) *Checker {
	c := &Checker{
		ar:        ar,
		bus:       bus,
		log:       xlog.NewNamed("chaser", "check"),
		inventory: inventory,
		depth:     metrics.DefaultRegistry.GetOrRegisterGauge("workmap.fifo_depth"),
	}
	bus.Subscribe(c.onHeader, chase.Header)
	return c
}

// GetHashes pops one Map from the FIFO; it returns nil if no work is queued.
func (c *Checker) GetHashes() *Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fifo) == 0 {
		return nil
	}
	m := c.fifo[0]
	c.fifo = c.fifo[1:]
	c.reportDepth()
	return m
}

// PutHashes pushes a non-empty Map to the back of the FIFO and emits
// download(count).
func (c *Checker) PutHashes(m *Map) {
	if m == nil || m.Len() == 0 {
		return
	}
	c.mu.Lock()
	c.fifo = append(c.fifo, m)
	c.reportDepth()
	c.mu.Unlock()
	c.bus.Notify(chase.Download, chase.CountValue(uint64(m.Len())))
}

// Initialize pulls unassociated items from the Archive above the current
// fork, in batches of c.inventory, until exhausted, at process startup.
func (c *Checker) Initialize() {
	fork := c.ar.GetFork()
	c.makeMap(fork)
}

func (c *Checker) makeMap(fromHeight uint64) {
	height := fromHeight
	for {
		items := c.ar.GetUnassociatedAbove(height, c.inventory)
		if len(items) == 0 {
			return
		}
		c.PutHashes(NewMap(items))
		height = items[len(items)-1].Context.Height
		if len(items) < c.inventory {
			return
		}
	}
}

// onHeader rebuilds a map from the branch point on header(branch_point).
func (c *Checker) onHeader(ev chase.Event) bool {
	branchPoint := ev.Value.Height
	c.makeMap(branchPoint - 1)
	return true
}

// reportDepth updates the fifo_depth gauge, tolerating a Checker built via a
// bare struct literal (as unit tests do) without going through New.
func (c *Checker) reportDepth() {
	if c.depth != nil {
		c.depth.Update(int64(len(c.fifo)))
	}
}

// FIFODepth reports the number of maps queued; exposed for report/snapshot.
func (c *Checker) FIFODepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fifo)
}
