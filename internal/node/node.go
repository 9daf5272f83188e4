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

// Package node is the Node Facade of spec.md §4.8: it owns the Archive,
// spawns each chaser, and mediates subscribe/notify/fault/snapshot/reload/
// suspend/resume. Grounded on the teacher's node/node.go lifecycle
// (Start/Close/RegisterLifecycle) and eth/backend.go's pattern of a single
// struct owning long-lived services wired together at construction time.
package node

import (
	"sync/atomic"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/blockin"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/confirmchaser"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/headerchaser"
	"github.com/chainforge/btcnode/internal/validatechaser"
	"github.com/chainforge/btcnode/internal/workmap"
	"github.com/chainforge/btcnode/internal/xlog"
)

// Closer is implemented by every chaser the facade owns.
type Closer interface {
	Close()
}

// Node is the facade that owns the Archive handle and the chasers, and
// mediates their access to the event bus and to each other (spec.md §9
// "Cyclic component references": chasers hold a capability-scoped back
// reference to Node rather than to each other directly).
type Node struct {
	archive archive.Archive
	bus     *eventbus.Bus
	log     xlog.Logger

	Header  *headerchaser.Chaser
	Check   *workmap.Checker
	Validate *validatechaser.Chaser
	Confirm *confirmchaser.Chaser

	suspended atomic.Bool
	faulted   atomic.Bool
	faultCode atomic.Value // string

	closers []Closer
}

// Config bundles the chaser construction parameters the facade wires in.
type Config struct {
	Inventory       int
	ConfirmThreads  int
	Checkpoints     map[uint64]chase.Hash32
	MilestoneHeight uint64
}

// New constructs a Node owning ar, wiring every chaser to a fresh bus.
func New(ar archive.Archive, cfg Config) *Node {
	bus := eventbus.New()
	n := &Node{archive: ar, bus: bus, log: xlog.NewNamed("node")}

	n.Header = headerchaser.New(ar, bus,
		headerchaser.WithCheckpoints(cfg.Checkpoints),
		headerchaser.WithMilestone(cfg.MilestoneHeight))
	n.Check = workmap.New(ar, bus, cfg.Inventory)
	n.Validate = validatechaser.New(ar, bus, n.Header, nil)
	n.Confirm = confirmchaser.New(ar, bus, n.Header, n, cfg.ConfirmThreads)

	n.closers = []Closer{n.Validate, n.Confirm}
	return n
}

// Bus exposes the event bus for peer channels and external drivers to
// subscribe/notify on.
func (n *Node) Bus() *eventbus.Bus { return n.bus }

// Archive exposes the Archive handle, the one piece of shared state every
// chaser and channel is given (spec.md §9).
func (n *Node) Archive() archive.Archive { return n.archive }

// Start performs first-run initialization: pulls the initial Work Map batch
// and emits start so chasers that key off it (Validate) begin their advance
// loop.
func (n *Node) Start() {
	n.Check.Initialize()
	n.bus.Notify(chase.Start, chase.Value{})
}

// Run is a no-op placeholder for a blocking event loop in the single-binary
// daemon; the facade itself is event-driven and has no loop of its own.
func (n *Node) Run() {}

// Close stops every chaser strand and emits the terminal stop event.
func (n *Node) Close() {
	n.bus.Notify(chase.Stop, chase.Value{})
	for _, c := range n.closers {
		c.Close()
	}
}

// Suspend sets the suspend flag and emits suspend(1). No chaser subscribes
// to suspend or reads IsSuspended, so chasers keep handling events while
// the flag is set.
func (n *Node) Suspend() {
	n.suspended.Store(true)
	n.bus.Notify(chase.Suspend, chase.CountValue(1))
}

// Resume clears the suspend flag and emits suspend(0); no subscription is
// added or restored.
func (n *Node) Resume() {
	n.suspended.Store(false)
	n.bus.Notify(chase.Suspend, chase.CountValue(0))
}

// IsSuspended reports the current suspend flag, an atomic read safe from
// any strand (spec.md §5 "Node state (suspend/close flags): atomic flags
// read by all strands").
func (n *Node) IsSuspended() bool { return n.suspended.Load() }

// Fault sets a terminal error and emits stop; the Archive is not further
// mutated afterward (spec.md §7 class 3: Integrity).
func (n *Node) Fault(code string) {
	if n.faulted.CompareAndSwap(false, true) {
		n.faultCode.Store(code)
		n.log.Error("node fault", "code", code)
		n.bus.Notify(chase.Stop, chase.Value{})
	}
}

// Faulted reports whether Fault has been called, and with what code.
func (n *Node) Faulted() (bool, string) {
	if !n.faulted.Load() {
		return false, ""
	}
	code, _ := n.faultCode.Load().(string)
	return true, code
}

// SnapshotHandler is invoked with the node's current position cursors.
type SnapshotHandler func(validatedTop, confirmedTop uint64)

// Snapshot invokes handler with the chasers' current position cursors,
// without pausing event delivery.
func (n *Node) Snapshot(handler SnapshotHandler) {
	handler(n.Validate.ValidatedTop(), n.archive.GetTopConfirmed())
}

// ReloadHandler is invoked to let a caller re-seed chaser state after an
// external archive mutation (e.g. an operator-triggered rewind).
type ReloadHandler func(ar archive.Archive)

// Reload invokes handler with the archive handle, re-initializes the Check
// chaser's Work Map FIFO against the (possibly now different) unassociated
// range, and tells Validate where the confirmed chain now stands so its
// advance loop resynchronizes rather than trusting a position an external
// mutation may have invalidated.
func (n *Node) Reload(handler ReloadHandler) {
	handler(n.archive)
	n.Check.Initialize()
	n.bus.Notify(chase.Disorganized, chase.HeightValue(n.archive.GetTopConfirmed()))
}

// NewChannel spawns a Block-In Protocol channel for a peer connection,
// wired to this node's Archive, bus and Work Map FIFO. Ownership of the
// returned Channel's lifecycle is the caller's (the transport layer that
// created the connection), consistent with channels coming and going with
// peer churn independently of the node's own chasers.
func (n *Node) NewChannel(id uint64, transport blockin.Transport) *blockin.Channel {
	return blockin.New(id, n.archive, n.bus, n.Check, transport)
}
