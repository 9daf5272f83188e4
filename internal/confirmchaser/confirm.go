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

// Package confirmchaser implements the Confirm Chaser of spec.md §4.7: fork
// detection by accumulated work, atomic confirmed-chain reorg, parallel
// per-tx confirmability, and rollback on failure. Grounded on the teacher's
// core/blockchain.go reorg() pop/push-of-canonical-blocks mechanics for the
// chain-surgery half, and on golang.org/x/sync/errgroup's first-error-wins
// group for the parallel tx race.
package confirmchaser

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/strand"
	"github.com/chainforge/btcnode/internal/xlog"
)

// BypassSource reports whether a height is under a checkpoint or milestone.
type BypassSource interface {
	UnderBypass(height uint64) bool
}

// Faulter escalates an Integrity-class failure to the node facade's
// terminal fault() path (spec.md §7 class 3).
type Faulter interface {
	Fault(code string)
}

// Chaser is the Confirm Chaser.
type Chaser struct {
	mu sync.Mutex

	ar      archive.Archive
	bus     *eventbus.Bus
	bypass  BypassSource
	fault   Faulter
	log     xlog.Logger
	strand  *strand.Strand
	threads int

	fork *chase.ForkDescriptor
}

// New constructs a Confirm Chaser subscribed to valid/block events.
// threads bounds the parallel tx-confirmability worker pool.
func New(ar archive.Archive, bus *eventbus.Bus, bypass BypassSource, fault Faulter, threads int) *Chaser {
	if threads <= 0 {
		threads = 1
	}
	c := &Chaser{ar: ar, bus: bus, bypass: bypass, fault: fault, log: xlog.NewNamed("chaser", "confirm"), strand: strand.New(), threads: threads}
	// spec.md §4.7 / §9: valid(h) and blocks(h) are equivalent, idempotent
	// triggers to (re-)scan for a confirmation attempt; no ordering is
	// assumed between them.
	bus.Subscribe(c.onValid, chase.Valid, chase.Block)
	return c
}

func (c *Chaser) onValid(ev chase.Event) bool {
	h := ev.Value.Height
	c.strand.Post(func() { c.onValidHeight(h) })
	return true
}

// ForkInProgress reports whether a confirmation attempt is currently open;
// exposed for tests and diagnostics.
func (c *Chaser) ForkInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.fork.Empty()
}

func (c *Chaser) onValidHeight(h uint64) {
	c.mu.Lock()
	inProgress := !c.fork.Empty()
	c.mu.Unlock()
	if inProgress {
		return
	}
	c.beginAttempt(h)
}

// beginAttempt runs fork detection, the strength test, the pop phase and the
// push phase for a confirmation attempt rooted at candidate height h.
func (c *Chaser) beginAttempt(h uint64) {
	fd, ok := c.detectFork(h)
	if !ok {
		return
	}
	c.mu.Lock()
	c.fork = fd
	c.mu.Unlock()

	if !c.strengthTest(fd) {
		c.mu.Lock()
		c.fork = nil
		c.mu.Unlock()
		return
	}

	c.popPhase(fd)
	c.doOrganize(fd)
}

// detectFork walks down from h on the candidate chain while blocks are not
// yet confirmed, summing proof(bits) into fork_work. It returns ok=false if
// the descent crosses a terminal (unknown) link, meaning the candidate
// chain has regressed out from under this attempt.
func (c *Chaser) detectFork(h uint64) (*chase.ForkDescriptor, bool) {
	fd := &chase.ForkDescriptor{}
	height := h
	for {
		link := c.ar.ToCandidate(height)
		if link == chase.NoHLink {
			c.log.Warn("fork detection crossed a terminal link, aborting", "height", height)
			return nil, false
		}
		if c.ar.IsConfirmedBlock(link) {
			fd.ForkPoint = height
			return fd, true
		}
		fd.Fork = append(fd.Fork, link)
		if height == 0 {
			fd.ForkPoint = 0
			return fd, true
		}
		height--
	}
}

// strengthTest sums confirmed work from the current confirmed top down to
// fork_point+1 and returns true iff fork_work strictly exceeds it. A tie
// goes to the confirmed chain.
func (c *Chaser) strengthTest(fd *chase.ForkDescriptor) bool {
	forkWork := chase.ZeroWork()
	for _, link := range fd.Fork {
		forkWork.Add(block.Proof(c.ar.GetBits(link)))
	}

	confirmedWork := chase.ZeroWork()
	top := c.ar.GetTopConfirmed()
	for height := top; height > fd.ForkPoint; height-- {
		link := c.ar.ToConfirmed(height)
		if link == chase.NoHLink {
			break
		}
		confirmedWork.Add(block.Proof(c.ar.GetBits(link)))
	}

	return forkWork.GreaterThan(confirmedWork)
}

// popPhase reverts the confirmed chain down to fork_point.
func (c *Chaser) popPhase(fd *chase.ForkDescriptor) {
	top := c.ar.GetTopConfirmed()
	for height := top; height > fd.ForkPoint; height-- {
		link := c.ar.ToConfirmed(height)
		if link == chase.NoHLink {
			break
		}
		fd.Popped = append(fd.Popped, link)
		c.ar.SetUnstrong(link)
		c.ar.PopConfirmed()
		c.bus.Notify(chase.Reorganized, chase.LinkValue(link))
	}
}

// doOrganize is the push phase: walk fork bottom-up and confirm each block.
func (c *Chaser) doOrganize(fd *chase.ForkDescriptor) {
	for i := len(fd.Fork) - 1; i >= 0; i-- {
		link := fd.Fork[i]
		height := fd.ForkPoint + uint64(len(fd.Fork)-i)

		state := c.ar.GetBlockState(link)
		switch {
		case state == chase.StateUnconfirmable:
			c.bus.Notify(chase.Unconfirmable, chase.LinkValue(link))
			c.rollBack(fd, link, height)
			return
		case (c.bypass != nil && c.bypass.UnderBypass(height)):
			c.ar.SetStrong(link)
			c.ar.SetBlockConfirmable(link, 0)
			c.ar.PushConfirmed(link)
			c.bus.Notify(chase.Confirmable, chase.HeightValue(height))
		case state == chase.StateConfirmable:
			c.ar.SetStrong(link)
			c.ar.PushConfirmed(link)
			c.bus.Notify(chase.Confirmable, chase.HeightValue(height))
		default:
			if !c.confirmByTxRace(link, height) {
				return // rollBack already invoked inside confirmByTxRace on failure
			}
		}
	}

	c.mu.Lock()
	c.fork = nil
	c.mu.Unlock()
	c.maybeStallBump()
}

// confirmByTxRace runs the parallel tx-confirmability race for link and
// returns true if the push phase should continue to the next fork entry.
func (c *Chaser) confirmByTxRace(link chase.HLink, height uint64) bool {
	ctx := c.ar.GetContext(link)
	txs := c.ar.ToTransactions(link)
	if len(txs) == 0 {
		c.ar.SetStrong(link)
		c.ar.SetBlockConfirmable(link, 0)
		c.ar.PushConfirmed(link)
		c.bus.Notify(chase.Confirmable, chase.HeightValue(height))
		return true
	}

	if code := c.ar.UnspentDuplicates(txs[0], ctx); code != block.Ok {
		c.ar.SetBlockUnconfirmable(link)
		c.bus.Notify(chase.Unconfirmable, chase.LinkValue(link))
		c.rollBack(c.currentFork(), link, height)
		return false
	}

	if len(txs) == 1 {
		c.ar.SetStrong(link)
		c.ar.SetBlockConfirmable(link, 0)
		c.ar.PushConfirmed(link)
		c.bus.Notify(chase.Confirmable, chase.HeightValue(height))
		return true
	}

	grp, gctx := errgroup.WithContext(context.Background())
	grp.SetLimit(c.threads)
	var firstErr block.Code
	var once sync.Once
	for _, tl := range txs[1:] {
		tl := tl
		grp.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			if code := c.ar.TxConfirmable(tl, ctx); code != block.Ok {
				once.Do(func() { firstErr = code })
				return errTxFailed
			}
			return nil
		})
	}
	err := grp.Wait()

	if err != nil {
		if firstErr == block.ErrIntegrity {
			c.fault.Fault("confirm: integrity failure in tx confirmability")
		}
		c.ar.SetBlockUnconfirmable(link)
		c.bus.Notify(chase.Unconfirmable, chase.LinkValue(link))
		c.rollBack(c.currentFork(), link, height)
		return false
	}

	c.ar.SetStrong(link)
	c.ar.SetBlockConfirmable(link, 0)
	c.ar.PushConfirmed(link)
	c.bus.Notify(chase.Confirmable, chase.HeightValue(height))
	return true
}

var errTxFailed = errors.New("confirm: a transaction failed confirmability")

func (c *Chaser) currentFork() *chase.ForkDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fork
}

// rollBack is a left inverse of the pop+push pair (spec.md §8 property):
// set_unstrong on the currently-pushed strong-but-unconfirmed block, pop
// every height back to fork_point, then re-push the originally popped
// blocks in reverse, and clear popped/fork. The set_unstrong-before-pop
// sequencing is preserved exactly as the source does it (spec.md §9 Open
// Question): there is no point at which a strong-but-unconfirmed link is
// left set after a failed attempt.
func (c *Chaser) rollBack(fd *chase.ForkDescriptor, link chase.HLink, top uint64) {
	c.ar.SetUnstrong(link)

	for height := top; height > fd.ForkPoint; height-- {
		confirmedLink := c.ar.ToConfirmed(height)
		if confirmedLink == chase.NoHLink {
			continue // not pushed in this attempt (e.g. the failing height itself)
		}
		c.ar.SetUnstrong(confirmedLink)
		c.ar.PopConfirmed()
		c.bus.Notify(chase.Reorganized, chase.LinkValue(confirmedLink))
	}

	for i := len(fd.Popped) - 1; i >= 0; i-- {
		popped := fd.Popped[i]
		c.ar.PushConfirmed(popped)
		c.ar.SetStrong(popped)
		c.bus.Notify(chase.Organized, chase.LinkValue(popped))
	}

	fd.Popped = nil
	c.mu.Lock()
	c.fork = nil
	c.mu.Unlock()
}

// maybeStallBump implements the stall-prevention note of spec.md §4.7: after
// a successful attempt, if the next candidate is already valid/confirmable
// but no new valid event will arrive for it, re-enter to bump the pipeline.
func (c *Chaser) maybeStallBump() {
	top := c.ar.GetTopConfirmed()
	next := c.ar.ToCandidate(top + 1)
	if next == chase.NoHLink {
		return
	}
	switch c.ar.GetBlockState(next) {
	case chase.StateValid, chase.StateConfirmable:
		c.onValidHeight(top + 1)
	}
}

// Close tears down the chaser's strand.
func (c *Chaser) Close() { c.strand.Close() }
