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

// Package validatechaser implements the Validate Chaser of spec.md §4.6: it
// sequentially advances a "last validated" pointer, running accept+connect
// per block and chaining BIP-157 neutrino filters. Grounded on the
// teacher's core/blockchain.go sequential insertChain/writeBlockWithState
// advance loop.
package validatechaser

import (
	"crypto/sha256"
	"sync"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/strand"
	"github.com/chainforge/btcnode/internal/xlog"
)

// Outcome is the result of validating a single height.
type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeBypass
	OutcomeMalleated
	OutcomeUnvalid
	OutcomeWaiting
)

// BypassSource reports whether a height is under a checkpoint or milestone,
// in which non-malleability checks may be skipped. Satisfied by
// *headerchaser.Chaser.
type BypassSource interface {
	UnderBypass(height uint64) bool
}

// FilterFn computes the BIP-157 compact filter body for a block; filter
// construction itself is a consensus-adjacent, out-of-scope detail (spec.md
// §1 Non-goals), so it is injected the same way Block.Check/Accept/Connect
// are.
type FilterFn func(b *block.Block) []byte

const subsidyInterval = 210000
const initialSubsidy = 5000000000

// Chaser is the Validate Chaser.
type Chaser struct {
	mu sync.Mutex

	ar      archive.Archive
	bus     *eventbus.Bus
	bypass  BypassSource
	filter  FilterFn
	log     xlog.Logger
	strand  *strand.Strand

	validatedTop uint64
	neutrino     chase.Hash32
}

// New constructs a Validate Chaser and subscribes it to start/bump/checked/
// regressed/disorganized.
func New(ar archive.Archive, bus *eventbus.Bus, bypass BypassSource, filter FilterFn) *Chaser {
	if filter == nil {
		filter = defaultFilter
	}
	c := &Chaser{ar: ar, bus: bus, bypass: bypass, filter: filter, log: xlog.NewNamed("chaser", "validate"), strand: strand.New()}
	bus.Subscribe(c.onEvent, chase.Start, chase.Bump, chase.Checked, chase.Regressed, chase.Disorganized)
	return c
}

func defaultFilter(b *block.Block) []byte {
	h := sha256.Sum256(b.Hash[:])
	return h[:]
}

func (c *Chaser) onEvent(ev chase.Event) bool {
	switch ev.Kind {
	case chase.Regressed:
		c.strand.Post(func() { c.onRegressed(ev.Value.Height) })
	case chase.Disorganized:
		c.strand.Post(func() { c.onDisorganized(ev.Value.Height) })
	default:
		c.strand.Post(c.advance)
	}
	return true
}

func (c *Chaser) onRegressed(b uint64) {
	if b < c.validatedTop {
		c.setValidatedTop(b)
		c.recomputeNeutrino()
		c.log.Info("validate chaser regressed", "to", b)
	}
}

func (c *Chaser) onDisorganized(top uint64) {
	c.setValidatedTop(top)
	c.recomputeNeutrino()
	c.advance()
}

func (c *Chaser) recomputeNeutrino() {
	link := c.ar.ToCandidate(c.validatedTop)
	if link == chase.NoHLink {
		c.neutrino = chase.Hash32{}
		return
	}
	c.neutrino = c.ar.GetFilterHead(link)
}

// ValidatedTop reports the chaser's current position.
func (c *Chaser) ValidatedTop() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validatedTop
}

func (c *Chaser) setValidatedTop(h uint64) {
	c.mu.Lock()
	c.validatedTop = h
	c.mu.Unlock()
}

// advance is the advance loop: attempt height validatedTop+1, +2, ... until
// the next height is unassociated or a failure stops the loop.
func (c *Chaser) advance() {
	for {
		height := c.validatedTop + 1
		link := c.ar.ToCandidate(height)
		if link == chase.NoHLink {
			return // wait for checked
		}
		if !c.ar.IsAssociated(link) {
			return // wait for checked
		}

		outcome := c.validate(link, height)
		switch outcome {
		case OutcomeValid, OutcomeBypass:
			c.ar.SetBlockValid(link)
			c.ar.SetTxsConnected(link)
			c.bus.Notify(chase.Valid, chase.HeightValue(height))
			c.setValidatedTop(height)
			continue
		case OutcomeMalleated:
			c.bus.Notify(chase.Malleated, chase.LinkValue(link))
			c.log.Warn("malleated block halted validation", "height", height)
			return
		case OutcomeUnvalid:
			c.ar.SetBlockUnconfirmable(link)
			c.bus.Notify(chase.Unvalid, chase.LinkValue(link))
			c.log.Warn("block failed validation", "height", height)
			return
		default:
			return
		}
	}
}

func (c *Chaser) validate(link chase.HLink, height uint64) Outcome {
	b, ok := c.ar.GetBlock(link)
	if !ok {
		return OutcomeWaiting
	}
	malleable := c.ar.IsMalleable(link)

	if c.bypass != nil && c.bypass.UnderBypass(height) && !malleable {
		c.chainFilter(link, b)
		return OutcomeBypass
	}

	switch c.ar.GetBlockState(link) {
	case chase.StateUnconfirmable:
		return OutcomeUnvalid
	case chase.StateConfirmable, chase.StateValid:
		return OutcomeValid
	}

	ctx := c.ar.GetContext(link)
	if !c.ar.Populate(b) {
		if malleable {
			return OutcomeMalleated
		}
		c.log.Warn("missing previous output", "height", height)
		return OutcomeUnvalid
	}

	if code := b.Accept(ctx, subsidyInterval, initialSubsidy); code != block.Ok {
		if malleable {
			return OutcomeMalleated
		}
		return OutcomeUnvalid
	}
	if code := b.Connect(ctx); code != block.Ok {
		if malleable {
			return OutcomeMalleated
		}
		return OutcomeUnvalid
	}

	c.chainFilter(link, b)
	return OutcomeValid
}

func (c *Chaser) chainFilter(link chase.HLink, b *block.Block) {
	if !c.ar.NeutrinoEnabled() {
		return
	}
	body := c.filter(b)
	h := sha256.New()
	h.Write(c.neutrino[:])
	h.Write(body)
	sum := h.Sum(nil)
	var head chase.Hash32
	copy(head[:], sum)
	c.neutrino = head
	c.ar.SetFilter(link, head, body)
}

// Close tears down the chaser's strand.
func (c *Chaser) Close() { c.strand.Close() }
