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

// Package headerchaser accepts headers, maintains a tree of weak branches,
// and promotes the strongest branch to the candidate chain. It is grounded
// on the teacher's core/headerchain.go header-tree and SetCanonical reorg
// style, generalized from single-chain extension to multi-branch promotion.
package headerchaser

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/metrics"
	"github.com/chainforge/btcnode/internal/xlog"
)

// treeCapacity bounds the number of un-promoted proposed headers kept in
// memory; a weak branch that never outworks the candidate tail ages out
// under LRU eviction rather than accumulating forever.
const treeCapacity = 4096

var (
	// ErrOrphanHeader is returned when a header's parent is neither on the
	// candidate chain nor a known proposed header.
	ErrOrphanHeader = errors.New("headerchaser: orphan header")
	// ErrCheckpointMismatch is returned when a header at a checkpoint height
	// does not match the well-known hash for that height. The milestone
	// carries no hash, so no header is compared against one.
	ErrCheckpointMismatch = errors.New("headerchaser: checkpoint mismatch")
)

// Header is the minimal wire header the chaser reasons about.
type Header struct {
	Hash      chase.Hash32
	PrevHash  chase.Hash32
	Bits      uint32
	Timestamp time.Time
}

type proposed struct {
	ctx    chase.Context
	header Header
}

// Chaser implements the Header Chaser of spec.md §4.5.
type Chaser struct {
	mu sync.Mutex

	ar  archive.Archive
	bus *eventbus.Bus
	log xlog.Logger

	tree     *lru.Cache[chase.Hash32, proposed] // weak branches not yet promoted, LRU-bounded
	treeSize *metrics.Gauge

	checkpoints     map[uint64]chase.Hash32
	milestoneHeight uint64
	currencyWindow  time.Duration

	now func() time.Time
}

// Option configures a Chaser at construction.
type Option func(*Chaser)

// WithCheckpoints installs well-known height->hash checkpoints.
func WithCheckpoints(cp map[uint64]chase.Hash32) Option {
	return func(c *Chaser) { c.checkpoints = cp }
}

// WithMilestone sets the milestone height; heights at or below it are under
// bypass (see UnderBypass). No hash is pinned at the milestone height.
func WithMilestone(height uint64) Option {
	return func(c *Chaser) { c.milestoneHeight = height }
}

// WithCurrencyWindow sets how old a tip timestamp may be and still be
// considered "current".
func WithCurrencyWindow(d time.Duration) Option {
	return func(c *Chaser) { c.currencyWindow = d }
}

// New constructs a Header Chaser bound to ar and bus.
func New(ar archive.Archive, bus *eventbus.Bus, opts ...Option) *Chaser {
	tree, _ := lru.New[chase.Hash32, proposed](treeCapacity) // only errors on non-positive size
	c := &Chaser{
		ar:             ar,
		bus:            bus,
		log:            xlog.NewNamed("chaser", "header"),
		tree:           tree,
		treeSize:       metrics.DefaultRegistry.GetOrRegisterGauge("headerchaser.tree_size"),
		checkpoints:    make(map[uint64]chase.Hash32),
		currencyWindow: time.Hour,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current reports whether the candidate tip's timestamp is within the
// currency window of wall-clock (spec.md GLOSSARY "Currency").
func (c *Chaser) Current(tip Header) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(tip.Timestamp) <= c.currencyWindow
}

// checkWellKnown enforces checkpoint hash equality at height; the milestone
// height is not checked here.
func (c *Chaser) checkWellKnown(height uint64, hash chase.Hash32) error {
	if want, ok := c.checkpoints[height]; ok && want != hash {
		return ErrCheckpointMismatch
	}
	return nil
}

// UnderBypass reports whether height is at or below a checkpoint/milestone,
// the condition under which Validate and Confirm may skip expensive work
// (spec.md §4.6 step 1, §4.7 push phase).
func (c *Chaser) UnderBypass(height uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height <= c.milestoneHeight {
		return true
	}
	for cp := range c.checkpoints {
		if height <= cp {
			return true
		}
	}
	return false
}

// Organize accepts a single header (the "organize(header)" event of
// spec.md §4.5). ctx carries the rule context the header would run under if
// validated (height, flags, mtp), computed by the caller from its parent.
func (c *Chaser) Organize(hdr Header, ctx chase.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.treeSize.Update(int64(c.tree.Len())) }()

	if err := c.checkWellKnown(ctx.Height, hdr.Hash); err != nil {
		c.log.Warn("checkpoint mismatch", "height", ctx.Height, "hash", hdr.Hash.String())
		return err
	}

	// Parent on candidate chain: this header proposes a one-deep branch off
	// an existing height. Walk a chain of already-tree-linked descendants of
	// hdr (if any were queued earlier awaiting this parent) together with
	// hdr itself, and test total branch work against current candidate work
	// over the same span.
	if parentLink := c.findOnCandidate(hdr.PrevHash); parentLink != nil {
		return c.tryPromote(hdr, ctx, *parentLink)
	}

	// Parent is a known but not-yet-promoted proposed header: accumulate.
	if _, ok := c.tree.Get(hdr.PrevHash); ok {
		c.tree.Add(hdr.Hash, proposed{ctx: ctx, header: hdr})
		c.log.Debug("accumulated weak branch header", "hash", hdr.Hash.String(), "height", ctx.Height)
		return nil
	}

	// A header can also extend the tree by attaching to genesis/candidate
	// height 0 implicitly; anything else with an unknown parent is an
	// orphan.
	if ctx.Height == 0 {
		c.tree.Add(hdr.Hash, proposed{ctx: ctx, header: hdr})
		return nil
	}

	c.log.Warn("orphan header", "hash", hdr.Hash.String(), "parent", hdr.PrevHash.String())
	return ErrOrphanHeader
}

type candidateParent struct {
	link   chase.HLink
	height uint64
}

func (c *Chaser) findOnCandidate(hash chase.Hash32) *candidateParent {
	top := c.ar.GetCandidateTop()
	for h := uint64(0); h <= top; h++ {
		link := c.ar.ToCandidate(h)
		if link == chase.NoHLink {
			continue
		}
		if c.ar.GetHeaderKey(link) == hash {
			return &candidateParent{link: link, height: h}
		}
	}
	return nil
}

// tryPromote walks the chain of tree headers rooted at hdr back to
// parent (inclusive of hdr), computes that branch's accumulated work, and
// compares it against the candidate chain's work over the same height span.
// A strictly greater branch work promotes the whole branch; otherwise every
// header in it stays in tree as a weak branch.
func (c *Chaser) tryPromote(hdr Header, ctx chase.Context, parent candidateParent) error {
	// Collect the branch: hdr plus any tree headers that chain off hdr by
	// hash (i.e. headers that arrived before their parent and were parked).
	branch := []proposed{{ctx: ctx, header: hdr}}
	branchWork := block.Proof(hdr.Bits)
	// A branch can continue growing past hdr if later headers named hdr as
	// their parent and were queued in tree; walk those forward by hash.
	cursor := hdr.Hash
	for {
		next, ok := c.findChildInTree(cursor)
		if !ok {
			break
		}
		branch = append(branch, next)
		branchWork.Add(block.Proof(next.header.Bits))
		cursor = next.header.Hash
	}

	// Compare against the candidate chain's full remaining work from the
	// branch point to its current tip, not just a span as long as branch:
	// a short alternative branch must out-work the entire existing tail it
	// would replace, however many blocks that tail holds.
	oldTopForSpan := c.ar.GetCandidateTop()
	candidateWork := chase.ZeroWork()
	for h := parent.height + 1; h <= oldTopForSpan; h++ {
		link := c.ar.ToCandidate(h)
		if link == chase.NoHLink {
			break
		}
		candidateWork.Add(block.Proof(c.ar.GetBits(link)))
	}

	if !branchWork.GreaterThan(candidateWork) {
		// Not strong enough yet: park every header of the branch in tree.
		for _, p := range branch {
			c.tree.Add(p.header.Hash, p)
		}
		return nil
	}

	regressing := parent.height < oldTopForSpan

	height := parent.height
	for _, p := range branch {
		height++
		link := c.ar.AddHeader(p.header.Hash, p.ctx)
		c.ar.PromoteCandidate(link, height)
		c.tree.Remove(p.header.Hash)
	}
	c.ar.SetCandidateTop(height)

	if regressing {
		c.bus.Notify(chase.Regressed, chase.HeightValue(parent.height))
		c.log.Info("candidate chain regressed", "branch_point", parent.height)
	}
	c.bus.Notify(chase.Header, chase.HeightValue(parent.height+1))
	c.log.Info("promoted branch to candidate", "branch_point", parent.height, "new_top", height)
	return nil
}

func (c *Chaser) findChildInTree(parentHash chase.Hash32) (proposed, bool) {
	for _, hash := range c.tree.Keys() {
		p, ok := c.tree.Get(hash)
		if ok && p.header.PrevHash == parentHash {
			return proposed{ctx: p.ctx, header: Header{Hash: hash, PrevHash: p.header.PrevHash, Bits: p.header.Bits, Timestamp: p.header.Timestamp}}, true
		}
	}
	return proposed{}, false
}

// TreeSize reports how many proposed headers are parked as weak branches;
// exposed for tests and for report/snapshot diagnostics.
func (c *Chaser) TreeSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}
