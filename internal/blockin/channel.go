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

// Package blockin implements the Block-In Protocol of spec.md §4.4: a
// per-channel state machine that requests, receives, verifies and archives
// blocks. Grounded on the teacher's per-peer throughput-tracked
// request/response loop (eth/downloader peer accounting, eth/fetcher's
// per-peer fetch state machine).
package blockin

import (
	"sync/atomic"
	"time"

	"github.com/chainforge/btcnode/internal/archive"
	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
	"github.com/chainforge/btcnode/internal/eventbus"
	"github.com/chainforge/btcnode/internal/metrics"
	"github.com/chainforge/btcnode/internal/strand"
	"github.com/chainforge/btcnode/internal/workmap"
	"github.com/chainforge/btcnode/internal/xlog"
)

var (
	channelsActiveGauge = metrics.DefaultRegistry.GetOrRegisterGauge("blockin.channels_active")
	channelsActiveCount atomic.Int64
)

// State is one of the three channel states of spec.md §4.4.
type State int

const (
	Idle State = iota
	Downloading
	Stopping
)

func (s State) String() string {
	switch s {
	case Downloading:
		return "downloading"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// StopReason explains why a channel stopped.
type StopReason int

const (
	StopNone StopReason = iota
	StopMalleatedBlock
	StopSacrificedChannel
	StopRequested
)

// Transport is the narrow, out-of-scope collaborator for requesting block
// data from the remote peer (spec.md §1: p2p transport is external).
type Transport interface {
	// RequestBlocks asks the peer for the given hashes ("get_data").
	RequestBlocks(hashes []chase.Hash32) error
}

// Fetcher abstracts "chain is current" readiness so the channel can start
// its first GetHashes only once the node believes it is caught up to the
// network tip (spec.md §4.4 Entry).
type Fetcher interface {
	ChainCurrent() bool
}

type workSource interface {
	GetHashes() *workmap.Map
	PutHashes(m *workmap.Map)
}

// Channel is one Block-In Protocol instance, one per peer connection.
type Channel struct {
	id        uint64
	ar        archive.Archive
	bus       *eventbus.Bus
	check     workSource
	transport Transport
	log       xlog.Logger

	strand *strand.Strand

	addressed *eventbus.Subscription // split/stall/purge, addressed to this channel only
	broadcast *eventbus.Subscription // download/report/stop, observed by every channel

	state        State
	current      *workmap.Map
	bypassHeight uint64
	bytesThisRun uint64
	started      time.Time
	stopReason   StopReason
}

// New constructs a Channel bound to id, subscribes it to the event bus per
// spec.md §4.4 (split/stall/purge addressed to it via NotifyOne, download/
// report/stop broadcast to every channel), and returns it ready to Ready.
func New(id uint64, ar archive.Archive, bus *eventbus.Bus, check workSource, transport Transport) *Channel {
	channelsActiveGauge.Update(channelsActiveCount.Add(1))
	c := &Channel{
		id:        id,
		ar:        ar,
		bus:       bus,
		check:     check,
		transport: transport,
		log:       xlog.NewNamed("chaser", "block_in", "channel", id),
		strand:    strand.New(),
		state:     Idle,
	}
	c.addressed = bus.SubscribeKeyed(id, c.onAddressed, chase.Split, chase.Stall, chase.Purge)
	c.broadcast = bus.Subscribe(c.onBroadcast, chase.Download, chase.Report, chase.Stop)
	return c
}

// onAddressed handles the targeted events routed to this channel's own key
// by NotifyOne (spec.md §4.1 notify_one); each just forwards to the method
// that already posts the actual work onto the channel's strand.
func (c *Channel) onAddressed(ev chase.Event) bool {
	switch ev.Kind {
	case chase.Split:
		c.Split()
	case chase.Stall:
		c.Stall()
	case chase.Purge:
		c.Purge()
	}
	return true
}

// onBroadcast handles the events every channel observes regardless of
// address: download wakes an idle channel, report logs diagnostics, and
// stop runs the channel's own stop handling. The bus itself treats Stop as
// terminal (no further Notify/NotifyOne is delivered once it has fired), so
// the subscription is left registered rather than self-unsubscribed here;
// the channel's owner still calls Close to release the subscription and
// the strand, per the channel lifecycle note on Node.NewChannel.
func (c *Channel) onBroadcast(ev chase.Event) bool {
	switch ev.Kind {
	case chase.Download:
		c.Download()
	case chase.Report:
		c.Report(ev.Value.Count)
	case chase.Stop:
		c.Stop()
	}
	return true
}

// ID returns the channel's identity, used in split/stall/purge routing.
func (c *Channel) ID() uint64 { return c.id }

// State reports the channel's current state; safe to call from any
// goroutine for diagnostics, but is only precise when read from the
// strand (e.g. via Report).
func (c *Channel) State() State { return c.state }

// Ready signals the channel is connected and the chain is believed current;
// it triggers the first GetHashes per spec.md §4.4 Entry.
func (c *Channel) Ready() {
	c.strand.Post(c.enter)
}

func (c *Channel) enter() {
	if c.state != Idle {
		return
	}
	m := c.check.GetHashes()
	if m == nil || m.Len() == 0 {
		c.bus.Notify(chase.Starved, chase.HeightValue(0))
		c.log.Debug("starved: no work available")
		return
	}
	c.beginDownload(m)
}

func (c *Channel) beginDownload(m *workmap.Map) {
	c.current = m
	c.state = Downloading
	c.started = time.Now()
	c.bytesThisRun = 0
	if err := c.transport.RequestBlocks(m.Hashes()); err != nil {
		c.log.Warn("request blocks failed", "err", err)
	}
}

// Deliver handles a single inbound block, step 1-5 of spec.md §4.4.
// ctx.Height must be at or below the channel's bypass cursor (SetBypass) for
// the "bypass disables expensive checks" rule to apply.
func (c *Channel) Deliver(b *block.Block, ctx chase.Context) {
	c.strand.Post(func() { c.deliver(b, ctx) })
}

func (c *Channel) deliver(b *block.Block, ctx chase.Context) {
	if c.current == nil || !c.current.Contains(b.Hash) {
		c.log.Debug("unexpected block, tolerated", "hash", b.Hash.String())
		return
	}

	if c.ar.IsMalleated64(b) {
		c.log.Warn("malleated64 block", "hash", b.Hash.String())
		c.stopLocked(StopMalleatedBlock)
		return
	}

	bypass := ctx.Height <= c.bypassHeight && !c.ar.IsMalleated64(b)
	code := b.Check(ctx, bypass)
	if code != block.Ok {
		switch code {
		case block.ErrMalleable32, block.ErrMalleable64:
			c.log.Warn("malleable block check failure", "hash", b.Hash.String(), "code", code.String())
			c.stopLocked(StopMalleatedBlock)
		default:
			link := c.linkFor(b.Hash)
			c.ar.SetBlockUnconfirmable(link)
			c.bus.Notify(chase.Unchecked, chase.LinkValue(link))
			c.log.Warn("block check failed", "hash", b.Hash.String(), "code", code.String())
			c.stopLocked(StopNone)
		}
		return
	}

	sz := 0
	for _, tx := range b.Txs {
		sz += len(tx.Bytes)
	}
	link := c.linkFor(b.Hash)
	c.ar.StoreBlock(link, b)
	storeCode := c.ar.StoreTxs(link, b.Txs, sz, bypass)
	if storeCode != block.Ok {
		c.ar.SetBlockUnconfirmable(link)
		c.bus.Notify(chase.Unchecked, chase.LinkValue(link))
		c.stopLocked(StopNone)
		return
	}

	c.bus.Notify(chase.Checked, chase.HeightValue(ctx.Height))
	c.current.Remove(b.Hash)
	c.bytesThisRun += uint64(sz)

	if c.current.Len() == 0 && c.state == Downloading {
		c.state = Idle
		c.enter()
	}
}

func (c *Channel) linkFor(hash chase.Hash32) chase.HLink {
	// The Archive assigns links at header ingestion; Block-In looks the
	// link up by the hash it already has in its current Map.
	for _, it := range c.current.Items() {
		if it.Hash == hash {
			return it.Link
		}
	}
	return chase.NoHLink
}

// Split handles split(_): if the held map is more than one item, halve it,
// stash the tail half back via put_hashes, then stop with
// SacrificedChannel.
func (c *Channel) Split() { c.strand.Post(c.split) }

func (c *Channel) split() {
	if c.current == nil || c.current.Len() <= 1 {
		return
	}
	tail := workmap.Split(c.current)
	c.check.PutHashes(tail)
	c.stopLocked(StopSacrificedChannel)
}

// Stall handles stall(_): identical mechanics to Split, triggered
// collectively by the outbound session when a starved was broadcast.
func (c *Channel) Stall() { c.strand.Post(c.split) }

// Purge handles purge(_): drop the remaining map and stop, without
// returning it to the Check FIFO (spec.md §8 scenario (f): "map cleared,
// SacrificedChannel stop; Check FIFO sees no return"). Unlike Split/Stall,
// the held map is discarded rather than handed back, so current is cleared
// before stopLocked runs its generic "return any held map" rule.
func (c *Channel) Purge() { c.strand.Post(c.purge) }

func (c *Channel) purge() {
	c.current = nil
	c.stopLocked(StopSacrificedChannel)
}

// Download handles download(_): if idle, restart the performance timer and
// fetch hashes.
func (c *Channel) Download() {
	c.strand.Post(func() {
		if c.state == Idle {
			c.enter()
		}
	})
}

// SetBypass handles bypass(h): updates the local bypass_height cursor.
func (c *Channel) SetBypass(height uint64) {
	c.strand.Post(func() { c.bypassHeight = height })
}

// Report handles report(seq): logs current map size and channel id.
func (c *Channel) Report(seq uint64) {
	c.strand.Post(func() {
		n := 0
		if c.current != nil {
			n = c.current.Len()
		}
		c.log.Info("channel report", "seq", seq, "channel", c.id, "map_size", n, "state", c.state.String())
	})
}

// Stop handles the terminal stop event of spec.md §4.4. Any still-held map
// is returned to the Check chaser so work is never lost, regardless of why
// the channel stopped; the owner still calls Close to unsubscribe and tear
// down the strand.
func (c *Channel) Stop() {
	c.strand.Post(func() { c.stopLocked(StopRequested) })
}

func (c *Channel) stopLocked(reason StopReason) {
	if c.state == Stopping {
		return
	}
	c.state = Stopping
	c.stopReason = reason
	if c.current != nil && c.current.Len() > 0 {
		c.check.PutHashes(c.current)
	}
	c.current = nil
	c.log.Info("channel stopped", "reason", reason, "channel", c.id)
}

// Close unsubscribes from the bus and tears down the channel's strand. Call
// after Stop has run.
func (c *Channel) Close() {
	c.addressed.Unsubscribe()
	c.broadcast.Unsubscribe()
	c.strand.Close()
	channelsActiveGauge.Update(channelsActiveCount.Add(-1))
}

// StopReasonValue reports why the channel stopped; valid once State()==Stopping.
func (c *Channel) StopReasonValue() StopReason { return c.stopReason }
