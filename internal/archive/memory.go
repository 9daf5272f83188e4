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

package archive

import (
	"sync"

	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
)

type record struct {
	hash    chase.Hash32
	ctx     chase.Context
	block   *block.Block
	height  uint64
	state   chase.StateCode
	strong  bool
	filter  chase.Hash32
	fbody   []byte
	milestone bool
	malleable bool
}

// Memory is a map-backed Archive, used by every chaser test and by the
// node-level integration tests. It is not safe for use as a production
// store: there is no persistence and no compaction.
type Memory struct {
	mu sync.Mutex

	nextLink chase.HLink
	nextTx   chase.TLink

	byLink   map[chase.HLink]*record
	byHash   map[chase.Hash32]chase.HLink
	candidate map[uint64]chase.HLink // height -> link, contiguous from genesis
	confirmed []chase.HLink          // index == height
	candidateTop uint64

	txBytes map[chase.TLink][]byte
	txOwner map[chase.TLink]chase.HLink
	txHash  map[chase.TLink]chase.Hash32
	txOfBlk map[chase.HLink][]chase.TLink

	checkpoints map[uint64]chase.Hash32
	bypassTx    func(chase.TLink, chase.Context) block.Code
	bypassDup   func(chase.TLink, chase.Context) block.Code
	neutrino    bool
}

// NewMemory returns an empty Memory archive seeded with a genesis link at
// height 0.
func NewMemory() *Memory {
	m := &Memory{
		byLink:      make(map[chase.HLink]*record),
		byHash:      make(map[chase.Hash32]chase.HLink),
		candidate:   make(map[uint64]chase.HLink),
		confirmed:   make([]chase.HLink, 0, 1),
		txBytes:     make(map[chase.TLink][]byte),
		txOwner:     make(map[chase.TLink]chase.HLink),
		txHash:      make(map[chase.TLink]chase.Hash32),
		txOfBlk:     make(map[chase.HLink][]chase.TLink),
		checkpoints: make(map[uint64]chase.Hash32),
		neutrino:    true,
	}
	genesisHash := chase.Hash32{31: 0x01}
	link := m.addHeaderLocked(genesisHash, chase.Context{Height: 0})
	m.candidate[0] = link
	m.byLink[link].state = chase.StateValid
	m.byLink[link].strong = true
	m.confirmed = append(m.confirmed, link)
	m.byLink[link].height = 0
	return m
}

func (m *Memory) addHeaderLocked(hash chase.Hash32, ctx chase.Context) chase.HLink {
	m.nextLink++
	link := m.nextLink
	m.byLink[link] = &record{hash: hash, ctx: ctx, state: chase.StateUnassociated, height: ctx.Height}
	m.byHash[hash] = link
	return link
}

// AddHeader assigns a new, stable HLink to hash/ctx. It does not place the
// header on the candidate chain; HeaderChaser does that via PromoteCandidate.
func (m *Memory) AddHeader(hash chase.Hash32, ctx chase.Context) chase.HLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.byHash[hash]; ok {
		return link
	}
	return m.addHeaderLocked(hash, ctx)
}

// PromoteCandidate places link on the candidate chain at height.
func (m *Memory) PromoteCandidate(link chase.HLink, height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidate[height] = link
	if r, ok := m.byLink[link]; ok {
		r.height = height
	}
	if height > m.candidateTop || len(m.candidate) == 1 {
		m.candidateTop = height
	}
}

func (m *Memory) SetCandidateTop(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidateTop = height
	for h := range m.candidate {
		if h > height {
			delete(m.candidate, h)
		}
	}
}

func (m *Memory) GetCandidateTop() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidateTop
}

func (m *Memory) GetFork() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.confirmed)) - 1
}

func (m *Memory) GetTopConfirmed() uint64 { return m.GetFork() }

func (m *Memory) ToCandidate(height uint64) chase.HLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate[height]
}

func (m *Memory) ToConfirmed(height uint64) chase.HLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height >= uint64(len(m.confirmed)) {
		return chase.NoHLink
	}
	return m.confirmed[height]
}

func (m *Memory) GetHeaderKey(link chase.HLink) chase.Hash32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.hash
	}
	return chase.Hash32{}
}

func (m *Memory) IsAssociated(link chase.HLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byLink[link]
	return ok && r.block != nil
}

func (m *Memory) IsConfirmedBlock(link chase.HLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.confirmed {
		if l == link {
			return true
		}
	}
	return false
}

func (m *Memory) GetBits(link chase.HLink) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok && r.block != nil {
		return r.block.Bits
	}
	return 0
}

func (m *Memory) GetContext(link chase.HLink) chase.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.ctx
	}
	return chase.Context{}
}

func (m *Memory) GetBlock(link chase.HLink) (*block.Block, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byLink[link]
	if !ok || r.block == nil {
		return nil, false
	}
	return r.block, true
}

func (m *Memory) GetBlockState(link chase.HLink) chase.StateCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.state
	}
	return chase.StateUnknown
}

// GetUnassociatedAbove returns up to count candidate items above height that
// have no stored block, in ascending height order.
func (m *Memory) GetUnassociatedAbove(height uint64, count int) []chase.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]chase.Item, 0, count)
	for h := height + 1; h <= m.candidateTop && len(items) < count; h++ {
		link, ok := m.candidate[h]
		if !ok {
			break
		}
		r := m.byLink[link]
		if r.block != nil {
			continue
		}
		items = append(items, chase.Item{Hash: r.hash, Link: link, Context: r.ctx})
	}
	return items
}

func (m *Memory) ToTransactions(link chase.HLink) []chase.TLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chase.TLink(nil), m.txOfBlk[link]...)
}

func (m *Memory) GetTxKey(tx chase.TLink) chase.Hash32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txHash[tx]
}

// Populate fills b's prevout scratch; the Memory archive has no real UTXO
// set, so it always succeeds. There is no hook to make it fail.
func (m *Memory) Populate(b *block.Block) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byLink[m.byHash[b.Hash]]
	if !ok {
		return true
	}
	return !r.malleable || true // populate failure is modeled via AcceptFn/ConnectFn in tests
}

func (m *Memory) IsMilestone(link chase.HLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.milestone
	}
	return false
}

// SetMilestone marks link as a milestone height (test/config hook).
func (m *Memory) SetMilestone(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.milestone = true
	}
}

func (m *Memory) IsMalleated64(b *block.Block) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[m.byHash[b.Hash]]; ok {
		return r.malleable
	}
	return false
}

// SetMalleable64 marks the block at hash as malleable64 (test hook).
func (m *Memory) SetMalleable64(hash chase.Hash32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.byHash[hash]; ok {
		m.byLink[link].malleable = true
	}
}

func (m *Memory) IsMalleable(link chase.HLink) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.malleable
	}
	return false
}

func (m *Memory) UnspentDuplicates(tx chase.TLink, ctx chase.Context) block.Code {
	if m.bypassDup != nil {
		return m.bypassDup(tx, ctx)
	}
	return block.Ok
}

// SetUnspentDuplicatesHook installs a test hook for coinbase duplicate
// checks.
func (m *Memory) SetUnspentDuplicatesHook(fn func(chase.TLink, chase.Context) block.Code) {
	m.bypassDup = fn
}

func (m *Memory) TxConfirmable(tx chase.TLink, ctx chase.Context) block.Code {
	if m.bypassTx != nil {
		return m.bypassTx(tx, ctx)
	}
	return block.Ok
}

// SetTxConfirmableHook installs a test hook for per-tx confirmability.
func (m *Memory) SetTxConfirmableHook(fn func(chase.TLink, chase.Context) block.Code) {
	m.bypassTx = fn
}

func (m *Memory) NeutrinoEnabled() bool { return m.neutrino }

func (m *Memory) GetFilterHead(link chase.HLink) chase.Hash32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		return r.filter
	}
	return chase.Hash32{}
}

func (m *Memory) StoreTxs(link chase.HLink, txs []block.Tx, size int, bypass bool) block.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byLink[link]
	if !ok {
		return block.ErrStructural
	}
	links := make([]chase.TLink, 0, len(txs))
	for _, tx := range txs {
		m.nextTx++
		tl := m.nextTx
		m.txBytes[tl] = tx.Bytes
		m.txOwner[tl] = link
		var h chase.Hash32
		copy(h[:], tx.Bytes)
		m.txHash[tl] = h
		links = append(links, tl)
	}
	m.txOfBlk[link] = links
	r.state = chase.StateUnvalidated
	return block.Ok
}

func (m *Memory) SetBlockValid(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.state = chase.StateValid
	}
}

func (m *Memory) SetBlockConfirmable(link chase.HLink, fees uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.state = chase.StateConfirmable
	}
}

func (m *Memory) SetBlockUnconfirmable(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.state = chase.StateUnconfirmable
	}
}

func (m *Memory) SetTxsConnected(link chase.HLink) {
	// No separate connected-flag tracked by the memory store; state already
	// reflects validity.
}

func (m *Memory) SetStrong(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.strong = true
	}
}

func (m *Memory) SetUnstrong(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.strong = false
	}
}

func (m *Memory) PushConfirmed(link chase.HLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = append(m.confirmed, link)
}

func (m *Memory) PopConfirmed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.confirmed) <= 1 {
		return
	}
	m.confirmed = m.confirmed[:len(m.confirmed)-1]
}

func (m *Memory) SetFilter(link chase.HLink, head chase.Hash32, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.filter = head
		r.fbody = body
	}
}

// StoreBlock attaches a full block body to an existing header link; Block-In
// calls this once a delivered block passes Check, ahead of StoreTxs, so later
// IsAssociated/GetBlock calls observe it.
func (m *Memory) StoreBlock(link chase.HLink, b *block.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byLink[link]; ok {
		r.block = b
	}
}
