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

// Package archive defines the Archive collaborator interface (spec.md §6.2)
// and ships two implementations: an in-memory one for tests and a LevelDB-
// backed one for the daemon. The core chasers depend only on the Archive
// interface, never on a concrete store, keeping the on-disk format out of
// scope per spec.md §1.
package archive

import (
	"errors"

	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
)

// ErrIntegrity signals a logic-level failure: an invariant the Archive is
// responsible for maintaining did not hold. Chasers escalate this to
// fault(), never retry it.
var ErrIntegrity = errors.New("archive: integrity failure")

// Archive is the narrow interface every chaser is given at construction.
// Reads are safe from any strand; writes besides push_confirmed/
// pop_confirmed are safe from any single strand, but only the Confirm
// chaser may call push_confirmed/pop_confirmed (spec.md §5).
type Archive interface {
	// Reads.
	GetFork() uint64
	GetTopConfirmed() uint64
	ToCandidate(height uint64) chase.HLink
	ToConfirmed(height uint64) chase.HLink
	GetHeaderKey(link chase.HLink) chase.Hash32
	IsAssociated(link chase.HLink) bool
	IsConfirmedBlock(link chase.HLink) bool
	GetBits(link chase.HLink) uint32
	GetContext(link chase.HLink) chase.Context
	GetBlock(link chase.HLink) (*block.Block, bool)
	GetBlockState(link chase.HLink) chase.StateCode
	GetUnassociatedAbove(height uint64, count int) []chase.Item
	ToTransactions(link chase.HLink) []chase.TLink
	GetTxKey(tx chase.TLink) chase.Hash32
	Populate(b *block.Block) bool
	IsMilestone(link chase.HLink) bool
	IsMalleated64(b *block.Block) bool
	IsMalleable(link chase.HLink) bool
	UnspentDuplicates(tx chase.TLink, ctx chase.Context) block.Code
	TxConfirmable(tx chase.TLink, ctx chase.Context) block.Code
	NeutrinoEnabled() bool
	GetFilterHead(link chase.HLink) chase.Hash32

	// Writes.
	// StoreBlock associates a downloaded block body with an existing header
	// link, making GetBlock/IsAssociated observe it; Block-In calls this once
	// a delivered block passes Check, ahead of StoreTxs.
	StoreBlock(link chase.HLink, b *block.Block)
	StoreTxs(link chase.HLink, txs []block.Tx, size int, bypass bool) block.Code
	SetBlockValid(link chase.HLink)
	SetBlockConfirmable(link chase.HLink, fees uint64)
	SetBlockUnconfirmable(link chase.HLink)
	SetTxsConnected(link chase.HLink)
	SetStrong(link chase.HLink)
	SetUnstrong(link chase.HLink)
	PushConfirmed(link chase.HLink)
	PopConfirmed()
	SetFilter(link chase.HLink, head chase.Hash32, body []byte)

	// Header ingestion, used by the Header chaser to allocate links and
	// extend the candidate chain; not enumerated in spec.md §6.2 (which
	// takes link assignment as given) but required for the chain to grow.
	AddHeader(hash chase.Hash32, ctx chase.Context) chase.HLink
	PromoteCandidate(link chase.HLink, height uint64)
	SetCandidateTop(height uint64)
	GetCandidateTop() uint64
}
