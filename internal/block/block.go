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

// Package block defines the minimal Block surface the chasers depend on.
// Script/consensus execution itself is out of scope (spec.md §1 Non-goals):
// Check/Accept/Connect are injected function fields, the same strategy the
// teacher uses to keep consensus.Engine out of core.BlockChain.
package block

import "github.com/chainforge/btcnode/internal/chase"

// Code is a rule-check outcome. Zero value Ok means success.
type Code int

const (
	Ok Code = iota
	ErrMalleable32
	ErrMalleable64
	ErrStructural
	ErrWitnessCommitment
	ErrConsensus
	ErrConnect
	ErrMissingPreviousOutput
	ErrIntegrity
)

func (c Code) String() string {
	switch c {
	case Ok:
		return "ok"
	case ErrMalleable32:
		return "malleable32"
	case ErrMalleable64:
		return "malleable64"
	case ErrStructural:
		return "structural"
	case ErrWitnessCommitment:
		return "witness-commitment"
	case ErrConsensus:
		return "consensus"
	case ErrConnect:
		return "connect"
	case ErrMissingPreviousOutput:
		return "missing-previous-output"
	case ErrIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Tx is a single transaction as tracked by the archive; script evaluation is
// delegated to the injected hooks below.
type Tx struct {
	Link  chase.TLink
	Bytes []byte
}

// Block is the minimal unit the chasers operate on.
type Block struct {
	Hash   chase.Hash32
	Height uint64
	Bits   uint32
	Txs    []Tx

	// Hooks, analogous to an injected consensus.Engine: nil hooks behave as
	// always-Ok, so tests can exercise the chasers without a real consensus
	// implementation.
	CheckFn   func(ctx chase.Context, bypass bool) Code
	AcceptFn  func(ctx chase.Context, subsidyInterval uint64, initialSubsidy uint64) Code
	ConnectFn func(ctx chase.Context) Code
}

// Check runs structural/merkle/malleation checks. bypass disables expensive
// non-commitment checks.
func (b *Block) Check(ctx chase.Context, bypass bool) Code {
	if b.CheckFn == nil {
		return Ok
	}
	return b.CheckFn(ctx, bypass)
}

// Accept runs consensus rules over known inputs.
func (b *Block) Accept(ctx chase.Context, subsidyInterval, initialSubsidy uint64) Code {
	if b.AcceptFn == nil {
		return Ok
	}
	return b.AcceptFn(ctx, subsidyInterval, initialSubsidy)
}

// Connect runs script execution / spend-time rules.
func (b *Block) Connect(ctx chase.Context) Code {
	if b.ConnectFn == nil {
		return Ok
	}
	return b.ConnectFn(ctx)
}

// Proof returns the accumulated work contributed by a block with the given
// compact difficulty bits. Bitcoin's bits->work conversion: work =
// 2**256 / (target+1), where target is derived from the compact bits
// encoding. This lives here (not in consensus) because work comparison is
// needed by the Header and Confirm chasers, which are in scope.
func Proof(bits uint32) *chase.Work {
	return chase.WorkFromBits(bits)
}
