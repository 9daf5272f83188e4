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

// Package chase holds the data types shared by every chaser: link handles,
// rule contexts, hashes and the event-bus kind/value vocabulary that couples
// them together.
package chase

import (
	"encoding/hex"
	"fmt"
)

// HLink is an opaque handle assigned by the Archive at header ingestion.
// It is stable for the life of the process.
type HLink uint32

// NoHLink is the zero value, used as a sentinel for "no link".
const NoHLink HLink = 0

// TLink is the transaction analogue of HLink.
type TLink uint32

// NoTLink is the zero value, used as a sentinel for "no link".
const NoTLink TLink = 0

// Hash32 is a 32 byte double-SHA256 style digest (header hash, tx hash,
// filter head).
type Hash32 [32]byte

func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// Context carries the rule flags, height and median-time-past active at a
// given height; accept/connect/check all take a Context.
type Context struct {
	Flags  uint32
	Height uint64
	MTP    uint32
}

func (c Context) String() string {
	return fmt.Sprintf("ctx(height=%d flags=%#x mtp=%d)", c.Height, c.Flags, c.MTP)
}

// Item is a single download unit: a block hash with its link and the rule
// context that will apply when it is validated.
type Item struct {
	Hash    Hash32
	Link    HLink
	Context Context
}

// ForkDescriptor describes an in-progress confirmation attempt. Fork is kept
// ordered top-first: index 0 is the highest candidate link, down to just
// above ForkPoint. Popped holds confirmed links removed to revert to
// ForkPoint, in the order they were popped (top-first).
type ForkDescriptor struct {
	ForkPoint uint64
	Fork      []HLink
	Popped    []HLink
}

// Empty reports whether no confirmation attempt is in progress.
func (f *ForkDescriptor) Empty() bool {
	return f == nil || len(f.Fork) == 0
}

// StateCode is the state of a block as tracked by the Archive.
type StateCode int

const (
	StateUnknown StateCode = iota
	StateUnassociated
	StateUnvalidated
	StateValid
	StateConfirmable
	StateUnconfirmable
	StateIntegrity
)

func (s StateCode) String() string {
	switch s {
	case StateUnassociated:
		return "unassociated"
	case StateUnvalidated:
		return "unvalidated"
	case StateValid:
		return "valid"
	case StateConfirmable:
		return "confirmable"
	case StateUnconfirmable:
		return "unconfirmable"
	case StateIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}
