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

package chase

// Kind identifies an event-bus event. Every kind carries exactly one Value,
// whose field is fixed per kind (see Value).
type Kind int

const (
	Start Kind = iota
	Bump
	Space
	Suspend
	Starved
	Split
	Stall
	Purge
	Report
	Block
	Header
	Download
	Regressed
	Disorganized
	Malleated
	Checked
	Unchecked
	Valid
	Unvalid
	Confirmable
	Unconfirmable
	Organized
	Reorganized
	Transaction
	Template
	Stop
)

var kindNames = map[Kind]string{
	Start:        "start",
	Bump:         "bump",
	Space:        "space",
	Suspend:      "suspend",
	Starved:      "starved",
	Split:        "split",
	Stall:        "stall",
	Purge:        "purge",
	Report:       "report",
	Block:        "block",
	Header:       "header",
	Download:     "download",
	Regressed:    "regressed",
	Disorganized: "disorganized",
	Malleated:    "malleated",
	Checked:      "checked",
	Unchecked:    "unchecked",
	Valid:        "valid",
	Unvalid:      "unvalid",
	Confirmable:  "confirmable",
	Unconfirmable: "unconfirmable",
	Organized:    "organized",
	Reorganized:  "reorganized",
	Transaction:  "transaction",
	Template:     "template",
	Stop:         "stop",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value is a tagged union over the single 64-bit slot the underlying wire
// protocol uses. Only one field is meaningful per Kind; Uint64 projects it
// back to the wire-compatible representation.
type Value struct {
	Height    uint64
	Count     uint64
	ChannelID uint64
	Link      HLink
	Tx        TLink
	ObjectKey uint64
}

// HeightValue builds a Value carrying a height (header/valid/checked/confirmable/...).
func HeightValue(h uint64) Value { return Value{Height: h} }

// CountValue builds a Value carrying a count (download/space/...).
func CountValue(c uint64) Value { return Value{Count: c} }

// ChannelValue builds a Value carrying a channel id (split/stall/purge/...).
func ChannelValue(id uint64) Value { return Value{ChannelID: id} }

// LinkValue builds a Value carrying an HLink (malleated/unvalid/unconfirmable/organized/...).
func LinkValue(l HLink) Value { return Value{Link: l} }

// TxValue builds a Value carrying a TLink.
func TxValue(t TLink) Value { return Value{Tx: t} }

// ObjectValue builds a Value carrying an opaque object key.
func ObjectValue(k uint64) Value { return Value{ObjectKey: k} }

// Uint64 projects the value onto the wire-compatible 64-bit slot for the
// given kind, matching the single-field-per-kind interpretation of §6.1.
func (v Value) Uint64(k Kind) uint64 {
	switch k {
	case Malleated, Unvalid, Unconfirmable, Organized, Reorganized:
		return uint64(v.Link)
	case Split, Stall, Purge:
		return v.ChannelID
	case Transaction:
		return uint64(v.Tx)
	case Header, Checked, Valid, Starved, Block, Regressed, Disorganized, Confirmable:
		return v.Height
	case Space, Bump, Download, Report:
		return v.Count
	default:
		return v.ObjectKey
	}
}

// Event is a single bus message.
type Event struct {
	Kind  Kind
	Value Value
}
