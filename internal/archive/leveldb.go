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
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/chainforge/btcnode/internal/block"
	"github.com/chainforge/btcnode/internal/chase"
)

// ctxCacheSize bounds the hot-context cache: rule context (height, flags,
// mtp) for links the Validate and Confirm chasers are actively walking near
// the tip, saving a Memory lock round-trip for the links re-read most.
const ctxCacheSize = 2048

// Key prefixes for the LevelDB-backed store, grounded on the teacher's
// core/rawdb prefixed-key scheme (e.g. headerPrefix, blockBodyPrefix): each
// logical table gets a one-byte prefix over the same flat keyspace.
const (
	prefixHeaderBytes byte = 'h' // hash -> header height (8 bytes, big-endian), write-through only
	prefixTxBytes     byte = 't' // tlink -> raw tx bytes
	prefixMeta        byte = 'm' // small scalars: candidate top, fork height
)

// LevelDB is a durable Archive backed by github.com/syndtr/goleveldb. Index
// bookkeeping (the tree of links, candidate/confirmed chains, states) is
// kept in an embedded Memory for query convenience, the way many lightweight
// chain stores keep a derived in-memory index beside a durable blob log;
// each header's height (keyed by hash) and raw transaction bytes are
// additionally written through to LevelDB. OpenLevelDB does not read them
// back: the in-memory index starts from genesis on every open.
type LevelDB struct {
	*Memory
	db     *leveldb.DB
	ctxHot *lru.Cache[chase.HLink, chase.Context]
}

// OpenLevelDB opens (creating if absent) a LevelDB database at dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open leveldb at %s: %w", dir, err)
	}
	ctxHot, _ := lru.New[chase.HLink, chase.Context](ctxCacheSize) // only errors on non-positive size
	return &LevelDB{Memory: NewMemory(), db: db, ctxHot: ctxHot}, nil
}

// Close releases the underlying LevelDB handle.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

func headerKey(hash chase.Hash32) []byte {
	key := make([]byte, 1+len(hash))
	key[0] = prefixHeaderBytes
	copy(key[1:], hash[:])
	return key
}

func txKey(tx chase.TLink) []byte {
	key := make([]byte, 1+4)
	key[0] = prefixTxBytes
	binary.BigEndian.PutUint32(key[1:], uint32(tx))
	return key
}

// AddHeader delegates link bookkeeping to the embedded Memory, then writes
// the header's height through under its hash key.
func (l *LevelDB) AddHeader(hash chase.Hash32, ctx chase.Context) chase.HLink {
	link := l.Memory.AddHeader(hash, ctx)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ctx.Height)
	_ = l.db.Put(headerKey(hash), buf[:], nil)
	l.ctxHot.Add(link, ctx)
	return link
}

// GetContext consults the hot-context cache before falling through to the
// embedded Memory, since Validate and Confirm both re-read a link's context
// repeatedly as they walk it through bypass checks and the advance loop.
func (l *LevelDB) GetContext(link chase.HLink) chase.Context {
	if ctx, ok := l.ctxHot.Get(link); ok {
		return ctx
	}
	ctx := l.Memory.GetContext(link)
	l.ctxHot.Add(link, ctx)
	return ctx
}

// StoreTxs persists each tx's raw bytes write-through before delegating to
// the embedded Memory for indexing.
func (l *LevelDB) StoreTxs(link chase.HLink, txs []block.Tx, size int, bypass bool) block.Code {
	code := l.Memory.StoreTxs(link, txs, size, bypass)
	if code != block.Ok {
		return code
	}
	tlinks := l.Memory.ToTransactions(link)
	batch := new(leveldb.Batch)
	for i, tx := range txs {
		if i >= len(tlinks) {
			break
		}
		batch.Put(txKey(tlinks[i]), tx.Bytes)
	}
	_ = l.db.Write(batch, nil)
	return code
}
