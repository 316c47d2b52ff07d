// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
)

const (
	// defaultRelayInventorySize is the default number of recently queued
	// witness hashes remembered for announcement de-duplication.
	defaultRelayInventorySize = 1000
)

// RelayInventory is a RelayQueue that collects accepted witness hashes in
// order while suppressing duplicates with an LRU cache, so a transaction
// observed through both the single and the package path is announced once.
type RelayInventory struct {
	mtx     sync.Mutex
	pending []chainhash.Hash
	seen    lru.Cache
}

// NewRelayInventory returns a relay queue remembering up to cacheSize
// recently enqueued hashes for de-duplication.
func NewRelayInventory(cacheSize uint) *RelayInventory {
	if cacheSize == 0 {
		cacheSize = defaultRelayInventorySize
	}
	return &RelayInventory{
		seen: lru.NewCache(cacheSize),
	}
}

// Enqueue schedules a transaction for relay announcement.
//
// This function is safe for concurrent access.
func (r *RelayInventory) Enqueue(wtxid chainhash.Hash) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.seen.Contains(wtxid) {
		return
	}
	r.seen.Add(wtxid)
	r.pending = append(r.pending, wtxid)

	log.Tracef("Queued %v for relay (pending: %d)", wtxid, len(r.pending))
}

// Drain returns the queued hashes in enqueue order and empties the queue.
// The de-duplication cache is left intact.
//
// This function is safe for concurrent access.
func (r *RelayInventory) Drain() []chainhash.Hash {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	drained := r.pending
	r.pending = nil
	return drained
}

// Ensure RelayInventory implements the RelayQueue interface.
var _ RelayQueue = (*RelayInventory)(nil)
