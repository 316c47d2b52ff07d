// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/soitun/xaya/mempool/txgraph"
)

// selectEvictionVictimLocked returns the pool entry with the lowest
// descendant-inclusive modified fee rate, the mirror of the package CPFP
// rule applied in the opposite direction: removing a low-value ancestor also
// removes the descendants that depended on it, so entries are ranked by the
// rate of the whole group that would go. Ties are broken toward the older
// entry so persistently underpaying content goes first.
//
// This function MUST be called with the pool lock held (for reads).
func (mp *TxPool) selectEvictionVictimLocked() *txgraph.TxNode {
	var victim *txgraph.TxNode
	mp.graph.ForEach(func(node *txgraph.TxNode) bool {
		if victim == nil {
			victim = node
			return true
		}
		nodeStats, victimStats := node.DescendantStats, victim.DescendantStats
		cmp := compareRates(nodeStats.Fee, nodeStats.VirtualSize,
			victimStats.Fee, victimStats.VirtualSize)
		switch {
		case cmp < 0:
			victim = node
		case cmp == 0 && node.Desc.Sequence < victim.Desc.Sequence:
			victim = node
		}
		return true
	})
	return victim
}

// enforceCapLocked evicts lowest-value descendant groups until the pool fits
// its byte cap again, ratcheting the ledger's admission floor to the evicted
// rate plus the incremental relay fee after each round. The removed nodes are
// returned so callers can notify and detect self-eviction.
//
// This function MUST be called with the pool lock held (for writes).
func (mp *TxPool) enforceCapLocked() []*txgraph.TxNode {
	maxBytes := mp.cfg.Policy.MaxPoolSizeBytes
	var evicted []*txgraph.TxNode

	for mp.graph.Count() > 0 && mp.graph.TotalVirtualSize() > maxBytes {
		victim := mp.selectEvictionVictimLocked()

		// The new admission floor is the fee rate of the removed
		// group plus the incremental relay fee, so transactions paying
		// exactly the evicted rate cannot refill the pool before a
		// block is found.
		groupRate := btcutil.Amount(victim.DescendantStats.FeeRate()) +
			mp.cfg.Policy.IncrementalRelayFee

		removed, err := mp.graph.Remove(victim.TxHash)
		if err != nil {
			// The victim came from the same locked traversal, so
			// this indicates internal inconsistency; stop evicting
			// rather than loop forever.
			log.Errorf("Eviction of %v failed: %v", victim.TxHash, err)
			break
		}
		evicted = append(evicted, removed...)

		mp.ledger.RaiseTo(groupRate)

		log.Debugf("Evicted %d transaction(s) rooted at %v "+
			"(group rate: %d sat/kvB, pool bytes: %d)",
			len(removed), victim.TxHash, groupRate,
			mp.graph.TotalVirtualSize())
	}

	if len(evicted) > 0 {
		mp.touchLastUpdated()
	}
	return evicted
}

// LimitPoolSize enforces the configured byte cap outside the admission path,
// for callers that run periodic maintenance. Evicted entries are notified.
func (mp *TxPool) LimitPoolSize() int {
	mp.mtx.Lock()
	evicted := mp.enforceCapLocked()
	mp.mtx.Unlock()

	mp.notifyRemoved(evicted, RemovalReasonEvicted)
	return len(evicted)
}
