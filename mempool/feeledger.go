// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
)

// FeeLedger tracks the two fee rate floors governing admission: the fixed
// network relay floor and the pool's dynamically escalating minimum. The pool
// minimum starts at the relay floor, only rises (via eviction ratcheting),
// and is lowered again only when the pool is cleared or drains to empty. Once eviction has
// removed content to make room, the stricter bar prevents equally-marginal
// transactions from immediately refilling the pool.
//
// The ledger performs no locking of its own; it is mutated only while the
// owning pool's lock is held.
type FeeLedger struct {
	// minRelayTxFee is the network floor in satoshi per kilo-vbyte, set
	// once at startup.
	minRelayTxFee btcutil.Amount

	// poolMinFee is the current admission floor, always >= minRelayTxFee.
	poolMinFee btcutil.Amount
}

// NewFeeLedger creates a ledger with both floors at the given relay fee rate.
func NewFeeLedger(minRelayTxFee btcutil.Amount) *FeeLedger {
	return &FeeLedger{
		minRelayTxFee: minRelayTxFee,
		poolMinFee:    minRelayTxFee,
	}
}

// MinRelayTxFee returns the fixed network relay floor.
func (l *FeeLedger) MinRelayTxFee() btcutil.Amount {
	return l.minRelayTxFee
}

// PoolMinFee returns the current pool admission floor.
func (l *FeeLedger) PoolMinFee() btcutil.Amount {
	return l.poolMinFee
}

// RaiseTo lifts the pool admission floor to the given rate. Requests at or
// below the current floor are no-ops; the floor never moves down this way.
func (l *FeeLedger) RaiseTo(rate btcutil.Amount) {
	if rate <= l.poolMinFee {
		return
	}
	log.Debugf("Pool minimum fee rate raised from %d to %d sat/kvB",
		l.poolMinFee, rate)
	l.poolMinFee = rate
}

// ResetToFloor drops the pool admission floor back to the network relay
// floor. Only an explicit pool clear or the pool draining to empty may do
// this.
func (l *FeeLedger) ResetToFloor() {
	l.poolMinFee = l.minRelayTxFee
}
