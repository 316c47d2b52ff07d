// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UtxoSource provides confirmed unspent output lookups during admission.
// Implementations are supplied by the chain state collaborator; the pool only
// needs to resolve input values and existence, never script contents.
type UtxoSource interface {
	// FetchUtxoValue returns the value of the referenced confirmed output
	// and whether such an unspent output exists. Outputs spent by
	// confirmed transactions must report false.
	FetchUtxoValue(op wire.OutPoint) (btcutil.Amount, bool)
}

// RelayQueue receives the witness hashes of accepted transactions so the
// peer-facing collaborator can announce them. Enqueue must not block; the
// pool calls it while holding no locks but in the admission path.
type RelayQueue interface {
	// Enqueue schedules a transaction for relay announcement.
	Enqueue(wtxid chainhash.Hash)
}
