// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/soitun/xaya/mempool/txgraph"
)

const (
	// estimateFeeDepth is the maximum number of blocks before confirmation
	// that the estimator tracks.
	estimateFeeDepth = 25

	// estimateFeeBinSize is the number of transactions kept per
	// confirmation-delay bin.
	estimateFeeBinSize = 100

	// estimateFeeMaxReplacements caps how many bin entries a single block
	// may replace, so one large block cannot wipe a bin's history.
	estimateFeeMaxReplacements = 10

	// unobservedHeight marks transactions seen before any block was
	// registered, and entries not yet mined.
	unobservedHeight int32 = -1
)

// observedTx is a pool transaction the estimator is tracking until it
// confirms.
type observedTx struct {
	hash chainhash.Hash

	// feeRate is the modified fee rate in satoshi per kilo-vbyte.
	feeRate int64

	// observed is the chain height when the transaction entered the pool.
	observed int32

	// mined is the height of the confirming block, or unobservedHeight.
	mined int32
}

// FeeEstimator predicts the fee rate needed to confirm within a target number
// of blocks, from the confirmation delays of transactions it watched travel
// from the pool into blocks. It is safe for concurrent access and is meant to
// be fed from a pool subscription plus block connection events.
type FeeEstimator struct {
	mtx sync.Mutex

	// minRegisteredBlocks gates estimates until enough history exists.
	minRegisteredBlocks uint32

	numBlocksRegistered uint32
	lastKnownHeight     int32

	observed map[chainhash.Hash]*observedTx

	// bin[d] holds transactions that confirmed d+1 blocks after they were
	// observed.
	bin [estimateFeeDepth][]*observedTx

	// cached holds the per-target estimates from the last computation;
	// any mutation invalidates it.
	cached []int64
}

// NewFeeEstimator creates an estimator that refuses to answer before
// minRegisteredBlocks blocks have been registered.
func NewFeeEstimator(minRegisteredBlocks uint32) *FeeEstimator {
	return &FeeEstimator{
		minRegisteredBlocks: minRegisteredBlocks,
		lastKnownHeight:     unobservedHeight,
		observed:            make(map[chainhash.Hash]*observedTx),
	}
}

// ObserveTransaction records a newly accepted pool entry. Wire it to the
// pool's NTTxAccepted notification.
func (ef *FeeEstimator) ObserveTransaction(desc *txgraph.TxDesc) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if _, ok := ef.observed[desc.TxHash]; ok {
		return
	}
	ef.observed[desc.TxHash] = &observedTx{
		hash:     desc.TxHash,
		feeRate:  feeRatePerKvB(desc.ModifiedFee(), desc.VirtualSize),
		observed: ef.lastKnownHeight,
		mined:    unobservedHeight,
	}
}

// RegisterBlock feeds a connected block into the estimator: every mined
// transaction that was previously observed moves into the bin matching its
// confirmation delay.
func (ef *FeeEstimator) RegisterBlock(height int32, mined []chainhash.Hash) error {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	ef.cached = nil

	if ef.lastKnownHeight != unobservedHeight && height != ef.lastKnownHeight+1 {
		return fmt.Errorf("intermediate block not registered: last "+
			"height %d, new height %d", ef.lastKnownHeight, height)
	}
	ef.lastKnownHeight = height
	ef.numBlocksRegistered++

	var replacements [estimateFeeDepth]int
	for _, hash := range mined {
		o, ok := ef.observed[hash]
		if !ok {
			continue
		}
		delete(ef.observed, hash)

		// Transactions observed before the first registered block have
		// no meaningful delay.
		if o.observed == unobservedHeight {
			continue
		}
		delay := height - o.observed - 1
		if delay < 0 {
			delay = 0
		}
		if delay >= estimateFeeDepth {
			continue
		}
		if replacements[delay] == estimateFeeMaxReplacements {
			continue
		}
		replacements[delay]++

		o.mined = height
		bin := ef.bin[delay]
		if len(bin) == estimateFeeBinSize {
			// Rotate the oldest entry out.
			copy(bin, bin[1:])
			bin[len(bin)-1] = o
		} else {
			ef.bin[delay] = append(bin, o)
		}
	}

	// Forget pool entries that have lingered past the tracking horizon.
	for hash, o := range ef.observed {
		if o.observed != unobservedHeight &&
			height-o.observed >= estimateFeeDepth {

			delete(ef.observed, hash)
		}
	}

	return nil
}

// EstimateFee returns the fee rate, in satoshi per kilo-vbyte, estimated to
// confirm a transaction within numBlocks blocks.
func (ef *FeeEstimator) EstimateFee(numBlocks uint32) (int64, error) {
	ef.mtx.Lock()
	defer ef.mtx.Unlock()

	if ef.numBlocksRegistered < ef.minRegisteredBlocks {
		return 0, errors.New("not enough blocks have been observed")
	}
	if numBlocks == 0 {
		return 0, errors.New("cannot confirm a transaction in zero blocks")
	}
	if numBlocks > estimateFeeDepth {
		return 0, fmt.Errorf("can only estimate fees for up to %d "+
			"blocks from now", estimateFeeDepth)
	}

	if ef.cached == nil {
		ef.cached = ef.estimates()
	}
	return ef.cached[numBlocks-1], nil
}

// estimates computes the fee rate for every confirmation target. For target n
// it takes the median rate among transactions that confirmed within n blocks,
// over a rate list sorted descending, so tighter targets see the richer
// prefix of the distribution.
func (ef *FeeEstimator) estimates() []int64 {
	var rates []int64
	var binSizes [estimateFeeDepth]int
	for d, bin := range ef.bin {
		binSizes[d] = len(bin)
		for _, o := range bin {
			rates = append(rates, o.feeRate)
		}
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i] > rates[j] })

	out := make([]int64, estimateFeeDepth)
	var lo int
	for target := 1; target <= estimateFeeDepth; target++ {
		hi := lo + binSizes[target-1]
		if hi == 0 {
			out[target-1] = 0
		} else {
			out[target-1] = rates[(lo+hi-1)/2]
		}
		lo = hi
	}
	return out
}
