// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/soitun/xaya/mempool/txgraph"
)

// Config is the owned context object for a transaction pool instance. It is
// created at node start and torn down at shutdown; no pool state is ambient.
type Config struct {
	// Policy holds the startup policy knobs. It must validate.
	Policy Policy

	// UtxoSource resolves confirmed outputs during admission. Required.
	UtxoSource UtxoSource

	// RelayQueue receives accepted witness hashes for announcement. May be
	// nil if the node does not relay.
	RelayQueue RelayQueue
}

// TxPool is the in-memory set of accepted-but-unconfirmed transactions with
// ancestor/descendant aggregate accounting. The pool, its fee ledger and its
// eviction logic form one lock domain: admission, removal and cap enforcement
// are serialized, while read queries share an RLock.
type TxPool struct {
	cfg    Config
	ledger *FeeLedger

	// mtx protects the graph, the ledger and the delta map. RWMutex allows
	// concurrent read queries while serializing mutations.
	mtx   sync.RWMutex
	graph *txgraph.TxGraph

	// deltas holds prioritisation adjustments, including for transactions
	// the pool has not seen yet; the delta is folded into the entry's
	// modified fee at admission.
	deltas map[chainhash.Hash]btcutil.Amount

	// lastUpdated tracks the last time a transaction was added or removed.
	// Atomic so RPC handlers can read it without the pool lock.
	lastUpdated atomic.Int64

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback
}

// New constructs a transaction pool from the given configuration. A policy
// violating the startup constraints is fatal and reported as ErrConfigInvalid.
func New(cfg *Config) (*TxPool, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.UtxoSource == nil {
		return nil, ruleError(ErrConfigInvalid, "utxo source is required")
	}

	mp := &TxPool{
		cfg:    *cfg,
		ledger: NewFeeLedger(cfg.Policy.MinRelayTxFee),
		graph:  txgraph.New(),
		deltas: make(map[chainhash.Hash]btcutil.Amount),
	}
	mp.touchLastUpdated()

	log.Infof("Transaction pool configured with %d byte cap, %d sat/kvB "+
		"relay floor", cfg.Policy.MaxPoolSizeBytes, cfg.Policy.MinRelayTxFee)

	return mp, nil
}

// PoolInfo is the aggregate pool state reported to callers.
type PoolInfo struct {
	// MinRelayTxFee is the fixed network floor in satoshi per kilo-vbyte.
	MinRelayTxFee btcutil.Amount

	// PoolMinFee is the dynamic admission floor in satoshi per kilo-vbyte.
	PoolMinFee btcutil.Amount

	// Bytes is the aggregate virtual size of all pool entries.
	Bytes int64

	// MaxBytes is the configured pool cap.
	MaxBytes int64

	// Count is the number of pool entries.
	Count int
}

// EntryInfo is the caller-facing view of a pool entry together with its
// dependency aggregates.
type EntryInfo struct {
	TxHash      chainhash.Hash
	WitnessHash chainhash.Hash
	VirtualSize int64
	Fee         btcutil.Amount
	FeeDelta    btcutil.Amount
	FeeRate     int64
	Added       time.Time
	Sequence    uint64

	// AncestorStats and DescendantStats aggregate count, virtual size and
	// modified fee over the respective transitive set, self included.
	AncestorStats   txgraph.AggregateStats
	DescendantStats txgraph.AggregateStats
}

// touchLastUpdated records that the pool content changed now.
func (mp *TxPool) touchLastUpdated() {
	mp.lastUpdated.Store(time.Now().UnixNano())
}

// LastUpdated returns the last time a transaction was added to or removed
// from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(0, mp.lastUpdated.Load())
}

// resolveInputsLocked computes the total input value of the transaction,
// resolving each referenced output against the pool graph first and the
// confirmed UTXO source second. It fails with ErrMissingInputs when an output
// is unknown or already consumed by another pool transaction.
//
// This function MUST be called with the pool lock held (for reads).
func (mp *TxPool) resolveInputsLocked(tx *btcutil.Tx) (btcutil.Amount, error) {
	var totalIn btcutil.Amount
	for _, txIn := range tx.MsgTx().TxIn {
		op := txIn.PreviousOutPoint

		if spender, ok := mp.graph.Spender(op); ok {
			str := fmt.Sprintf("output %v already spent by "+
				"transaction %v in the pool", op, spender.TxHash)
			return 0, ruleError(ErrMissingInputs, str)
		}

		if parent, ok := mp.graph.Node(op.Hash); ok {
			outputs := parent.Tx.MsgTx().TxOut
			if op.Index >= uint32(len(outputs)) {
				str := fmt.Sprintf("output %v does not exist "+
					"on pool transaction %v", op, parent.TxHash)
				return 0, ruleError(ErrMissingInputs, str)
			}
			totalIn += btcutil.Amount(outputs[op.Index].Value)
			continue
		}

		value, ok := mp.cfg.UtxoSource.FetchUtxoValue(op)
		if !ok {
			str := fmt.Sprintf("referenced output %v is neither "+
				"confirmed nor in the pool", op)
			return 0, ruleError(ErrMissingInputs, str)
		}
		totalIn += value
	}
	return totalIn, nil
}

// maybeAcceptLocked performs admission of a single candidate. When feeExempt
// is set, the candidate is part of a package dependency group that already
// cleared the pool minimum in aggregate, so the individual fee rate check is
// skipped.
//
// This function MUST be called with the pool lock held (for writes).
func (mp *TxPool) maybeAcceptLocked(tx *btcutil.Tx, feeExempt bool) (*txgraph.TxDesc, error) {
	txHash := *tx.Hash()

	if mp.graph.Has(txHash) {
		str := fmt.Sprintf("transaction %v already exists in the pool",
			txHash)
		return nil, ruleError(ErrAlreadyInPool, str)
	}

	totalIn, err := mp.resolveInputsLocked(tx)
	if err != nil {
		return nil, err
	}

	var totalOut btcutil.Amount
	for _, txOut := range tx.MsgTx().TxOut {
		totalOut += btcutil.Amount(txOut.Value)
	}
	fee := totalIn - totalOut

	vsize := GetTxVirtualSize(tx)
	delta := mp.deltas[txHash]
	modifiedFee := int64(fee + delta)

	if !feeExempt && !meetsFeeRate(modifiedFee, vsize, mp.ledger.PoolMinFee()) {
		str := fmt.Sprintf("transaction %v pays %d sat/kvB which is "+
			"below the pool minimum of %d sat/kvB", txHash,
			feeRatePerKvB(modifiedFee, vsize), mp.ledger.PoolMinFee())
		return nil, ruleError(ErrBelowMinFeeRate, str)
	}

	desc := &txgraph.TxDesc{
		TxHash:      txHash,
		WitnessHash: *tx.WitnessHash(),
		VirtualSize: vsize,
		Fee:         int64(fee),
		FeeDelta:    int64(delta),
		Sequence:    mp.graph.NextSequence(),
		Added:       time.Now(),
	}
	if err := mp.graph.Add(tx, desc); err != nil {
		// Duplicates and conflicts are caught above, so a graph error
		// here means the candidate raced with itself within a package;
		// surface it as a missing input.
		return nil, ruleError(ErrMissingInputs, err.Error())
	}

	mp.touchLastUpdated()
	log.Debugf("Accepted transaction %v (pool size: %d, bytes: %d)",
		txHash, mp.graph.Count(), mp.graph.TotalVirtualSize())

	return desc, nil
}

// ProcessTransaction attempts to admit a single free-standing transaction.
// On success the entry is inserted, the size cap enforced, and the caller's
// relay queue fed. If cap enforcement immediately evicts the new entry the
// admission fails with ErrPoolFull.
func (mp *TxPool) ProcessTransaction(tx *btcutil.Tx) (*txgraph.TxDesc, error) {
	mp.mtx.Lock()
	desc, err := mp.maybeAcceptLocked(tx, false)
	if err != nil {
		mp.mtx.Unlock()
		return nil, err
	}

	evicted := mp.enforceCapLocked()
	mp.mtx.Unlock()

	mp.notifyRemoved(evicted, RemovalReasonEvicted)

	for _, victim := range evicted {
		if victim.TxHash == desc.TxHash {
			str := fmt.Sprintf("transaction %v was evicted "+
				"immediately by the size cap", desc.TxHash)
			return nil, ruleError(ErrPoolFull, str)
		}
	}

	mp.sendNotification(NTTxAccepted, desc)
	if mp.cfg.RelayQueue != nil {
		mp.cfg.RelayQueue.Enqueue(desc.WitnessHash)
	}

	return desc, nil
}

// RemoveTransaction removes the given transaction and all of its descendants
// from the pool, returning the removed descriptors. Spending a removed output
// is invalid, hence the cascade. The fee ledger is not touched.
func (mp *TxPool) RemoveTransaction(txHash chainhash.Hash) []*txgraph.TxDesc {
	mp.mtx.Lock()
	removed, err := mp.graph.Remove(txHash)
	if err != nil {
		mp.mtx.Unlock()
		return nil
	}
	// An empty pool no longer needs an escalated admission floor.
	if mp.graph.Count() == 0 {
		mp.ledger.ResetToFloor()
	}
	mp.touchLastUpdated()
	mp.mtx.Unlock()

	descs := make([]*txgraph.TxDesc, 0, len(removed))
	for _, node := range removed {
		descs = append(descs, node.Desc)
		reason := RemovalReasonCascade
		if node.TxHash == txHash {
			reason = RemovalReasonExplicit
		}
		mp.sendNotification(NTTxRemoved, &TxRemovedData{
			TxHash: node.TxHash,
			Reason: reason,
		})
	}
	return descs
}

// Clear drops every pool entry and resets the admission floor to the network
// relay floor. Besides the pool draining to empty, this is the only path that
// lowers the pool minimum fee rate.
func (mp *TxPool) Clear() {
	mp.mtx.Lock()
	mp.graph = txgraph.New()
	mp.deltas = make(map[chainhash.Hash]btcutil.Amount)
	mp.ledger.ResetToFloor()
	mp.touchLastUpdated()
	mp.mtx.Unlock()

	log.Infof("Transaction pool cleared")
}

// PrioritiseTransaction registers a fee delta for the given transaction. The
// delta participates in every future fee rate comparison, enabling operators
// to get zero-fee transactions admitted. Deltas may be registered before the
// transaction is ever seen; for resident entries the dependency aggregates
// are adjusted immediately. Prior admission decisions are not revisited.
func (mp *TxPool) PrioritiseTransaction(txHash chainhash.Hash, feeDelta btcutil.Amount) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	mp.deltas[txHash] += feeDelta
	if err := mp.graph.AdjustFee(txHash, int64(feeDelta)); err == nil {
		log.Debugf("Prioritised resident transaction %v by %d", txHash,
			feeDelta)
	}
}

// notifyRemoved emits NTTxRemoved for a batch of evicted nodes.
func (mp *TxPool) notifyRemoved(nodes []*txgraph.TxNode, reason RemovalReason) {
	for _, node := range nodes {
		mp.sendNotification(NTTxRemoved, &TxRemovedData{
			TxHash: node.TxHash,
			Reason: reason,
		})
	}
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.graph.Count()
}

// TotalVirtualBytes returns the aggregate virtual size of all pool entries.
//
// This function is safe for concurrent access.
func (mp *TxPool) TotalVirtualBytes() int64 {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.graph.TotalVirtualSize()
}

// HaveTransaction returns whether the passed transaction exists in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(txHash chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.graph.Has(txHash)
}

// TxHashes returns the identifiers of every pool entry.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []chainhash.Hash {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	hashes := make([]chainhash.Hash, 0, mp.graph.Count())
	mp.graph.ForEach(func(node *txgraph.TxNode) bool {
		hashes = append(hashes, node.TxHash)
		return true
	})
	return hashes
}

// FetchTransaction returns the requested transaction from the pool, or an
// error when it is not resident.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash chainhash.Hash) (*btcutil.Tx, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if node, ok := mp.graph.Node(txHash); ok {
		return node.Tx, nil
	}
	return nil, fmt.Errorf("transaction %v is not in the pool", txHash)
}

// Entry returns the caller-facing view of a pool entry including its
// dependency aggregates.
//
// This function is safe for concurrent access.
func (mp *TxPool) Entry(txHash chainhash.Hash) (*EntryInfo, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	node, ok := mp.graph.Node(txHash)
	if !ok {
		return nil, fmt.Errorf("transaction %v is not in the pool", txHash)
	}
	return entryInfo(node), nil
}

// entryInfo converts a graph node into the exported view.
func entryInfo(node *txgraph.TxNode) *EntryInfo {
	return &EntryInfo{
		TxHash:          node.TxHash,
		WitnessHash:     node.Desc.WitnessHash,
		VirtualSize:     node.Desc.VirtualSize,
		Fee:             btcutil.Amount(node.Desc.Fee),
		FeeDelta:        btcutil.Amount(node.Desc.FeeDelta),
		FeeRate:         node.Desc.FeeRate(),
		Added:           node.Desc.Added,
		Sequence:        node.Desc.Sequence,
		AncestorStats:   node.AncestorStats,
		DescendantStats: node.DescendantStats,
	}
}

// Ancestors returns the full transitive ancestor set of a pool entry.
//
// This function is safe for concurrent access.
func (mp *TxPool) Ancestors(txHash chainhash.Hash) ([]*EntryInfo, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	nodes, err := mp.graph.Ancestors(txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction %v is not in the pool", txHash)
	}
	infos := make([]*EntryInfo, 0, len(nodes))
	for _, node := range nodes {
		infos = append(infos, entryInfo(node))
	}
	return infos, nil
}

// Descendants returns the full transitive descendant set of a pool entry.
//
// This function is safe for concurrent access.
func (mp *TxPool) Descendants(txHash chainhash.Hash) ([]*EntryInfo, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	nodes, err := mp.graph.Descendants(txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction %v is not in the pool", txHash)
	}
	infos := make([]*EntryInfo, 0, len(nodes))
	for _, node := range nodes {
		infos = append(infos, entryInfo(node))
	}
	return infos, nil
}

// Info reports the aggregate pool state.
//
// This function is safe for concurrent access.
func (mp *TxPool) Info() PoolInfo {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	return PoolInfo{
		MinRelayTxFee: mp.ledger.MinRelayTxFee(),
		PoolMinFee:    mp.ledger.PoolMinFee(),
		Bytes:         mp.graph.TotalVirtualSize(),
		MaxBytes:      mp.cfg.Policy.MaxPoolSizeBytes,
		Count:         mp.graph.Count(),
	}
}

// CheckSpend returns the pool transaction spending the given outpoint, if
// any.
//
// This function is safe for concurrent access.
func (mp *TxPool) CheckSpend(op wire.OutPoint) *btcutil.Tx {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if node, ok := mp.graph.Spender(op); ok {
		return node.Tx
	}
	return nil
}
