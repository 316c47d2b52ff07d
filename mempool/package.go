// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/soitun/xaya/mempool/txgraph"
)

// TxResult holds the result of attempting to accept a single transaction
// within a package.
type TxResult struct {
	// TxHash is the transaction hash (txid).
	TxHash chainhash.Hash

	// WitnessHash is the witness transaction ID; package results are
	// keyed by it.
	WitnessHash chainhash.Hash

	// VirtualSize is the virtual size in vbytes.
	VirtualSize int64

	// Fee is the base transaction fee in satoshis, excluding any
	// prioritisation delta.
	Fee btcutil.Amount

	// EffectiveFeeRate is the fee rate, in satoshis per kilo-vbyte, the
	// admission decision was based on: the individual modified rate for
	// transactions that clear the floor on their own, or the aggregate
	// rate of the dependency group that carried them.
	EffectiveFeeRate int64

	// EffectiveIncludes lists the witness hashes whose fees and sizes
	// make up EffectiveFeeRate, in submission order. For individually
	// cleared transactions it contains only the transaction itself.
	EffectiveIncludes []chainhash.Hash

	// Accepted indicates whether the transaction entered the pool.
	Accepted bool

	// Err carries the rejection reason when Accepted is false.
	Err error
}

// PackageResult holds the per-transaction outcomes and aggregate statistics
// of a package submission.
type PackageResult struct {
	// Msg is "success" when every member was processed successfully,
	// otherwise a summary of the failure counts.
	Msg string

	// TxResults maps each member's witness hash to its individual result.
	TxResults map[chainhash.Hash]*TxResult

	// TotalFees is the sum of base fees of accepted members.
	TotalFees btcutil.Amount

	// TotalVSize is the sum of virtual sizes of accepted members.
	TotalVSize int64

	// PackageFeeRate is TotalFees/TotalVSize in satoshis per kilo-vbyte.
	PackageFeeRate int64

	// AcceptedCount and RejectedCount partition the package members.
	AcceptedCount int
	RejectedCount int
}

// packageCandidate carries the per-member state threaded through validation.
type packageCandidate struct {
	tx     *btcutil.Tx
	txHash chainhash.Hash
	wtxid  chainhash.Hash

	vsize       int64
	fee         btcutil.Amount
	modifiedFee int64

	// packageParents indexes the package members this candidate spends.
	packageParents []int

	inPool   bool
	cleared  bool
	admitted bool
	desc     *txgraph.TxDesc
}

// ProcessPackage validates and admits a batch of interdependent transactions
// atomically per dependency group. The package must be topologically ordered:
// a child must not precede a parent it spends. Structural defects (duplicate
// members, forward references, two members claiming the same output,
// unresolved external inputs, oversized packages) reject the package as a
// whole with ErrPackageInvalid.
//
// Members whose modified fee rate clears the pool minimum on their own are
// admitted individually. The rest are partitioned into connected dependency
// groups whose aggregate rate must clear the minimum; a group that fails is
// rejected in full with ErrPackageFeeTooLow reported against every member.
// The grouping is deterministic: the entire connected component of
// not-individually-cleared members is evaluated together, with no search for
// smaller qualifying subsets.
func (mp *TxPool) ProcessPackage(txs []*btcutil.Tx) (*PackageResult, error) {
	if len(txs) == 0 {
		return nil, ruleError(ErrPackageInvalid, "empty package")
	}
	if len(txs) > MaxPackageCount {
		str := fmt.Sprintf("package of %d transactions exceeds the "+
			"maximum of %d", len(txs), MaxPackageCount)
		return nil, ruleError(ErrPackageInvalid, str)
	}

	mp.mtx.Lock()

	candidates, err := mp.preparePackageLocked(txs)
	if err != nil {
		mp.mtx.Unlock()
		return nil, err
	}

	result := &PackageResult{
		Msg:       "success",
		TxResults: make(map[chainhash.Hash]*TxResult, len(candidates)),
	}
	for i := range candidates {
		c := &candidates[i]
		result.TxResults[c.wtxid] = &TxResult{
			TxHash:      c.txHash,
			WitnessHash: c.wtxid,
			VirtualSize: c.vsize,
			Fee:         c.fee,
		}
	}

	minRate := mp.ledger.PoolMinFee()

	// Phase one: members clearing the floor on their own, with every
	// package parent itself cleared (or resident), stand alone.
	for i := range candidates {
		c := &candidates[i]
		if c.inPool {
			res := result.TxResults[c.wtxid]
			res.Err = ruleError(ErrAlreadyInPool, fmt.Sprintf(
				"transaction %v already exists in the pool",
				c.txHash))
			result.RejectedCount++
			continue
		}

		parentsCleared := true
		for _, j := range c.packageParents {
			p := &candidates[j]
			if !p.cleared && !p.inPool {
				parentsCleared = false
				break
			}
		}
		if parentsCleared && meetsFeeRate(c.modifiedFee, c.vsize, minRate) {
			c.cleared = true
			res := result.TxResults[c.wtxid]
			res.EffectiveFeeRate = feeRatePerKvB(c.modifiedFee, c.vsize)
			res.EffectiveIncludes = []chainhash.Hash{c.wtxid}
		}
	}

	// Phase two: the remaining members are grouped into connected
	// components along intra-package dependency edges and evaluated by
	// aggregate modified fee rate. Child-pays-for-parent in one direction,
	// parent-drags-child in the other.
	groups := groupRemaining(candidates)
	for _, group := range groups {
		var groupFee, groupVSize int64
		includes := make([]chainhash.Hash, 0, len(group))
		for _, i := range group {
			groupFee += candidates[i].modifiedFee
			groupVSize += candidates[i].vsize
			includes = append(includes, candidates[i].wtxid)
		}

		if meetsFeeRate(groupFee, groupVSize, minRate) {
			rate := feeRatePerKvB(groupFee, groupVSize)
			for _, i := range group {
				candidates[i].cleared = true
				res := result.TxResults[candidates[i].wtxid]
				res.EffectiveFeeRate = rate
				res.EffectiveIncludes = includes
			}
			continue
		}

		str := fmt.Sprintf("package group of %d transactions pays %d "+
			"sat/kvB which is below the pool minimum of %d sat/kvB",
			len(group), feeRatePerKvB(groupFee, groupVSize), minRate)
		for _, i := range group {
			res := result.TxResults[candidates[i].wtxid]
			res.Err = ruleError(ErrPackageFeeTooLow, str)
			result.RejectedCount++
		}
	}

	// Admission, parents before children by submission order. Each group
	// that cleared is admitted in full; the individual floor check is
	// waived since the group already cleared it in aggregate.
	var accepted []*packageCandidate
	for i := range candidates {
		c := &candidates[i]
		if !c.cleared {
			continue
		}
		desc, err := mp.maybeAcceptLocked(c.tx, true)
		if err != nil {
			res := result.TxResults[c.wtxid]
			res.Err = err
			result.RejectedCount++
			continue
		}
		c.admitted = true
		c.desc = desc
		res := result.TxResults[c.wtxid]
		res.Accepted = true
		result.AcceptedCount++
		result.TotalFees += c.fee
		result.TotalVSize += c.vsize
		accepted = append(accepted, c)
	}

	evicted := mp.enforceCapLocked()
	mp.mtx.Unlock()

	// Members the trim threw straight back out count as pool-full
	// rejections, not acceptances.
	evictedSet := make(map[chainhash.Hash]struct{}, len(evicted))
	for _, node := range evicted {
		evictedSet[node.TxHash] = struct{}{}
	}
	for _, c := range accepted {
		if _, gone := evictedSet[c.txHash]; !gone {
			continue
		}
		res := result.TxResults[c.wtxid]
		res.Accepted = false
		res.Err = ruleError(ErrPoolFull, fmt.Sprintf(
			"transaction %v was evicted immediately by the size cap",
			c.txHash))
		result.AcceptedCount--
		result.RejectedCount++
		result.TotalFees -= c.fee
		result.TotalVSize -= c.vsize
		c.admitted = false
	}

	mp.notifyRemoved(evicted, RemovalReasonEvicted)
	for _, c := range accepted {
		if !c.admitted {
			continue
		}
		mp.sendNotification(NTTxAccepted, c.desc)
		if mp.cfg.RelayQueue != nil {
			mp.cfg.RelayQueue.Enqueue(c.wtxid)
		}
	}

	result.PackageFeeRate = feeRatePerKvB(int64(result.TotalFees),
		result.TotalVSize)
	if result.RejectedCount > 0 {
		result.Msg = fmt.Sprintf("%d transaction(s) accepted, %d rejected",
			result.AcceptedCount, result.RejectedCount)
	}

	log.Debugf("Package processed: %s", result.Msg)

	return result, nil
}

// preparePackageLocked validates package structure and precomputes fees,
// sizes and intra-package dependency edges.
//
// This function MUST be called with the pool lock held (for reads).
func (mp *TxPool) preparePackageLocked(txs []*btcutil.Tx) ([]packageCandidate, error) {
	candidates := make([]packageCandidate, len(txs))
	indexOf := make(map[chainhash.Hash]int, len(txs))

	for i, tx := range txs {
		txHash := *tx.Hash()
		if _, dup := indexOf[txHash]; dup {
			str := fmt.Sprintf("package contains duplicate "+
				"transaction %v", txHash)
			return nil, ruleError(ErrPackageInvalid, str)
		}
		indexOf[txHash] = i
		candidates[i] = packageCandidate{
			tx:     tx,
			txHash: txHash,
			wtxid:  *tx.WitnessHash(),
			vsize:  GetTxVirtualSize(tx),
			inPool: mp.graph.Has(txHash),
		}
	}

	// Outpoints claimed by earlier candidates; two members spending the
	// same output can never both confirm, so such a package is malformed
	// and must not contribute a doomed member to any group's aggregate.
	claimed := make(map[wire.OutPoint]chainhash.Hash, len(txs))

	for i, tx := range txs {
		c := &candidates[i]
		if c.inPool {
			if node, ok := mp.graph.Node(c.txHash); ok {
				c.fee = btcutil.Amount(node.Desc.Fee)
			}
			continue
		}

		var totalIn btcutil.Amount
		parentSeen := make(map[int]struct{})
		for _, txIn := range tx.MsgTx().TxIn {
			op := txIn.PreviousOutPoint

			if prev, spent := claimed[op]; spent {
				str := fmt.Sprintf("output %v is spent by both "+
					"package transactions %v and %v", op,
					prev, c.txHash)
				return nil, ruleError(ErrPackageInvalid, str)
			}
			claimed[op] = c.txHash

			if j, ok := indexOf[op.Hash]; ok {
				if j >= i {
					str := fmt.Sprintf("transaction %v "+
						"spends %v which does not "+
						"precede it in the package",
						c.txHash, op.Hash)
					return nil, ruleError(ErrPackageInvalid, str)
				}
				outputs := txs[j].MsgTx().TxOut
				if op.Index >= uint32(len(outputs)) {
					str := fmt.Sprintf("transaction %v "+
						"spends nonexistent output %v",
						c.txHash, op)
					return nil, ruleError(ErrPackageInvalid, str)
				}
				totalIn += btcutil.Amount(outputs[op.Index].Value)
				if _, seen := parentSeen[j]; !seen {
					parentSeen[j] = struct{}{}
					c.packageParents = append(c.packageParents, j)
				}
				continue
			}

			if spender, ok := mp.graph.Spender(op); ok {
				str := fmt.Sprintf("package input %v is "+
					"already spent by pool transaction %v",
					op, spender.TxHash)
				return nil, ruleError(ErrPackageInvalid, str)
			}
			if parent, ok := mp.graph.Node(op.Hash); ok {
				outputs := parent.Tx.MsgTx().TxOut
				if op.Index >= uint32(len(outputs)) {
					str := fmt.Sprintf("package input %v "+
						"does not exist", op)
					return nil, ruleError(ErrPackageInvalid, str)
				}
				totalIn += btcutil.Amount(outputs[op.Index].Value)
				continue
			}
			if value, ok := mp.cfg.UtxoSource.FetchUtxoValue(op); ok {
				totalIn += value
				continue
			}

			str := fmt.Sprintf("package input %v is neither "+
				"confirmed, in the pool, nor provided by the "+
				"package", op)
			return nil, ruleError(ErrPackageInvalid, str)
		}

		var totalOut btcutil.Amount
		for _, txOut := range tx.MsgTx().TxOut {
			totalOut += btcutil.Amount(txOut.Value)
		}
		c.fee = totalIn - totalOut
		c.modifiedFee = int64(c.fee + mp.deltas[c.txHash])
	}

	return candidates, nil
}

// groupRemaining partitions the candidates that neither cleared individually
// nor already reside in the pool into connected components along
// intra-package dependency edges. Components are emitted ordered by their
// earliest member, members in submission order.
func groupRemaining(candidates []packageCandidate) [][]int {
	n := len(candidates)
	remaining := func(i int) bool {
		return !candidates[i].cleared && !candidates[i].inPool
	}

	// Undirected adjacency restricted to remaining members.
	adj := make([][]int, n)
	for i := range candidates {
		if !remaining(i) {
			continue
		}
		for _, j := range candidates[i].packageParents {
			if remaining(j) {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	visited := make([]bool, n)
	var groups [][]int
	for i := 0; i < n; i++ {
		if !remaining(i) || visited[i] {
			continue
		}
		var member []int
		stack := []int{i}
		visited[i] = true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			member = append(member, cur)
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		// Submission order within the group keeps effective-includes
		// deterministic.
		sort.Ints(member)
		groups = append(groups, member)
	}
	return groups
}
