// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txgraph

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTransactionExists is returned when attempting to add a duplicate
	// transaction.
	ErrTransactionExists = errors.New("transaction already exists in graph")

	// ErrNodeNotFound is returned when a node is not found in the graph.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrOutputSpent is returned when attempting to add a transaction that
	// spends an output already consumed by another graph transaction.
	ErrOutputSpent = errors.New("output already spent within graph")
)

// TxDesc contains the pool-relevant metadata of a graph transaction.
type TxDesc struct {
	// TxHash is the transaction identifier used for graph lookups.
	TxHash chainhash.Hash

	// WitnessHash is the witness transaction identifier, reported back to
	// package submitters.
	WitnessHash chainhash.Hash

	// VirtualSize is the weight-derived size used as the fee rate
	// denominator and for pool byte accounting.
	VirtualSize int64

	// Fee is the absolute fee in satoshis paid by the transaction.
	Fee int64

	// FeeDelta is the operator-applied prioritisation adjustment. It is
	// added to Fee for every fee rate comparison but never relayed.
	FeeDelta int64

	// Sequence records admission order and breaks ties between entries
	// with identical fee rates.
	Sequence uint64

	// Added is the time the transaction entered the pool.
	Added time.Time
}

// ModifiedFee returns the fee used for policy comparisons, including any
// prioritisation delta.
func (d *TxDesc) ModifiedFee() int64 {
	return d.Fee + d.FeeDelta
}

// FeeRate returns the modified fee rate in satoshis per kilo-vbyte.
func (d *TxDesc) FeeRate() int64 {
	if d.VirtualSize <= 0 {
		return 0
	}
	return d.ModifiedFee() * 1000 / d.VirtualSize
}

// AggregateStats accumulates count, virtual size and modified fee over a
// node's ancestor or descendant set, in both cases including the node itself.
type AggregateStats struct {
	Count       int64
	VirtualSize int64
	Fee         int64
}

// add accumulates another transaction into the stats.
func (s *AggregateStats) add(d *TxDesc) {
	s.Count++
	s.VirtualSize += d.VirtualSize
	s.Fee += d.ModifiedFee()
}

// subtract removes a previously accumulated transaction from the stats.
func (s *AggregateStats) subtract(d *TxDesc) {
	s.Count--
	s.VirtualSize -= d.VirtualSize
	s.Fee -= d.ModifiedFee()
}

// FeeRate returns the aggregate modified fee rate in satoshis per kilo-vbyte.
func (s *AggregateStats) FeeRate() int64 {
	if s.VirtualSize <= 0 {
		return 0
	}
	return s.Fee * 1000 / s.VirtualSize
}

// TxNode is a transaction vertex together with its relationship edges and
// materialized aggregates.
type TxNode struct {
	// TxHash enables O(1) lookups in maps without dereferencing Tx.
	TxHash chainhash.Hash

	// Tx provides access to inputs and outputs for edge creation and for
	// resolving in-pool parent output values.
	Tx *btcutil.Tx

	// Desc stores fee and size information needed for policy decisions.
	Desc *TxDesc

	// Parents maps to transactions whose outputs this transaction spends.
	Parents map[chainhash.Hash]*TxNode

	// Children maps to transactions spending this transaction's outputs.
	Children map[chainhash.Hash]*TxNode

	// AncestorStats aggregates this node plus its full transitive
	// ancestor set.
	AncestorStats AggregateStats

	// DescendantStats aggregates this node plus its full transitive
	// descendant set. The descendant-inclusive fee rate drives eviction
	// ordering.
	DescendantStats AggregateStats
}

// TxGraph tracks the unconfirmed transaction DAG. It is not safe for
// concurrent use; the owning pool provides synchronization.
type TxGraph struct {
	// nodes stores all transactions currently tracked, keyed by txid.
	nodes map[chainhash.Hash]*TxNode

	// spentBy maps an outpoint to the transaction spending it, enabling
	// O(1) conflict checks during admission.
	spentBy map[wire.OutPoint]*TxNode

	// totalVSize is the sum of virtual sizes of all nodes, maintained
	// incrementally so the pool byte cap check is O(1).
	totalVSize int64

	nextSequence uint64
}

// New returns an empty transaction graph.
func New() *TxGraph {
	return &TxGraph{
		nodes:        make(map[chainhash.Hash]*TxNode),
		spentBy:      make(map[wire.OutPoint]*TxNode),
		nextSequence: 1,
	}
}

// NextSequence reserves and returns the next admission sequence number.
func (g *TxGraph) NextSequence() uint64 {
	seq := g.nextSequence
	g.nextSequence++
	return seq
}

// Add inserts a transaction into the graph, linking it to every in-graph
// parent whose output it spends and updating the descendant aggregates of the
// full ancestor set. A new transaction is necessarily a leaf: nothing already
// in the graph can spend its outputs, so only ancestor-side aggregates change.
func (g *TxGraph) Add(tx *btcutil.Tx, desc *TxDesc) error {
	hash := *tx.Hash()
	if _, exists := g.nodes[hash]; exists {
		return ErrTransactionExists
	}

	for _, txIn := range tx.MsgTx().TxIn {
		if _, ok := g.spentBy[txIn.PreviousOutPoint]; ok {
			return ErrOutputSpent
		}
	}

	node := &TxNode{
		TxHash:   hash,
		Tx:       tx,
		Desc:     desc,
		Parents:  make(map[chainhash.Hash]*TxNode),
		Children: make(map[chainhash.Hash]*TxNode),
	}
	node.AncestorStats.add(desc)
	node.DescendantStats.add(desc)

	for _, txIn := range tx.MsgTx().TxIn {
		if parent, ok := g.nodes[txIn.PreviousOutPoint.Hash]; ok {
			node.Parents[parent.TxHash] = parent
			parent.Children[hash] = node
		}
	}

	for _, anc := range g.ancestorSet(node) {
		node.AncestorStats.add(anc.Desc)
		anc.DescendantStats.add(desc)
	}

	for _, txIn := range tx.MsgTx().TxIn {
		g.spentBy[txIn.PreviousOutPoint] = node
	}

	g.nodes[hash] = node
	g.totalVSize += desc.VirtualSize

	return nil
}

// Remove deletes the given transaction and, transitively, every descendant
// that would otherwise spend a removed output. The removed nodes are returned.
// Descendant aggregates of surviving ancestors are decremented for every
// removed node; no surviving node can have a removed ancestor because the
// removal set is descendant-closed.
func (g *TxGraph) Remove(hash chainhash.Hash) ([]*TxNode, error) {
	node, exists := g.nodes[hash]
	if !exists {
		return nil, ErrNodeNotFound
	}

	removed := map[chainhash.Hash]*TxNode{hash: node}
	for _, desc := range g.descendantSet(node) {
		removed[desc.TxHash] = desc
	}

	result := make([]*TxNode, 0, len(removed))
	for _, victim := range removed {
		for _, anc := range g.ancestorSet(victim) {
			if _, gone := removed[anc.TxHash]; !gone {
				anc.DescendantStats.subtract(victim.Desc)
			}
		}
		result = append(result, victim)
	}

	for _, victim := range removed {
		for _, parent := range victim.Parents {
			delete(parent.Children, victim.TxHash)
		}
		for _, txIn := range victim.Tx.MsgTx().TxIn {
			if g.spentBy[txIn.PreviousOutPoint] == victim {
				delete(g.spentBy, txIn.PreviousOutPoint)
			}
		}
		delete(g.nodes, victim.TxHash)
		g.totalVSize -= victim.Desc.VirtualSize
	}

	return result, nil
}

// AdjustFee applies a prioritisation delta to the transaction and to the
// aggregates of every node whose ancestor or descendant set contains it.
func (g *TxGraph) AdjustFee(hash chainhash.Hash, delta int64) error {
	node, exists := g.nodes[hash]
	if !exists {
		return ErrNodeNotFound
	}

	node.Desc.FeeDelta += delta
	node.AncestorStats.Fee += delta
	node.DescendantStats.Fee += delta

	for _, anc := range g.ancestorSet(node) {
		anc.DescendantStats.Fee += delta
	}
	for _, desc := range g.descendantSet(node) {
		desc.AncestorStats.Fee += delta
	}

	return nil
}

// Node retrieves a transaction node from the graph.
func (g *TxGraph) Node(hash chainhash.Hash) (*TxNode, bool) {
	node, exists := g.nodes[hash]
	return node, exists
}

// Has reports whether the transaction is tracked by the graph.
func (g *TxGraph) Has(hash chainhash.Hash) bool {
	_, exists := g.nodes[hash]
	return exists
}

// Spender returns the transaction spending the given outpoint, if any.
func (g *TxGraph) Spender(op wire.OutPoint) (*TxNode, bool) {
	node, exists := g.spentBy[op]
	return node, exists
}

// Ancestors returns the full transitive ancestor set of the transaction,
// excluding the transaction itself.
func (g *TxGraph) Ancestors(hash chainhash.Hash) (map[chainhash.Hash]*TxNode, error) {
	node, exists := g.nodes[hash]
	if !exists {
		return nil, ErrNodeNotFound
	}
	return g.ancestorSet(node), nil
}

// Descendants returns the full transitive descendant set of the transaction,
// excluding the transaction itself.
func (g *TxGraph) Descendants(hash chainhash.Hash) (map[chainhash.Hash]*TxNode, error) {
	node, exists := g.nodes[hash]
	if !exists {
		return nil, ErrNodeNotFound
	}
	return g.descendantSet(node), nil
}

// Count returns the number of transactions in the graph.
func (g *TxGraph) Count() int {
	return len(g.nodes)
}

// TotalVirtualSize returns the aggregate virtual size of all transactions.
func (g *TxGraph) TotalVirtualSize() int64 {
	return g.totalVSize
}

// ForEach invokes fn for every node until fn returns false. Iteration order
// is unspecified.
func (g *TxGraph) ForEach(fn func(*TxNode) bool) {
	for _, node := range g.nodes {
		if !fn(node) {
			return
		}
	}
}

// ancestorSet walks parent edges and collects every transitive ancestor.
func (g *TxGraph) ancestorSet(node *TxNode) map[chainhash.Hash]*TxNode {
	result := make(map[chainhash.Hash]*TxNode)
	stack := make([]*TxNode, 0, len(node.Parents))
	for _, parent := range node.Parents {
		stack = append(stack, parent)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := result[cur.TxHash]; seen {
			continue
		}
		result[cur.TxHash] = cur
		for _, parent := range cur.Parents {
			if _, seen := result[parent.TxHash]; !seen {
				stack = append(stack, parent)
			}
		}
	}
	return result
}

// descendantSet walks child edges and collects every transitive descendant.
func (g *TxGraph) descendantSet(node *TxNode) map[chainhash.Hash]*TxNode {
	result := make(map[chainhash.Hash]*TxNode)
	stack := make([]*TxNode, 0, len(node.Children))
	for _, child := range node.Children {
		stack = append(stack, child)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := result[cur.TxHash]; seen {
			continue
		}
		result[cur.TxHash] = cur
		for _, child := range cur.Children {
			if _, seen := result[child.TxHash]; !seen {
				stack = append(stack, child)
			}
		}
	}
	return result
}
