// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txgraph

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testTxSerial uniquifies generated transactions via the lock time field.
var testTxSerial uint32

// makeTx builds a minimal transaction spending the given outpoints with the
// requested number of outputs. Script contents are irrelevant to the graph.
func makeTx(spends []wire.OutPoint, numOutputs int) *btcutil.Tx {
	msg := wire.NewMsgTx(wire.TxVersion)
	for i := range spends {
		msg.AddTxIn(wire.NewTxIn(&spends[i], nil, nil))
	}
	for i := 0; i < numOutputs; i++ {
		msg.AddTxOut(wire.NewTxOut(int64(10000*(i+1)), []byte{0x51}))
	}
	testTxSerial++
	msg.LockTime = testTxSerial
	return btcutil.NewTx(msg)
}

// outpoint references the given output of a transaction.
func outpoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// confirmedOutpoint fabricates an outpoint that does not reference any graph
// transaction, standing in for a confirmed UTXO.
func confirmedOutpoint(tag byte) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = tag
	hash[31] = 0x7f
	return wire.OutPoint{Hash: hash, Index: 0}
}

// addTx inserts a transaction with the given fee and vsize, failing the test
// on error.
func addTx(t *testing.T, g *TxGraph, tx *btcutil.Tx, fee, vsize int64) *TxNode {
	t.Helper()

	err := g.Add(tx, &TxDesc{
		TxHash:      *tx.Hash(),
		WitnessHash: *tx.WitnessHash(),
		VirtualSize: vsize,
		Fee:         fee,
		Sequence:    g.NextSequence(),
		Added:       time.Now(),
	})
	require.NoError(t, err)

	node, ok := g.Node(*tx.Hash())
	require.True(t, ok)
	return node
}

// recomputeStats derives a node's aggregates from scratch by traversal,
// providing the ground truth the materialized stats must match.
func recomputeStats(t *testing.T, g *TxGraph, node *TxNode) (AggregateStats, AggregateStats) {
	t.Helper()

	var anc, desc AggregateStats
	anc.add(node.Desc)
	desc.add(node.Desc)

	ancestors, err := g.Ancestors(node.TxHash)
	require.NoError(t, err)
	for _, a := range ancestors {
		anc.add(a.Desc)
	}

	descendants, err := g.Descendants(node.TxHash)
	require.NoError(t, err)
	for _, d := range descendants {
		desc.add(d.Desc)
	}

	return anc, desc
}

// requireConsistent asserts that every node's materialized aggregates equal a
// fresh traversal.
func requireConsistent(t *testing.T, g *TxGraph) {
	t.Helper()

	g.ForEach(func(node *TxNode) bool {
		anc, desc := recomputeStats(t, g, node)
		require.Equal(t, anc, node.AncestorStats,
			"ancestor stats for %v", node.TxHash)
		require.Equal(t, desc, node.DescendantStats,
			"descendant stats for %v", node.TxHash)
		return true
	})
}

func TestAddLinksParentsAndAggregates(t *testing.T) {
	g := New()

	parent := makeTx([]wire.OutPoint{confirmedOutpoint(1)}, 2)
	parentNode := addTx(t, g, parent, 1000, 100)

	child := makeTx([]wire.OutPoint{outpoint(parent, 0)}, 1)
	childNode := addTx(t, g, child, 3000, 200)

	require.Contains(t, childNode.Parents, parentNode.TxHash)
	require.Contains(t, parentNode.Children, childNode.TxHash)

	require.Equal(t, AggregateStats{Count: 2, VirtualSize: 300, Fee: 4000},
		parentNode.DescendantStats)
	require.Equal(t, AggregateStats{Count: 2, VirtualSize: 300, Fee: 4000},
		childNode.AncestorStats)
	require.Equal(t, AggregateStats{Count: 1, VirtualSize: 100, Fee: 1000},
		parentNode.AncestorStats)
	require.Equal(t, int64(300), g.TotalVirtualSize())
}

func TestDuplicateAndConflictRejected(t *testing.T) {
	g := New()

	tx := makeTx([]wire.OutPoint{confirmedOutpoint(2)}, 1)
	addTx(t, g, tx, 1000, 100)

	err := g.Add(tx, &TxDesc{TxHash: *tx.Hash(), VirtualSize: 100})
	require.ErrorIs(t, err, ErrTransactionExists)

	conflict := makeTx([]wire.OutPoint{confirmedOutpoint(2)}, 1)
	err = g.Add(conflict, &TxDesc{TxHash: *conflict.Hash(), VirtualSize: 100})
	require.ErrorIs(t, err, ErrOutputSpent)
}

// TestDiamondAggregates exercises the diamond shape where two children of a
// common parent are both spent by a single grandchild. Every transaction must
// be counted exactly once in the aggregates.
func TestDiamondAggregates(t *testing.T) {
	g := New()

	root := makeTx([]wire.OutPoint{confirmedOutpoint(3)}, 2)
	rootNode := addTx(t, g, root, 1000, 100)

	left := makeTx([]wire.OutPoint{outpoint(root, 0)}, 1)
	addTx(t, g, left, 2000, 150)

	right := makeTx([]wire.OutPoint{outpoint(root, 1)}, 1)
	addTx(t, g, right, 3000, 250)

	tip := makeTx([]wire.OutPoint{outpoint(left, 0), outpoint(right, 0)}, 1)
	tipNode := addTx(t, g, tip, 4000, 300)

	require.Equal(t, AggregateStats{Count: 4, VirtualSize: 800, Fee: 10000},
		rootNode.DescendantStats)
	require.Equal(t, AggregateStats{Count: 4, VirtualSize: 800, Fee: 10000},
		tipNode.AncestorStats)
	requireConsistent(t, g)
}

func TestRemoveCascades(t *testing.T) {
	g := New()

	root := makeTx([]wire.OutPoint{confirmedOutpoint(4)}, 2)
	rootNode := addTx(t, g, root, 1000, 100)

	keep := makeTx([]wire.OutPoint{outpoint(root, 0)}, 1)
	addTx(t, g, keep, 2000, 150)

	evict := makeTx([]wire.OutPoint{outpoint(root, 1)}, 1)
	addTx(t, g, evict, 3000, 250)

	grandchild := makeTx([]wire.OutPoint{outpoint(evict, 0)}, 1)
	addTx(t, g, grandchild, 4000, 300)

	removed, err := g.Remove(*evict.Hash())
	require.NoError(t, err)
	require.Len(t, removed, 2)

	require.False(t, g.Has(*evict.Hash()))
	require.False(t, g.Has(*grandchild.Hash()))
	require.True(t, g.Has(*keep.Hash()))

	// The removed outputs must be spendable again.
	_, stillSpent := g.Spender(outpoint(root, 1))
	require.False(t, stillSpent)

	require.Equal(t, AggregateStats{Count: 2, VirtualSize: 250, Fee: 3000},
		rootNode.DescendantStats)
	require.Equal(t, int64(250), g.TotalVirtualSize())
	requireConsistent(t, g)
}

func TestAdjustFeePropagates(t *testing.T) {
	g := New()

	parent := makeTx([]wire.OutPoint{confirmedOutpoint(5)}, 1)
	parentNode := addTx(t, g, parent, 0, 100)

	child := makeTx([]wire.OutPoint{outpoint(parent, 0)}, 1)
	childNode := addTx(t, g, child, 5000, 200)

	require.NoError(t, g.AdjustFee(parentNode.TxHash, 10000))

	require.Equal(t, int64(10000), parentNode.Desc.ModifiedFee())
	require.Equal(t, int64(15000), parentNode.DescendantStats.Fee)
	require.Equal(t, int64(15000), childNode.AncestorStats.Fee)
	requireConsistent(t, g)

	err := g.AdjustFee(chainhash.Hash{0xde}, 1)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

// TestAggregateConsistencyRandomized builds random chains and fans and checks
// the materialized aggregates against traversal after every mutation batch.
func TestAggregateConsistencyRandomized(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := New()

		var pool []*btcutil.Tx
		numTxs := rapid.IntRange(1, 25).Draw(rt, "numTxs")
		for i := 0; i < numTxs; i++ {
			var spends []wire.OutPoint
			if len(pool) > 0 && rapid.Bool().Draw(rt, "spendPool") {
				pick := rapid.IntRange(0, len(pool)-1).Draw(rt, "pick")
				parent := pool[pick]
				idx := uint32(rapid.IntRange(0, len(parent.MsgTx().TxOut)-1).
					Draw(rt, "outIdx"))
				op := outpoint(parent, idx)
				if _, taken := g.Spender(op); !taken {
					spends = append(spends, op)
				}
			}
			spends = append(spends, confirmedOutpoint(byte(100+i)))

			tx := makeTx(spends, rapid.IntRange(1, 3).Draw(rt, "numOut"))
			fee := int64(rapid.IntRange(0, 100000).Draw(rt, "fee"))
			vsize := int64(rapid.IntRange(50, 5000).Draw(rt, "vsize"))
			err := g.Add(tx, &TxDesc{
				TxHash:      *tx.Hash(),
				WitnessHash: *tx.WitnessHash(),
				VirtualSize: vsize,
				Fee:         fee,
				Sequence:    g.NextSequence(),
			})
			if err != nil {
				rt.Fatalf("add failed: %v", err)
			}
			pool = append(pool, tx)
		}

		// Remove a few arbitrary entries, cascading descendants.
		removals := rapid.IntRange(0, len(pool)).Draw(rt, "removals")
		for i := 0; i < removals; i++ {
			victim := pool[rapid.IntRange(0, len(pool)-1).Draw(rt, "victim")]
			if g.Has(*victim.Hash()) {
				if _, err := g.Remove(*victim.Hash()); err != nil {
					rt.Fatalf("remove failed: %v", err)
				}
			}
		}

		g.ForEach(func(node *TxNode) bool {
			var anc, desc AggregateStats
			anc.add(node.Desc)
			desc.add(node.Desc)
			ancestors, _ := g.Ancestors(node.TxHash)
			for _, a := range ancestors {
				anc.add(a.Desc)
			}
			descendants, _ := g.Descendants(node.TxHash)
			for _, d := range descendants {
				desc.add(d.Desc)
			}
			if anc != node.AncestorStats {
				rt.Fatalf("ancestor stats drifted for %v: "+
					"have %+v want %+v", node.TxHash,
					node.AncestorStats, anc)
			}
			if desc != node.DescendantStats {
				rt.Fatalf("descendant stats drifted for %v: "+
					"have %+v want %+v", node.TxHash,
					node.DescendantStats, desc)
			}
			return true
		})
	})
}
