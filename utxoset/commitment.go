// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxoset maintains an order-independent cryptographic commitment to
// the set of unspent transaction outputs. Blocks feed the commitment
// incrementally as they connect and disconnect, and the incremental state can
// be audited at any time against a full snapshot of the set.
package utxoset

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/soitun/xaya/muhash"
)

var (
	// ErrCommitmentMismatch is returned by Verify when the incremental
	// commitment disagrees with one recomputed from a snapshot.
	ErrCommitmentMismatch = errors.New("utxo set commitment mismatch")

	// ErrCommitmentHalted is returned by mutating operations after a
	// failed verification, until the coordinator is reset.
	ErrCommitmentHalted = errors.New("utxo set commitment is halted")
)

// SpentTxOut houses the creation-time metadata of a spent output, journaled
// by the utxo model when a block connects so the spend can be replayed or
// undone.
type SpentTxOut struct {
	// Amount is the value of the output in satoshi.
	Amount int64

	// PkScript is the output script.
	PkScript []byte

	// Height is the height of the block containing the creating tx.
	Height int32

	// IsCoinBase tells whether the creating tx is a coinbase.
	IsCoinBase bool
}

// Entry is one unspent output as yielded by a set snapshot.
type Entry struct {
	OutPoint   wire.OutPoint
	Height     int32
	IsCoinBase bool
	Output     *wire.TxOut
}

// Snapshot iterates a stable view of the full unspent output set. Next
// returns nil once the snapshot is exhausted. The iteration order is the
// snapshot's canonical order and only matters for LegacyDigest.
type Snapshot interface {
	Next() (*Entry, error)
}

// CommitmentKind selects how a set commitment is computed.
type CommitmentKind int

const (
	// AccumulatorDigest is the digest of the incrementally maintained
	// multiplicative accumulator. Computing it needs no snapshot.
	AccumulatorDigest CommitmentKind = iota

	// LegacyDigest chains SHA-256 over every entry in snapshot order. It
	// exists for compatibility with external auditors and requires a full
	// snapshot on every call.
	LegacyDigest
)

// Config holds the coordinator knobs.
type Config struct {
	// IncludeGenesisCoinbase commits the genesis coinbase output like any
	// other. On this chain the genesis output is spendable, unlike the
	// upstream rule that leaves it out of the set.
	IncludeGenesisCoinbase bool
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{IncludeGenesisCoinbase: true}
}

// Coordinator maintains the incremental set commitment across block
// connection and disconnection. All mutations are serialized by an internal
// mutex; a verification failure halts further mutation until Reset.
type Coordinator struct {
	mtx    sync.Mutex
	cfg    Config
	acc    *muhash.MuHash
	halted bool
}

// New creates a coordinator committing to the empty set.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		acc: muhash.New(),
	}
}

// commits reports whether an output participates in the set commitment.
// The predicate is applied identically on insertion, removal and snapshot
// replay so the incremental state stays consistent.
func (c *Coordinator) commits(op wire.OutPoint, height int32, coinbase bool, pkScript []byte) bool {
	if txscript.IsUnspendable(pkScript) {
		return false
	}
	if coinbase && op.Index > 0 {
		return false
	}
	if coinbase && height == 0 && !c.cfg.IncludeGenesisCoinbase {
		return false
	}
	return true
}

// ConnectBlock folds a newly connected block into the commitment: outputs
// consumed by the block leave the set and outputs it creates enter it. The
// spent journal must hold one entry per non-coinbase input, in transaction
// then input order.
func (c *Coordinator) ConnectBlock(block *btcutil.Block, height int32, spent []SpentTxOut) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.halted {
		return ErrCommitmentHalted
	}
	if err := c.applyBlock(block, height, spent, false); err != nil {
		return err
	}

	log.Debugf("Connected block %v (height %d) into the set commitment",
		block.Hash(), height)
	return nil
}

// DisconnectBlock undoes ConnectBlock for the given block: created outputs
// leave the set and the journaled spent outputs re-enter it.
func (c *Coordinator) DisconnectBlock(block *btcutil.Block, height int32, spent []SpentTxOut) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.halted {
		return ErrCommitmentHalted
	}
	if err := c.applyBlock(block, height, spent, true); err != nil {
		return err
	}

	log.Debugf("Disconnected block %v (height %d) from the set commitment",
		block.Hash(), height)
	return nil
}

// applyBlock walks a block's consumed and created outputs, feeding them to
// the accumulator. With reverse set the insert/remove roles swap, which
// exactly undoes a prior forward application.
func (c *Coordinator) applyBlock(block *btcutil.Block, height int32, spent []SpentTxOut, reverse bool) error {
	// Validate the block shape and journal before touching the accumulator
	// so a bad call cannot leave a partially applied block behind.
	txns := block.Transactions()
	if len(txns) == 0 {
		return fmt.Errorf("block %v has no transactions", block.Hash())
	}
	numSpends := 0
	for _, tx := range txns[1:] {
		numSpends += len(tx.MsgTx().TxIn)
	}
	if numSpends != len(spent) {
		return fmt.Errorf("spent journal has %d entries for the %d "+
			"spends of block %v", len(spent), numSpends, block.Hash())
	}

	insert, remove := c.acc.Insert, c.acc.Remove
	if reverse {
		insert, remove = remove, insert
	}

	// Consumed outputs, paired with the journal in order.
	spentIdx := 0
	for _, tx := range txns[1:] {
		for _, txIn := range tx.MsgTx().TxIn {
			stxo := spent[spentIdx]
			spentIdx++

			op := txIn.PreviousOutPoint
			if !c.commits(op, stxo.Height, stxo.IsCoinBase, stxo.PkScript) {
				continue
			}
			remove(encodeElement(op, stxo.Height, stxo.IsCoinBase,
				wire.NewTxOut(stxo.Amount, stxo.PkScript)))
		}
	}

	// Created outputs.
	for txIdx, tx := range txns {
		coinbase := txIdx == 0
		for outIdx, txOut := range tx.MsgTx().TxOut {
			op := wire.OutPoint{
				Hash:  *tx.Hash(),
				Index: uint32(outIdx),
			}
			if !c.commits(op, height, coinbase, txOut.PkScript) {
				continue
			}
			insert(encodeElement(op, height, coinbase, txOut))
		}
	}

	return nil
}

// Commitment computes the requested commitment over the current set. The
// snapshot may be nil for AccumulatorDigest; LegacyDigest consumes it fully.
func (c *Coordinator) Commitment(kind CommitmentKind, snap Snapshot) (chainhash.Hash, error) {
	switch kind {
	case AccumulatorDigest:
		c.mtx.Lock()
		defer c.mtx.Unlock()
		return c.acc.Digest(), nil

	case LegacyDigest:
		if snap == nil {
			return chainhash.Hash{}, errors.New(
				"legacy digest requires a snapshot")
		}
		h := sha256.New()
		for {
			entry, err := snap.Next()
			if err != nil {
				return chainhash.Hash{}, err
			}
			if entry == nil {
				break
			}
			if !c.commits(entry.OutPoint, entry.Height,
				entry.IsCoinBase, entry.Output.PkScript) {

				continue
			}
			h.Write(encodeElement(entry.OutPoint, entry.Height,
				entry.IsCoinBase, entry.Output))
		}
		var digest chainhash.Hash
		copy(digest[:], h.Sum(nil))
		return digest, nil

	default:
		return chainhash.Hash{}, fmt.Errorf("unknown commitment kind %d",
			kind)
	}
}

// rebuild replays a snapshot into a fresh accumulator.
func (c *Coordinator) rebuild(snap Snapshot) (*muhash.MuHash, error) {
	fresh := muhash.New()
	for {
		entry, err := snap.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return fresh, nil
		}
		if !c.commits(entry.OutPoint, entry.Height, entry.IsCoinBase,
			entry.Output.PkScript) {

			continue
		}
		fresh.Insert(encodeElement(entry.OutPoint, entry.Height,
			entry.IsCoinBase, entry.Output))
	}
}

// Verify audits the incremental commitment against a full snapshot of the
// set. On disagreement the coordinator halts: every further ConnectBlock and
// DisconnectBlock fails with ErrCommitmentHalted until Reset succeeds, since
// continuing to mutate a known-bad commitment would only bury the disease.
func (c *Coordinator) Verify(snap Snapshot) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	fresh, err := c.rebuild(snap)
	if err != nil {
		return err
	}
	if !fresh.Equal(c.acc) {
		c.halted = true
		log.Criticalf("Utxo set commitment mismatch: incremental %v, "+
			"recomputed %v", c.acc.Digest(), fresh.Digest())
		return ErrCommitmentMismatch
	}

	log.Debugf("Utxo set commitment verified: %v", c.acc.Digest())
	return nil
}

// Reset rebuilds the commitment from a snapshot and lifts a halt.
func (c *Coordinator) Reset(snap Snapshot) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	fresh, err := c.rebuild(snap)
	if err != nil {
		return err
	}
	c.acc = fresh
	c.halted = false

	log.Infof("Utxo set commitment reset to %v", c.acc.Digest())
	return nil
}
