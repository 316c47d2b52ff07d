// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxoset

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/wire"
)

// encodeElement serializes one unspent output into the byte string committed
// to the set accumulator:
//
//	outpoint (32-byte txid || uint32 LE index) ||
//	int32 LE (2*height + coinbaseFlag) ||
//	txout (int64 LE value || varint script length || script)
//
// Packing the coinbase flag into the height's low bit matches the on-disk
// coin serialization, so two outputs differing only in coinbase provenance
// commit differently.
func encodeElement(op wire.OutPoint, height int32, coinbase bool, txOut *wire.TxOut) []byte {
	var buf bytes.Buffer
	buf.Grow(32 + 4 + 4 + 8 + wire.VarIntSerializeSize(
		uint64(len(txOut.PkScript))) + len(txOut.PkScript))

	buf.Write(op.Hash[:])

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], op.Index)
	buf.Write(scratch[:])

	code := height << 1
	if coinbase {
		code |= 1
	}
	binary.LittleEndian.PutUint32(scratch[:], uint32(code))
	buf.Write(scratch[:])

	// bytes.Buffer writes cannot fail.
	if err := wire.WriteTxOut(&buf, 0, 0, txOut); err != nil {
		panic(err)
	}

	return buf.Bytes()
}
