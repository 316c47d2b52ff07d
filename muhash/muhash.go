// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package muhash

import (
	"math/big"

	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/chacha20"
)

const (
	// ElementByteLen is the length of the expanded representation of a set
	// element in bytes (3072 bits).
	ElementByteLen = 384
)

// modulus is the ring modulus 2^3072 - 1103717. The value is the same safe
// composite used by Bitcoin Core's MuHash3072, chosen so that the multiplicative
// group is large enough to make forging a colliding accumulator state
// computationally infeasible.
var modulus *big.Int

// one is the multiplicative identity of the ring, shared read-only.
var one = big.NewInt(1)

func init() {
	modulus = new(big.Int).Lsh(one, 3072)
	modulus.Sub(modulus, big.NewInt(1103717))
}

// MuHash tracks an order-independent multiplicative hash over a set of byte
// strings. Inserting an element multiplies its ring representation into a
// running numerator while removing an element multiplies it into a running
// denominator, so insert and remove are exact inverses and the final digest
// depends only on set membership, never on operation order.
//
// The zero value is not usable; construct instances with New.
//
// MuHash is not safe for concurrent mutation. Digest and Equal only read the
// state and may be called concurrently as long as no mutation is in progress.
type MuHash struct {
	numerator   *big.Int
	denominator *big.Int
}

// New returns a MuHash representing the empty set.
func New() *MuHash {
	return &MuHash{
		numerator:   new(big.Int).Set(one),
		denominator: new(big.Int).Set(one),
	}
}

// elementToNum maps arbitrary bytes onto the ring. The data is first hashed
// with SHA-256 which then keys a ChaCha20 stream that deterministically
// expands it to 3072 bits, interpreted as a little-endian unsigned integer.
// The two-stage construction domain separates raw element bytes from the ring
// representation and makes finding two encodings with the same ring value as
// hard as breaking the underlying primitives.
func elementToNum(data []byte) *big.Int {
	key := sha256.Sum256(data)

	var nonce [chacha20.NonceSize]byte
	stream, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed at compile time, so this can
		// only indicate memory corruption.
		panic(err)
	}

	buf := make([]byte, ElementByteLen)
	stream.XORKeyStream(buf, buf)

	// big.Int wants big-endian bytes while the stream is interpreted as
	// little-endian, so reverse in place.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	n := new(big.Int).SetBytes(buf)
	return n.Mod(n, modulus)
}

// Insert adds the element represented by the given bytes to the set.
func (m *MuHash) Insert(data []byte) {
	m.numerator.Mul(m.numerator, elementToNum(data))
	m.numerator.Mod(m.numerator, modulus)
}

// Remove deletes the element represented by the given bytes from the set.
// Removing an element that was never inserted produces a state that will not
// match any honestly-computed set digest; callers are responsible for only
// removing elements they previously inserted.
func (m *MuHash) Remove(data []byte) {
	m.denominator.Mul(m.denominator, elementToNum(data))
	m.denominator.Mod(m.denominator, modulus)
}

// normalized returns numerator/denominator mod modulus without mutating the
// receiver, so that digests may be computed concurrently with other reads.
func (m *MuHash) normalized() *big.Int {
	result := new(big.Int).ModInverse(m.denominator, modulus)
	result.Mul(result, m.numerator)
	return result.Mod(result, modulus)
}

// Digest derives the fixed-length commitment to the current set. The ring
// state is serialized as 3072 little-endian bits and hashed with SHA-256.
// The result only depends on which elements are currently members of the set.
func (m *MuHash) Digest() chainhash.Hash {
	var buf [ElementByteLen]byte
	m.normalized().FillBytes(buf[:])

	// FillBytes produces big-endian bytes; the committed serialization is
	// little-endian.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return chainhash.Hash(sha256.Sum256(buf[:]))
}

// Equal reports whether both accumulators commit to the same set.
func (m *MuHash) Equal(other *MuHash) bool {
	return m.normalized().Cmp(other.normalized()) == 0
}

// Clone returns an independent copy of the accumulator state.
func (m *MuHash) Clone() *MuHash {
	return &MuHash{
		numerator:   new(big.Int).Set(m.numerator),
		denominator: new(big.Int).Set(m.denominator),
	}
}

// Reset returns the accumulator to the empty set.
func (m *MuHash) Reset() {
	m.numerator.Set(one)
	m.denominator.Set(one)
}
