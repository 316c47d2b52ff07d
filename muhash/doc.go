// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package muhash implements MuHash3072, an order-independent homomorphic hash
over sets of byte strings.

Elements map onto a 3072-bit multiplicative ring; inserting multiplies the
element in and removing divides it out, so the digest depends only on the
final set membership and incremental maintenance across arbitrary
insert/remove sequences is exact. The construction and constants match the
MuHash3072 used for UTXO set hashing, making digests comparable across
implementations.
*/
package muhash
