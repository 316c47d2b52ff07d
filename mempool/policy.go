// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	// DefaultMinRelayTxFee is the minimum fee in satoshi per kilo-vbyte
	// that is required for a transaction to be relayed. It doubles as the
	// floor the pool minimum fee rate resets to when the pool is cleared.
	DefaultMinRelayTxFee = btcutil.Amount(1000)

	// DefaultIncrementalRelayFee is the safety margin, in satoshi per
	// kilo-vbyte, added on top of an evicted group's fee rate when the
	// pool minimum is ratcheted upward. Without it, transactions paying
	// exactly the evicted rate would immediately refill the pool.
	DefaultIncrementalRelayFee = btcutil.Amount(1000)

	// MinPoolSizeBytes is the lowest allowed pool byte cap. Configurations
	// below this floor are rejected at startup since eviction could no
	// longer keep useful packages resident.
	MinPoolSizeBytes = 5 * 1000 * 1000

	// DefaultMaxPoolSizeBytes is the default pool byte cap.
	DefaultMaxPoolSizeBytes = 300 * 1000 * 1000

	// DefaultMaxDataCarrierSize is the default maximum size, in bytes,
	// of a non-value data carrier output accepted for relay. The limit is
	// consumed by the collaborator that computes virtual sizes before
	// candidates reach this pool; it is validated here because it ships
	// in the same startup policy block.
	DefaultMaxDataCarrierSize = 80

	// MaxPackageCount is the maximum number of transactions allowed in a
	// single submitted package.
	MaxPackageCount = 25
)

// Policy houses the configurable policy knobs of the pool. It is embedded in
// the pool Config and validated once at startup.
type Policy struct {
	// MinRelayTxFee is the network relay floor in satoshi per kilo-vbyte.
	// It is fixed for the lifetime of the node.
	MinRelayTxFee btcutil.Amount

	// IncrementalRelayFee is the ratchet margin applied when eviction
	// raises the pool minimum fee rate.
	IncrementalRelayFee btcutil.Amount

	// MaxPoolSizeBytes caps the aggregate virtual size of pool entries.
	MaxPoolSizeBytes int64

	// MaxDataCarrierSize bounds data carrier output sizes for the vsize
	// computing collaborator.
	MaxDataCarrierSize int
}

// DefaultPolicy returns the policy used when the operator supplies nothing.
func DefaultPolicy() Policy {
	return Policy{
		MinRelayTxFee:       DefaultMinRelayTxFee,
		IncrementalRelayFee: DefaultIncrementalRelayFee,
		MaxPoolSizeBytes:    DefaultMaxPoolSizeBytes,
		MaxDataCarrierSize:  DefaultMaxDataCarrierSize,
	}
}

// Validate checks the policy for configurations the node must refuse to start
// with. All violations are reported as ErrConfigInvalid.
func (p *Policy) Validate() error {
	if p.MaxPoolSizeBytes < MinPoolSizeBytes {
		str := fmt.Sprintf("pool size cap of %d bytes is below the "+
			"minimum of %d bytes", p.MaxPoolSizeBytes,
			int64(MinPoolSizeBytes))
		return ruleError(ErrConfigInvalid, str)
	}
	if p.MinRelayTxFee < 0 {
		return ruleError(ErrConfigInvalid, "negative minimum relay fee")
	}
	if p.IncrementalRelayFee < 0 {
		return ruleError(ErrConfigInvalid, "negative incremental relay fee")
	}
	if p.MaxDataCarrierSize < 0 {
		return ruleError(ErrConfigInvalid, "negative data carrier size")
	}
	return nil
}

// GetTxVirtualSize computes the virtual size of a given transaction. A
// transaction's virtual size is based off its weight, creating a discount for
// any witness data it contains, proportional to the current
// blockchain.WitnessScaleFactor value.
func GetTxVirtualSize(tx *btcutil.Tx) int64 {
	// vSize := (weight(tx) + 3) / 4
	//       := (((baseSize * 3) + totalSize) + 3) / 4
	// We add 3 here as a way to compute the ceiling of the prior arithmetic
	// to 4. The division by 4 creates a discount for wit witness data.
	return (blockchain.GetTransactionWeight(tx) + (blockchain.WitnessScaleFactor - 1)) /
		blockchain.WitnessScaleFactor
}

// meetsFeeRate reports whether the given absolute fee over the given virtual
// size clears a fee rate expressed in satoshi per kilo-vbyte. The comparison
// cross-multiplies so no precision is lost to integer division.
func meetsFeeRate(fee, vsize int64, rate btcutil.Amount) bool {
	return fee*1000 >= int64(rate)*vsize
}

// feeRatePerKvB converts an absolute fee and virtual size to satoshi per
// kilo-vbyte, rounding down.
func feeRatePerKvB(fee, vsize int64) int64 {
	if vsize <= 0 {
		return 0
	}
	return fee * 1000 / vsize
}

// compareRates orders two fee rates given as fee/size fractions without
// dividing, returning -1, 0 or 1 as feeA/sizeA compares to feeB/sizeB. The
// cross products are formed in 128 bits since descendant-group fees against
// group sizes near the pool byte cap can exceed the int64 range. Both sizes
// must be positive; fees may be negative after prioritisation.
func compareRates(feeA, sizeA, feeB, sizeB int64) int {
	aNeg, bNeg := feeA < 0, feeB < 0
	switch {
	case aNeg && !bNeg:
		return -1
	case !aNeg && bNeg:
		return 1
	}

	hiA, loA := bits.Mul64(magnitude(feeA), uint64(sizeB))
	hiB, loB := bits.Mul64(magnitude(feeB), uint64(sizeA))
	var cmp int
	switch {
	case hiA < hiB, hiA == hiB && loA < loB:
		cmp = -1
	case hiA > hiB, hiA == hiB && loA > loB:
		cmp = 1
	}
	if aNeg {
		// Both fees negative: the larger magnitude is the lower rate.
		cmp = -cmp
	}
	return cmp
}

func magnitude(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
