// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// changeValue is the spendable value carried on output zero of harness
// transactions so descendants always have something to spend.
const changeValue = btcutil.Amount(10_000_000)

// payScript is a p2pkh-shaped output script. The pool does not execute
// scripts, it only needs outputs of realistic size.
var payScript = []byte{
	0x76, 0xa9, 0x14,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
	0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14,
	0x88, 0xac,
}

// padScript returns an unspendable output script of roughly n bytes, used to
// inflate a transaction's virtual size.
func padScript(n int) []byte {
	s := make([]byte, n)
	s[0] = 0x6a
	return s
}

// fakeUtxoSource is a map-backed UtxoSource for tests.
type fakeUtxoSource struct {
	mtx   sync.Mutex
	utxos map[wire.OutPoint]btcutil.Amount
}

func newFakeUtxoSource() *fakeUtxoSource {
	return &fakeUtxoSource{utxos: make(map[wire.OutPoint]btcutil.Amount)}
}

func (s *fakeUtxoSource) FetchUtxoValue(op wire.OutPoint) (btcutil.Amount, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	value, ok := s.utxos[op]
	return value, ok
}

func (s *fakeUtxoSource) add(op wire.OutPoint, value btcutil.Amount) {
	s.mtx.Lock()
	s.utxos[op] = value
	s.mtx.Unlock()
}

// poolHarness bundles a pool with its fake collaborators and transaction
// factories.
type poolHarness struct {
	t       *testing.T
	source  *fakeUtxoSource
	relay   *RelayInventory
	pool    *TxPool
	counter uint32
}

func newPoolHarness(t *testing.T, policy Policy) *poolHarness {
	t.Helper()

	source := newFakeUtxoSource()
	relay := NewRelayInventory(0)
	pool, err := New(&Config{
		Policy:     policy,
		UtxoSource: source,
		RelayQueue: relay,
	})
	require.NoError(t, err)

	return &poolHarness{t: t, source: source, relay: relay, pool: pool}
}

// nextOutPoint returns a unique outpoint referencing a fabricated confirmed
// transaction. It is not registered with the utxo source.
func (h *poolHarness) nextOutPoint() wire.OutPoint {
	h.counter++
	var hash chainhash.Hash
	binary.LittleEndian.PutUint32(hash[:4], h.counter)
	hash[31] = 0xc0
	return wire.OutPoint{Hash: hash, Index: 0}
}

// buildTx assembles a transaction spending the given outpoints with a change
// output and an optional size-padding output. Output values are left zero for
// the caller to assign.
func buildTx(ins []wire.OutPoint, pad int) *wire.MsgTx {
	msg := wire.NewMsgTx(wire.TxVersion)
	for _, op := range ins {
		msg.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	msg.AddTxOut(wire.NewTxOut(0, payScript))
	if pad > 0 {
		msg.AddTxOut(wire.NewTxOut(0, padScript(pad)))
	}
	return msg
}

// freshTx creates a transaction spending a newly fabricated confirmed output,
// paying exactly fee and carrying changeValue on output zero.
func (h *poolHarness) freshTx(fee btcutil.Amount, pad int) *btcutil.Tx {
	h.t.Helper()

	op := h.nextOutPoint()
	msg := buildTx([]wire.OutPoint{op}, pad)
	msg.TxOut[0].Value = int64(changeValue)
	h.source.add(op, changeValue+fee)
	return btcutil.NewTx(msg)
}

// freshTxAtRate creates a confirmed-input transaction whose fee puts it at
// least at the given rate in satoshi per kilo-vbyte.
func (h *poolHarness) freshTxAtRate(rate int64, pad int) *btcutil.Tx {
	h.t.Helper()

	op := h.nextOutPoint()
	msg := buildTx([]wire.OutPoint{op}, pad)
	msg.TxOut[0].Value = int64(changeValue)

	vsize := GetTxVirtualSize(btcutil.NewTx(msg))
	fee := btcutil.Amount((rate*vsize + 999) / 1000)
	h.source.add(op, changeValue+fee)
	return btcutil.NewTx(msg)
}

// spendTx creates a transaction spending output zero of every parent, paying
// exactly fee.
func (h *poolHarness) spendTx(fee btcutil.Amount, pad int, parents ...*btcutil.Tx) *btcutil.Tx {
	h.t.Helper()

	var ins []wire.OutPoint
	var totalIn btcutil.Amount
	for _, parent := range parents {
		ins = append(ins, wire.OutPoint{Hash: *parent.Hash(), Index: 0})
		totalIn += btcutil.Amount(parent.MsgTx().TxOut[0].Value)
	}
	require.GreaterOrEqual(h.t, int64(totalIn), int64(fee))

	msg := buildTx(ins, pad)
	msg.TxOut[0].Value = int64(totalIn - fee)
	return btcutil.NewTx(msg)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	source := newFakeUtxoSource()

	tests := []struct {
		name string
		cfg  Config
	}{{
		name: "missing utxo source",
		cfg:  Config{Policy: DefaultPolicy()},
	}, {
		name: "cap below minimum",
		cfg: Config{
			Policy: Policy{
				MinRelayTxFee:       DefaultMinRelayTxFee,
				IncrementalRelayFee: DefaultIncrementalRelayFee,
				MaxPoolSizeBytes:    MinPoolSizeBytes - 1,
			},
			UtxoSource: source,
		},
	}, {
		name: "negative relay fee",
		cfg: Config{
			Policy: Policy{
				MinRelayTxFee:    -1,
				MaxPoolSizeBytes: DefaultMaxPoolSizeBytes,
			},
			UtxoSource: source,
		},
	}}
	for _, test := range tests {
		_, err := New(&test.cfg)
		require.Truef(t, IsErrorCode(err, ErrConfigInvalid),
			"%s: got %v", test.name, err)
	}

	_, err := New(&Config{Policy: DefaultPolicy(), UtxoSource: source})
	require.NoError(t, err)
}

func TestProcessTransactionAdmission(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	tx := h.freshTx(5000, 0)
	desc, err := h.pool.ProcessTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, *tx.Hash(), desc.TxHash)
	require.True(t, h.pool.HaveTransaction(*tx.Hash()))
	require.Equal(t, 1, h.pool.Count())

	// Resubmission is rejected.
	_, err = h.pool.ProcessTransaction(tx)
	require.True(t, IsErrorCode(err, ErrAlreadyInPool))

	// The accepted witness hash was queued for relay.
	drained := h.relay.Drain()
	require.Equal(t, []chainhash.Hash{*tx.WitnessHash()}, drained)
}

func TestProcessTransactionMissingInputs(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	// An input that is neither confirmed nor in the pool.
	orphan := h.spendTx(1000, 0, h.freshTx(1000, 0))
	_, err := h.pool.ProcessTransaction(orphan)
	require.True(t, IsErrorCode(err, ErrMissingInputs))
	require.Zero(t, h.pool.Count())

	// A double spend of an output already consumed in the pool.
	parent := h.freshTx(5000, 0)
	_, err = h.pool.ProcessTransaction(parent)
	require.NoError(t, err)
	child := h.spendTx(5000, 0, parent)
	_, err = h.pool.ProcessTransaction(child)
	require.NoError(t, err)

	rival := h.spendTx(9000, 0, parent)
	_, err = h.pool.ProcessTransaction(rival)
	require.True(t, IsErrorCode(err, ErrMissingInputs))
}

func TestProcessTransactionBelowFloor(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	zeroFee := h.freshTx(0, 0)
	_, err := h.pool.ProcessTransaction(zeroFee)
	require.True(t, IsErrorCode(err, ErrBelowMinFeeRate))
	require.False(t, h.pool.HaveTransaction(*zeroFee.Hash()))
}

func TestPrioritiseBeforeAdmission(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	zeroFee := h.freshTx(0, 0)
	_, err := h.pool.ProcessTransaction(zeroFee)
	require.True(t, IsErrorCode(err, ErrBelowMinFeeRate))

	// A delta registered before the pool has ever seen the transaction
	// applies at the next admission attempt.
	h.pool.PrioritiseTransaction(*zeroFee.Hash(), 100_000)
	_, err = h.pool.ProcessTransaction(zeroFee)
	require.NoError(t, err)

	entry, err := h.pool.Entry(*zeroFee.Hash())
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), entry.Fee)
	require.Equal(t, btcutil.Amount(100_000), entry.FeeDelta)
}

func TestPrioritiseResidentEntry(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	parent := h.freshTx(5000, 0)
	_, err := h.pool.ProcessTransaction(parent)
	require.NoError(t, err)
	child := h.spendTx(5000, 0, parent)
	_, err = h.pool.ProcessTransaction(child)
	require.NoError(t, err)

	before, err := h.pool.Entry(*child.Hash())
	require.NoError(t, err)

	h.pool.PrioritiseTransaction(*parent.Hash(), 7000)

	// The parent's own stats and the child's ancestor aggregate both see
	// the delta.
	parentEntry, err := h.pool.Entry(*parent.Hash())
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(7000), parentEntry.FeeDelta)

	after, err := h.pool.Entry(*child.Hash())
	require.NoError(t, err)
	require.Equal(t, before.AncestorStats.Fee+7000, after.AncestorStats.Fee)
}

func TestRemoveTransactionCascades(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	var notified []*TxRemovedData
	h.pool.Subscribe(func(n *Notification) {
		if n.Type == NTTxRemoved {
			notified = append(notified, n.Data.(*TxRemovedData))
		}
	})

	parent := h.freshTx(5000, 0)
	_, err := h.pool.ProcessTransaction(parent)
	require.NoError(t, err)
	child := h.spendTx(5000, 0, parent)
	_, err = h.pool.ProcessTransaction(child)
	require.NoError(t, err)
	grandchild := h.spendTx(5000, 0, child)
	_, err = h.pool.ProcessTransaction(grandchild)
	require.NoError(t, err)

	removed := h.pool.RemoveTransaction(*child.Hash())
	require.Len(t, removed, 2)
	require.Equal(t, 1, h.pool.Count())
	require.True(t, h.pool.HaveTransaction(*parent.Hash()))

	reasons := make(map[chainhash.Hash]RemovalReason)
	for _, data := range notified {
		reasons[data.TxHash] = data.Reason
	}
	require.Equal(t, RemovalReasonExplicit, reasons[*child.Hash()])
	require.Equal(t, RemovalReasonCascade, reasons[*grandchild.Hash()])
}

func TestClearResetsFloor(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.MaxPoolSizeBytes = MinPoolSizeBytes
	h := newPoolHarness(t, policy)

	// Overfill the pool so eviction ratchets the admission floor.
	for i := 0; i < 3; i++ {
		tx := h.freshTxAtRate(2000+int64(i)*1000, 2_000_000)
		_, err := h.pool.ProcessTransaction(tx)
		require.NoError(t, err)
	}
	require.Greater(t, int64(h.pool.Info().PoolMinFee),
		int64(DefaultMinRelayTxFee))

	h.pool.Clear()

	info := h.pool.Info()
	require.Zero(t, info.Count)
	require.Zero(t, info.Bytes)
	require.Equal(t, DefaultMinRelayTxFee, info.PoolMinFee)
}

func TestDrainToEmptyResetsFloor(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	policy.MaxPoolSizeBytes = MinPoolSizeBytes
	h := newPoolHarness(t, policy)

	for i := 0; i < 3; i++ {
		tx := h.freshTxAtRate(2000+int64(i)*1000, 2_000_000)
		_, err := h.pool.ProcessTransaction(tx)
		require.NoError(t, err)
	}
	require.Greater(t, int64(h.pool.Info().PoolMinFee),
		int64(DefaultMinRelayTxFee))

	// Removing the last entry drops the escalated floor.
	for _, hash := range h.pool.TxHashes() {
		h.pool.RemoveTransaction(hash)
	}
	require.Zero(t, h.pool.Count())
	require.Equal(t, DefaultMinRelayTxFee, h.pool.Info().PoolMinFee)
}

func TestQueries(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, DefaultPolicy())

	parent := h.freshTx(5000, 0)
	_, err := h.pool.ProcessTransaction(parent)
	require.NoError(t, err)
	child := h.spendTx(5000, 0, parent)
	_, err = h.pool.ProcessTransaction(child)
	require.NoError(t, err)

	require.ElementsMatch(t, []chainhash.Hash{*parent.Hash(), *child.Hash()},
		h.pool.TxHashes())

	fetched, err := h.pool.FetchTransaction(*parent.Hash())
	require.NoError(t, err)
	require.Equal(t, parent.Hash(), fetched.Hash())

	_, err = h.pool.FetchTransaction(chainhash.Hash{0xff})
	require.Error(t, err)

	ancestors, err := h.pool.Ancestors(*child.Hash())
	require.NoError(t, err)
	require.Len(t, ancestors, 1)
	require.Equal(t, *parent.Hash(), ancestors[0].TxHash)

	descendants, err := h.pool.Descendants(*parent.Hash())
	require.NoError(t, err)
	require.Len(t, descendants, 1)
	require.Equal(t, *child.Hash(), descendants[0].TxHash)

	spender := h.pool.CheckSpend(wire.OutPoint{Hash: *parent.Hash(), Index: 0})
	require.NotNil(t, spender)
	require.Equal(t, *child.Hash(), *spender.Hash())

	info := h.pool.Info()
	require.Equal(t, 2, info.Count)
	require.Equal(t, h.pool.TotalVirtualBytes(), info.Bytes)
}

func TestRelayInventoryDeduplicates(t *testing.T) {
	t.Parallel()

	relay := NewRelayInventory(4)
	a := chainhash.Hash{0x01}
	b := chainhash.Hash{0x02}

	relay.Enqueue(a)
	relay.Enqueue(b)
	relay.Enqueue(a)
	require.Equal(t, []chainhash.Hash{a, b}, relay.Drain())

	// Drained but still remembered.
	relay.Enqueue(a)
	require.Empty(t, relay.Drain())
}

func TestFeeLedgerRatchet(t *testing.T) {
	t.Parallel()

	ledger := NewFeeLedger(1000)
	require.Equal(t, btcutil.Amount(1000), ledger.PoolMinFee())

	ledger.RaiseTo(5000)
	require.Equal(t, btcutil.Amount(5000), ledger.PoolMinFee())

	// The floor never moves down via RaiseTo.
	ledger.RaiseTo(2000)
	require.Equal(t, btcutil.Amount(5000), ledger.PoolMinFee())

	ledger.ResetToFloor()
	require.Equal(t, btcutil.Amount(1000), ledger.PoolMinFee())
	require.Equal(t, btcutil.Amount(1000), ledger.MinRelayTxFee())
}
