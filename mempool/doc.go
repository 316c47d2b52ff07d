// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mempool provides a policy-enforced pool of unconfirmed transactions.

The pool admits transactions by modified fee rate against a dynamic minimum,
tracks dependency relationships with materialized ancestor and descendant
aggregates, accepts interdependent transaction packages with
child-pays-for-parent semantics, and keeps its total virtual size under a
configured cap by evicting the lowest-value descendant groups. Eviction
ratchets the admission floor upward so displaced content cannot immediately
return; only an explicit Clear lowers it again.

Callers integrate through two narrow interfaces: a UtxoSource resolving
confirmed outputs and an optional RelayQueue receiving accepted witness
hashes. Script and signature validation are outside this package; candidates
are expected to have passed consensus checks before submission.
*/
package mempool
