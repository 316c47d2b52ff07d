// Copyright (c) 2018-2025 The Xaya developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package txgraph implements the dependency graph backing the memory pool.

Transactions form a directed acyclic graph keyed by spent-output references:
an edge runs from a parent to every pool transaction spending one of its
outputs. Each node carries materialized ancestor and descendant aggregates
(count, virtual size, modified fee) that are kept exactly consistent on every
insert, cascade removal, and fee adjustment, so pool policy code can evaluate
descendant-inclusive fee rates and ancestor limits without traversals.

The graph itself performs no locking. The owning pool serializes all access.
*/
package txgraph
