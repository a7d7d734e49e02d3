// Copyright 2024 The ember Authors
// This file is part of the ember library.
//
// The ember library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ember library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ember library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// ImportPolicy decides what happens when a previously dropped transaction
// is imported again.
type ImportPolicy byte

const (
	IfDroppedIgnore ImportPolicy = iota
	IfDroppedRetry
)

// ImportResult is the outcome of a queue import.
type ImportResult byte

const (
	ImportSuccess ImportResult = iota
	ImportAlreadyKnown
	ImportWasDropped
	ImportMalformed
)

// TransactionQueue holds submitted transactions keyed by hash, served per
// sender in nonce order. It remembers hashes it dropped so confirmed
// transactions do not bounce straight back in.
type TransactionQueue struct {
	mu      sync.Mutex
	signer  types.Signer
	known   map[common.Hash]*types.Transaction
	senders map[common.Hash]common.Address
	dropped map[common.Hash]struct{}
	onReady func()
}

// NewTransactionQueue returns an empty queue recovering senders with the
// latest signer for the given chain id.
func NewTransactionQueue(chainID *big.Int) *TransactionQueue {
	return &TransactionQueue{
		signer:  types.LatestSignerForChainID(chainID),
		known:   make(map[common.Hash]*types.Transaction),
		senders: make(map[common.Hash]common.Address),
		dropped: make(map[common.Hash]struct{}),
	}
}

// OnReady registers the callback fired when the queue transitions from
// empty to non-empty. The callback must be cheap and must not call back
// into the queue.
func (q *TransactionQueue) OnReady(fn func()) {
	q.mu.Lock()
	q.onReady = fn
	q.mu.Unlock()
}

// Import adds a transaction to the queue. Previously dropped hashes are
// refused unless the policy says retry; unsignable transactions are
// malformed.
func (q *TransactionQueue) Import(tx *types.Transaction, policy ImportPolicy) ImportResult {
	from, err := types.Sender(q.signer, tx)
	if err != nil {
		log.Trace("Refusing unsignable transaction", "hash", tx.Hash(), "err", err)
		return ImportMalformed
	}
	hash := tx.Hash()

	q.mu.Lock()
	if _, ok := q.known[hash]; ok {
		q.mu.Unlock()
		return ImportAlreadyKnown
	}
	if _, ok := q.dropped[hash]; ok {
		if policy != IfDroppedRetry {
			q.mu.Unlock()
			return ImportWasDropped
		}
		delete(q.dropped, hash)
	}
	wasEmpty := len(q.known) == 0
	q.known[hash] = tx
	q.senders[hash] = from
	ready := q.onReady
	q.mu.Unlock()

	if wasEmpty && ready != nil {
		ready()
	}
	return ImportSuccess
}

// Drop removes a transaction and remembers its hash as dropped.
func (q *TransactionQueue) Drop(hash common.Hash) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.known[hash]; ok {
		delete(q.known, hash)
		delete(q.senders, hash)
	}
	q.dropped[hash] = struct{}{}
}

// Clear empties the queue and forgets the drop history.
func (q *TransactionQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.known = make(map[common.Hash]*types.Transaction)
	q.senders = make(map[common.Hash]common.Address)
	q.dropped = make(map[common.Hash]struct{})
}

// Known reports whether the hash is currently queued.
func (q *TransactionQueue) Known(hash common.Hash) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.known[hash]
	return ok
}

// Len reports how many transactions are queued.
func (q *TransactionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.known)
}

// Items returns the queued transactions grouped by sender, each sender's
// run in nonce order, senders in address order for determinism.
func (q *TransactionQueue) Items() types.Transactions {
	q.mu.Lock()
	defer q.mu.Unlock()

	bySender := make(map[common.Address]types.Transactions)
	for hash, tx := range q.known {
		from := q.senders[hash]
		bySender[from] = append(bySender[from], tx)
	}
	senders := make([]common.Address, 0, len(bySender))
	for from := range bySender {
		senders = append(senders, from)
	}
	sort.Slice(senders, func(i, j int) bool {
		return senders[i].Cmp(senders[j]) < 0
	})

	var items types.Transactions
	for _, from := range senders {
		txs := bySender[from]
		sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce() < txs[j].Nonce() })
		items = append(items, txs...)
	}
	return items
}
