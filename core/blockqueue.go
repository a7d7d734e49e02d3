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
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// QueuedBlock is one import candidate: the decoded block, its original
// bytes, and whether we sealed it ourselves.
type QueuedBlock struct {
	Block     *types.Block
	RLP       []byte
	SelfMined bool
}

// BlockQueue holds candidate blocks awaiting import into the chain store.
// Blocks from the future are parked until their timestamp arrives.
type BlockQueue struct {
	mu      sync.Mutex
	ready   []QueuedBlock
	future  []QueuedBlock
	seen    mapset.Set[common.Hash]
	known   int // submissions refused because the hash was already seen
	onReady func()
	onBad   func(error)
}

func NewBlockQueue() *BlockQueue {
	return &BlockQueue{seen: mapset.NewSet[common.Hash]()}
}

// OnReady registers the callback fired when the queue transitions from
// empty to non-empty. The callback must be cheap and lock-free.
func (q *BlockQueue) OnReady(fn func()) {
	q.mu.Lock()
	q.onReady = fn
	q.mu.Unlock()
}

// SetOnBad registers the callback invoked with the offending error when a
// malformed block is submitted.
func (q *BlockQueue) SetOnBad(fn func(error)) {
	q.mu.Lock()
	q.onBad = fn
	q.mu.Unlock()
}

// Import queues a serialized block. Malformed bytes are routed through the
// bad-block callback; already seen hashes are counted but not re-queued.
func (q *BlockQueue) Import(blob []byte, selfMined bool) error {
	block := new(types.Block)
	if err := rlp.DecodeBytes(blob, block); err != nil {
		bad := NewBadBlockError("malformed block: "+err.Error(), blob)
		q.mu.Lock()
		onBad := q.onBad
		q.mu.Unlock()
		if onBad != nil {
			onBad(bad)
		}
		return bad
	}

	q.mu.Lock()
	if q.seen.Contains(block.Hash()) {
		q.known++
		q.mu.Unlock()
		return nil
	}
	q.seen.Add(block.Hash())
	entry := QueuedBlock{Block: block, RLP: blob, SelfMined: selfMined}
	wasEmpty := len(q.ready) == 0
	if block.Time() > uint64(time.Now().Unix()) {
		q.future = append(q.future, entry)
		wasEmpty = false
	} else {
		q.ready = append(q.ready, entry)
	}
	ready := q.onReady
	q.mu.Unlock()

	if wasEmpty && ready != nil {
		ready()
	}
	return nil
}

// Drain pops up to max ready blocks in arrival order.
func (q *BlockQueue) Drain(max int) []QueuedBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.ready) {
		max = len(q.ready)
	}
	out := q.ready[:max:max]
	q.ready = q.ready[max:]
	return out
}

// Items reports the number of blocks waiting to import and the number of
// already known submissions seen.
func (q *BlockQueue) Items() (unknown, known int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.future), q.known
}

// Tick moves future blocks whose timestamp has arrived into the ready set.
func (q *BlockQueue) Tick(chain ChainStore) {
	now := uint64(time.Now().Unix())

	q.mu.Lock()
	var (
		due     int
		pending []QueuedBlock
	)
	for _, entry := range q.future {
		if entry.Block.Time() <= now {
			q.ready = append(q.ready, entry)
			due++
		} else {
			pending = append(pending, entry)
		}
	}
	q.future = pending
	ready := q.onReady
	q.mu.Unlock()

	if due > 0 {
		log.Debug("Future blocks became due", "count", due)
		if ready != nil {
			ready()
		}
	}
}

// Clear empties the queue and forgets seen hashes.
func (q *BlockQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = nil
	q.future = nil
	q.seen = mapset.NewSet[common.Hash]()
	q.known = 0
}
