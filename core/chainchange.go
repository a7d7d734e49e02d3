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
	"github.com/ethereum/go-ethereum/log"

	"github.com/emberchain/ember/filters"
)

// onChainChanged reacts to a canonical head movement: transactions of the
// dead branch go back into the queue, confirmed ones are dropped, filters
// learn about the new blocks, and once the import queue has nothing more
// pending the pre state rolls forward and pending transactions replay on
// top of it.
func (c *Client) onChainChanged(route ImportRoute) {
	// Resubmit the transactions of the branch we are declaring dead.
	for _, h := range route.Dead {
		log.Debug("Dead block", "hash", h)
		for _, tx := range c.bc.Transactions(h) {
			log.Trace("Resubmitting dead-branch transaction", "hash", tx.Hash())
			c.tq.Import(tx, IfDroppedRetry)
		}
	}
	reorgMeter.Mark(int64(len(route.Dead)))

	// Drop confirmed transactions rather than relying on stale nonces
	// later on.
	for _, h := range route.Imported {
		log.Trace("Live block", "hash", h)
		for _, th := range c.bc.TransactionHashes(h) {
			c.tq.Drop(th)
		}
	}

	if h := c.hostRef(); h != nil {
		h.NoteNewBlocks()
	}

	dirty := newDirtySet()
	for _, h := range route.Imported {
		header, err := c.bc.Info(h)
		if err != nil {
			log.Warn("Imported block vanished from store", "hash", h, "err", err)
			continue
		}
		c.filters.AppendFromNewBlock(header, c.bc.Receipts(h), c.bc.TransactionHashes(h), dirty)
	}

	// The head moved; refresh the gas price oracle.
	c.gp.Update(c.bc)

	if unknown, _ := c.bq.Items(); unknown == 0 {
		// Sync a copy of the pre state first; only swap it in if the head
		// actually moved or the coinbase changed under us.
		c.preMu.RLock()
		newPre := c.preMine.Copy()
		c.preMu.RUnlock()
		preChanged := newPre.Sync(c.bc)

		c.preMu.RLock()
		c.postMu.RLock()
		coinbaseChanged := c.postMine.Coinbase() != c.preMine.Coinbase()
		c.postMu.RUnlock()
		c.preMu.RUnlock()

		if preChanged || coinbaseChanged {
			if c.IsMining() {
				log.Info("New block on chain", "number", c.bc.Number())
			}
			c.preMu.Lock()
			c.preMine = newPre
			c.preMu.Unlock()
			c.workingMu.Lock()
			c.working = newPre.Copy()
			c.workingMu.Unlock()

			c.postMu.RLock()
			pending := c.postMine.Pending()
			c.postMu.RUnlock()
			for _, tx := range pending {
				log.Trace("Resubmitting post-state transaction", "hash", tx.Hash())
				if res := c.tq.Import(tx, IfDroppedRetry); res != ImportSuccess && res != ImportAlreadyKnown {
					// The queue will sort it out; make sure we drain again.
					c.onTransactionQueueReady()
				}
			}

			c.workingMu.RLock()
			c.postMu.Lock()
			c.postMine = c.working.Copy()
			c.postMu.Unlock()
			c.workingMu.RUnlock()

			dirty.Add(filters.PendingChangedFilter)
			c.onPostStateChanged()
		}

		// The queue already holds the prior pending transactions; resync
		// with it once more to catch anything resubmitted above.
		c.onTransactionQueueReady()
	}

	c.filters.NoteChanged(dirty)
	c.chainFeed.Send(ChainChangedEvent{Imported: route.Imported, Dead: route.Dead})
}
