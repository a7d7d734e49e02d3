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
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

const (
	minSyncAmount     = 1
	maxSyncAmount     = 100
	defaultSyncAmount = 50

	// syncTargetSeconds is the wall time one import batch aims for; the
	// batch size adapts around it.
	syncTargetSeconds = 1.0
)

// Vars so the tests can compress wall-clock behaviour.
var (
	workerIdleWait = time.Second
	tickInterval   = time.Second
	gcInterval     = 5 * time.Second
)

func newDirtySet() mapset.Set[common.Hash] {
	return mapset.NewSet[common.Hash]()
}

// startWorker launches the worker goroutine if it is not running.
func (c *Client) startWorker() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.quit = make(chan struct{})
	c.wg.Add(1)
	go c.run()
}

// stopWorker clears the run flag, wakes the worker and joins it.
func (c *Client) stopWorker() {
	c.startMu.Lock()
	if !c.running {
		c.startMu.Unlock()
		return
	}
	c.running = false
	close(c.quit)
	c.startMu.Unlock()

	c.signalWorker()
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}
		c.doWork(true)
	}
}

// FlushWork runs one synchronous worker iteration without the idle wait.
// Useful for callers that just queued something and want it processed now.
func (c *Client) FlushWork() {
	c.doWork(false)
}

// doWork is one worker iteration: drain the block queue, then the
// transaction queue, run housekeeping, then idle until signalled.
func (c *Client) doWork(wait bool) {
	if c.syncingBlocks.CompareAndSwap(true, false) {
		c.syncBlockQueue()
	}
	if c.syncingTxs.CompareAndSwap(true, false) && !c.remoteWorking.Load() && !c.IsSyncing() {
		c.syncTransactionQueue()
	}

	c.tick()

	if wait && !c.syncingBlocks.Load() && !c.syncingTxs.Load() {
		select {
		case <-c.wakeCh:
		case <-time.After(workerIdleWait):
		case <-c.quit:
		}
	}
}

// syncBlockQueue imports one batch of queued blocks into the chain store
// and routes the resulting canonical changes through the reorg handler.
func (c *Client) syncBlockQueue() {
	start := time.Now()
	route, more := c.bc.Sync(c.bq, c.sf, c.syncAmount)
	elapsed := time.Since(start)

	blockImportTimer.Update(elapsed)
	blockImportMeter.Mark(int64(len(route.Imported)))
	if more {
		c.syncingBlocks.Store(true)
	}
	log.Debug("Imported block batch", "count", len(route.Imported), "dead", len(route.Dead),
		"batch", c.syncAmount, "elapsed", common.PrettyDuration(elapsed))

	c.syncAmount = adaptSyncAmount(c.syncAmount, elapsed.Seconds())
	if len(route.Imported) == 0 {
		return
	}
	c.onChainChanged(route)
}

// adaptSyncAmount steers the import batch size towards the target batch
// duration, clamped to [minSyncAmount, maxSyncAmount].
func adaptSyncAmount(amount int, elapsed float64) int {
	switch {
	case elapsed > syncTargetSeconds*1.1 && amount > minSyncAmount:
		amount = amount * 9 / 10
		if amount < minSyncAmount {
			amount = minSyncAmount
		}
	case elapsed < syncTargetSeconds*0.9 && amount < maxSyncAmount:
		amount = amount*11/10 + 1
		if amount > maxSyncAmount {
			amount = maxSyncAmount
		}
	}
	return amount
}

// syncTransactionQueue drains queued transactions into the working state
// and, if anything was accepted, promotes working to the post state and
// fans the receipts out to filters, mining and the host.
func (c *Client) syncTransactionQueue() {
	c.workingMu.Lock()
	receipts, more := c.working.SyncQueue(c.bc, c.tq, c.gp)
	c.workingMu.Unlock()
	if more {
		c.syncingTxs.Store(true)
	}
	if len(receipts) == 0 {
		return
	}
	txDrainMeter.Mark(int64(len(receipts)))

	c.workingMu.RLock()
	c.postMu.Lock()
	c.postMine = c.working.Copy()
	c.postMu.Unlock()
	c.workingMu.RUnlock()

	c.postMu.RLock()
	pending := c.postMine.Pending()
	c.postMu.RUnlock()

	// The fresh receipts belong to the tail of the pending list.
	dirty := newDirtySet()
	first := len(pending) - len(receipts)
	var hashes []common.Hash
	for i, receipt := range receipts {
		if first+i < 0 || first+i >= len(pending) {
			break
		}
		hash := pending[first+i].Hash()
		c.filters.AppendFromNewPending(receipt, dirty, hash)
		hashes = append(hashes, hash)
	}

	// Restart sealing on the new post state.
	c.onPostStateChanged()

	// Tell watches and local observers about the new transactions.
	c.filters.NoteChanged(dirty)
	c.pendingFeed.Send(PendingChangedEvent{Hashes: hashes})

	// Tell the network about the new transactions.
	if h := c.hostRef(); h != nil {
		h.NoteNewTransactions()
	}
}

// tick runs once-per-second housekeeping: watch GC and chain GC on their
// five second cadence, block queue retries, the periodic activity line.
func (c *Client) tick() {
	if time.Since(c.lastTick) < tickInterval {
		return
	}
	c.lastTick = time.Now()
	c.ticks++

	if removed := c.filters.SweepIdle(time.Now()); len(removed) > 0 {
		log.Debug("Uninstalled idle watches", "count", len(removed))
	}
	if time.Since(c.lastGC) >= gcInterval {
		c.bc.GarbageCollect()
		c.lastGC = time.Now()
	}
	c.bq.Tick(c.bc)

	if c.ticks%15 == 0 {
		unknown, known := c.bq.Items()
		log.Debug("Client activity", "ticks", c.ticks, "queued", unknown, "known", known,
			"txs", c.tq.Len(), "head", c.bc.Number())
	}
}
