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

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emberchain/ember/miner"
)

// remoteWindow is the sliding window on GetWork polls within which a
// remote hasher counts as active. Var so the tests can compress it.
var remoteWindow = 30 * time.Second

// StartMining makes the client seal blocks locally.
func (c *Client) StartMining() {
	c.wouldMine.Store(true)
	c.RejigMining()
}

// StopMining stops local sealing. Remote hashers polling GetWork keep
// being served.
func (c *Client) StopMining() {
	c.wouldMine.Store(false)
	c.farm.Stop()
}

// IsMining reports whether local sealing is wanted.
func (c *Client) IsMining() bool {
	return c.wouldMine.Load()
}

// SetForceMining records the force-mining setting and rejigs while mining.
// Candidates are committed whether or not transactions are waiting, with
// or without the setting.
func (c *Client) SetForceMining(enable bool) {
	c.forceMining.Store(enable)
	if c.IsMining() {
		c.RejigMining()
	}
}

// remoteActive reports whether a remote hasher polled recently enough to
// keep work production going.
func (c *Client) remoteActive() bool {
	c.miningMu.Lock()
	defer c.miningMu.Unlock()
	return time.Since(c.lastGetWork) < remoteWindow
}

func (c *Client) shouldServeWork() bool {
	return c.wouldMine.Load() || c.remoteActive()
}

// onPostStateChanged reseals on top of the fresh post state and releases
// the remote-working latch.
func (c *Client) onPostStateChanged() {
	log.Trace("Post state changed")
	c.RejigMining()
	c.remoteWorking.Store(false)
}

// GetWork returns the current work package for remote hashers. The chain
// being flagged bad suppresses work unless the operator opted in. A poll
// that revives a quiescent client triggers an immediate commit cycle;
// otherwise the remote-working latch defers it to the next post state
// change.
func (c *Client) GetWork() miner.Work {
	// Lock the work so a later submission isn't invalidated by processing
	// a transaction elsewhere; reset on the next chain change.
	oldShould := c.shouldServeWork()
	c.miningMu.Lock()
	c.lastGetWork = time.Now()
	c.miningMu.Unlock()

	if !c.config.MineOnBadChain && c.IsChainBad() {
		return miner.Work{}
	}
	if !oldShould && c.shouldServeWork() {
		c.onPostStateChanged()
	} else {
		c.remoteWorking.Store(true)
	}

	c.miningMu.Lock()
	defer c.miningMu.Unlock()
	return c.miningInfo
}

// RejigMining commits a fresh candidate and re-arms the farm. It is a
// no-op unless work is wanted, the import queue is drained of unknowns and
// the chain is fit to mine on.
func (c *Client) RejigMining() {
	unknown, _ := c.bq.Items()
	if (c.wouldMine.Load() || c.remoteActive()) && unknown == 0 && (!c.IsChainBad() || c.config.MineOnBadChain) {
		log.Debug("Rejigging mining")
		c.workingMu.Lock()
		err := c.working.CommitToMine(c.bc)
		c.workingMu.Unlock()
		if err != nil {
			log.Warn("Failed to commit mining candidate", "err", err)
			return
		}

		c.workingMu.RLock()
		c.postMu.Lock()
		c.postMine = c.working.Copy()
		info := c.postMine.MiningInfo()
		c.postMu.Unlock()
		c.workingMu.RUnlock()

		c.miningMu.Lock()
		c.miningInfo = info
		c.miningMu.Unlock()

		if c.wouldMine.Load() {
			c.farm.SetWork(info)
			c.farm.Start()
		}
	}
	if !c.wouldMine.Load() {
		c.farm.Stop()
	}
}

// SubmitWork offers a seal solution for the current candidate. On success
// the sealed block re-enters through the block queue, marked self-mined,
// and becomes canonical via the normal import path. A rejected solution
// has no side effects.
func (c *Client) SubmitWork(sol miner.Solution) bool {
	c.workingMu.Lock()
	ok := c.working.CompleteMine(sol)
	c.workingMu.Unlock()
	if !ok {
		return false
	}

	c.workingMu.RLock()
	c.postMu.Lock()
	c.postMine = c.working.Copy()
	c.postMu.Unlock()
	sealed := c.working.SealedBlock()
	c.workingMu.RUnlock()

	sealedCounter.Inc(1)
	if err := c.bq.Import(sealed, true); err != nil {
		log.Warn("Failed to queue self-mined block", "err", err)
	}
	block := new(types.Block)
	if err := rlp.DecodeBytes(sealed, block); err == nil {
		log.Info("Mined block accepted", "number", block.NumberU64(), "hash", block.Hash())
		c.minedFeed.Send(MinedBlockEvent{Hash: block.Hash()})
	}
	return true
}

// MiningProgress reports farm activity, zero when the farm is idle.
func (c *Client) MiningProgress() miner.Progress {
	if c.farm.IsMining() {
		return c.farm.Progress()
	}
	return miner.Progress{}
}

// Hashrate reports the farm's hash rate in hashes per second.
func (c *Client) Hashrate() uint64 {
	return c.MiningProgress().Rate()
}
