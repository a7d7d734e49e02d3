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

// Package core implements the client engine of an ember node: it owns the
// authoritative view of the canonical chain and binds together transaction
// ingest, block import, state execution, mining work production and
// observer notification.
package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emberchain/ember/filters"
	"github.com/emberchain/ember/gasprice"
	"github.com/emberchain/ember/miner"
)

type hostHolder struct{ h Host }

// Client binds the chain store, the state triad, the queues, the mining
// farm and the filter registry into one engine driven by a dedicated
// worker goroutine.
type Client struct {
	config *Config
	vc     *VersionChecker

	bc ChainStore
	sf StateFactory
	tq *TransactionQueue
	bq *BlockQueue
	gp gasprice.Pricer

	filters *filters.System
	farm    miner.Farm

	host atomic.Pointer[hostHolder]

	// The state triad. Locks are always acquired in the order
	// preMu -> workingMu -> postMu when more than one is needed.
	preMu     sync.RWMutex
	preMine   WorldState
	workingMu sync.RWMutex
	working   WorldState
	postMu    sync.RWMutex
	postMine  WorldState

	// mining orchestration
	wouldMine     atomic.Bool
	forceMining   atomic.Bool
	remoteWorking atomic.Bool
	miningMu      sync.Mutex
	miningInfo    miner.Work
	lastGetWork   time.Time

	// worker wakeup
	syncingBlocks atomic.Bool
	syncingTxs    atomic.Bool
	wakeCh        chan struct{}
	quit          chan struct{}
	wg            sync.WaitGroup
	startMu       sync.Mutex
	running       bool

	syncAmount int

	// worker-goroutine only
	lastTick time.Time
	lastGC   time.Time
	ticks    int

	chainFeed   event.Feed
	pendingFeed event.Feed
	minedFeed   event.Feed
	scope       event.SubscriptionScope
}

// New assembles a client over its collaborators. The on-disk version gate
// is consulted and combined (by max) with the caller's action before the
// store and state database are opened; the triad is synchronised to the
// chain head. The worker loop is not started until Start.
func New(config *Config, action Action, bc ChainStore, sf StateFactory, tq *TransactionQueue, bq *BlockQueue, gp gasprice.Pricer, farm miner.Farm) (*Client, error) {
	if gp == nil {
		gp = gasprice.NewBasicPricer(config.gasPrice())
	}
	if farm == nil {
		farm = miner.NewCpuFarm(nil)
	}
	c := &Client{
		config:     config,
		bc:         bc,
		sf:         sf,
		tq:         tq,
		bq:         bq,
		gp:         gp,
		farm:       farm,
		filters:    filters.NewSystem(),
		wakeCh:     make(chan struct{}, 1),
		syncAmount: defaultSyncAmount,
	}
	c.forceMining.Store(config.ForceMining)
	// Remote activity starts outside the window, so the first GetWork
	// triggers a fresh commit cycle unless local mining is already on.
	c.lastGetWork = time.Now().Add(-remoteWindow)

	c.vc = NewVersionChecker(config.DataDir, bc.GenesisHash())
	combined := MaxAction(c.vc.Action(), action)
	log.Info("Opening chain data", "gate", c.vc.Action(), "forced", action, "action", combined)
	if combined != Trust {
		if err := bc.Reopen(combined); err != nil {
			return nil, err
		}
		if err := sf.Reopen(combined); err != nil {
			return nil, err
		}
	}

	c.preMine = sf.OpenState()
	c.preMine.SetCoinbase(config.Coinbase)
	c.resyncState()

	tq.OnReady(c.onTransactionQueueReady)
	bq.OnReady(c.onBlockQueueReady)
	bq.SetOnBad(c.onBadBlock)
	farm.OnSolutionFound(c.SubmitWork)

	gp.Update(bc)
	c.vc.SetOk()
	return c, nil
}

// Start launches the worker loop.
func (c *Client) Start() {
	c.startWorker()
}

// Stop shuts down mining, the worker loop and every subscription.
func (c *Client) Stop() {
	c.StopMining()
	c.stopWorker()
	c.scope.Close()
	log.Info("Client stopped")
}

// RegisterHost hands the client its p2p capability and announces the
// network id to it. The handle is held weakly.
func (c *Client) RegisterHost(h Host) {
	c.host.Store(&hostHolder{h: h})
	h.SetNetworkID(c.config.NetworkID)
}

// UnregisterHost drops the host handle; pending references finish their
// call, new ones see the host as gone.
func (c *Client) UnregisterHost() {
	c.host.Store(nil)
}

func (c *Client) hostRef() Host {
	if holder := c.host.Load(); holder != nil {
		return holder.h
	}
	return nil
}

// Filters exposes the filter/watch registry.
func (c *Client) Filters() *filters.System {
	return c.filters
}

// GasPricer exposes the gas price oracle.
func (c *Client) GasPricer() gasprice.Pricer {
	return c.gp
}

// resyncState rebases the whole triad onto the canonical head, discarding
// pending content. Locks nest in triad order.
func (c *Client) resyncState() {
	c.preMu.Lock()
	c.preMine.Sync(c.bc)
	c.workingMu.Lock()
	c.working = c.preMine.Copy()
	c.workingMu.Unlock()
	c.postMu.Lock()
	c.postMine = c.preMine.Copy()
	c.postMu.Unlock()
	c.preMu.Unlock()
}

// KillChain discards the entire chain and state and starts over from the
// genesis. Requires a full worker stop; mining resumes afterwards if it was
// running.
func (c *Client) KillChain() {
	wasMining := c.IsMining()
	if wasMining {
		c.StopMining()
	}
	c.stopWorker()

	c.tq.Clear()
	c.bq.Clear()
	c.farm.Stop()

	c.preMu.Lock()
	c.workingMu.Lock()
	c.postMu.Lock()
	if err := c.sf.Reopen(Kill); err != nil {
		log.Error("Failed to reopen state database", "err", err)
	}
	if err := c.bc.Reopen(Kill); err != nil {
		log.Error("Failed to reopen chain store", "err", err)
	}
	c.preMine = c.sf.OpenState()
	c.preMine.SetCoinbase(c.config.Coinbase)
	c.preMine.Sync(c.bc)
	c.working = c.preMine.Copy()
	c.postMine = c.preMine.Copy()
	c.postMu.Unlock()
	c.workingMu.Unlock()
	c.preMu.Unlock()

	if h := c.hostRef(); h != nil {
		h.Reset()
	}
	log.Info("Chain killed", "genesis", c.bc.GenesisHash())

	c.startWorker()
	if wasMining {
		c.StartMining()
	}
}

// ClearPending drops every pending transaction, rolling the post state back
// to the chain head.
func (c *Client) ClearPending() {
	c.preMu.RLock()
	c.postMu.Lock()
	if len(c.postMine.Pending()) == 0 {
		c.postMu.Unlock()
		c.preMu.RUnlock()
		return
	}
	c.tq.Clear()
	c.postMine = c.preMine.Copy()
	c.postMu.Unlock()
	c.preMu.RUnlock()

	if c.IsMining() {
		c.RejigMining()
	}
	c.filters.NoteChanged(newDirtySet())
}

// onTransactionQueueReady is the queue's ready callback: flag and wake, no
// locks.
func (c *Client) onTransactionQueueReady() {
	c.syncingTxs.Store(true)
	c.signalWorker()
}

// onBlockQueueReady is the block queue's ready callback.
func (c *Client) onBlockQueueReady() {
	c.syncingBlocks.Store(true)
	c.signalWorker()
}

func (c *Client) signalWorker() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}
