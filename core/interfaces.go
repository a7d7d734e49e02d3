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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emberchain/ember/gasprice"
	"github.com/emberchain/ember/miner"
)

// Action tells a store what to do with existing on-disk data at open time.
// The values order by destructiveness so two opinions combine by max.
type Action byte

const (
	Trust  Action = iota // use the existing data as is
	Verify               // revalidate the existing data before use
	Kill                 // discard the existing data
)

func (a Action) String() string {
	switch a {
	case Trust:
		return "trust"
	case Verify:
		return "verify"
	case Kill:
		return "kill"
	}
	return "unknown"
}

// MaxAction combines two opinions on existing data, most destructive wins.
func MaxAction(a, b Action) Action {
	if a > b {
		return a
	}
	return b
}

// ImportRoute is the outcome of one store sync: the new canonical suffix in
// order and the orphaned suffix of the previous head.
type ImportRoute struct {
	Imported []common.Hash
	Dead     []common.Hash
}

// ChainStore supplies blocks, receipts and the canonical head, and imports
// queued blocks into state.
type ChainStore interface {
	CurrentHash() common.Hash
	GenesisHash() common.Hash
	Number() uint64

	Info(hash common.Hash) (*types.Header, error)
	Receipts(hash common.Hash) types.Receipts
	Transactions(hash common.Hash) types.Transactions
	TransactionHashes(hash common.Hash) []common.Hash

	// Sync imports up to max blocks from the queue, returning the route of
	// canonical changes and whether more blocks remain queued.
	Sync(bq *BlockQueue, sf StateFactory, max int) (ImportRoute, bool)

	GarbageCollect()
	Reopen(action Action) error
}

// StateFactory opens fresh world-state snapshots against the backing state
// database.
type StateFactory interface {
	OpenState() WorldState
	Reopen(action Action) error
}

// CallMsg is a transient, unsigned invocation executed by Call.
type CallMsg struct {
	From     common.Address
	To       common.Address
	Gas      uint64
	GasPrice *big.Int
	Value    *big.Int
	Data     []byte
}

// ExecutionResult is the outcome of a transient call.
type ExecutionResult struct {
	UsedGas uint64
	Output  []byte
}

// WorldState is a mutable copy-on-write view of accounts and storage at
// some point in history. The client owns three instances of it.
type WorldState interface {
	// Sync rebases the snapshot onto the chain head, discarding pending
	// content. It reports whether the base actually moved.
	Sync(chain ChainStore) bool

	// SyncQueue executes queued transactions into the snapshot, returning
	// the receipts of the newly accepted ones and whether the queue still
	// holds more work.
	SyncQueue(chain ChainStore, tq *TransactionQueue, gp gasprice.Pricer) (types.Receipts, bool)

	// CommitToMine closes the snapshot into a candidate block ready for
	// sealing.
	CommitToMine(chain ChainStore) error

	// CompleteMine applies a seal solution to the committed candidate. A
	// false return leaves the snapshot untouched.
	CompleteMine(sol miner.Solution) bool

	// SealedBlock returns the serialized bytes of the completed block.
	SealedBlock() []byte

	Pending() types.Transactions
	FromPending(i int) WorldState
	MiningInfo() miner.Work
	Copy() WorldState
	PopulateFromChain(chain ChainStore, block common.Hash) error

	Coinbase() common.Address
	SetCoinbase(common.Address)

	BalanceAt(addr common.Address) *big.Int
	AddBalance(addr common.Address, amount *big.Int)
	StorageAt(addr common.Address, slot common.Hash) common.Hash

	Call(msg CallMsg) (ExecutionResult, error)
}

// SyncStatus describes the host's view of chain synchronisation.
type SyncStatus struct {
	StartingBlock uint64
	CurrentBlock  uint64
	HighestBlock  uint64
	Syncing       bool
}

// Host is the peer-to-peer capability serving this client. The client holds
// it weakly: a nil handle means the host is gone and calls are skipped.
type Host interface {
	NoteNewTransactions()
	NoteNewBlocks()
	Status() SyncStatus
	IsSyncing() bool
	Reset()
	SetNetworkID(id uint64)
}
