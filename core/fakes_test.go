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
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emberchain/ember/gasprice"
	"github.com/emberchain/ember/miner"
)

// drainStep is one canned SyncQueue result of a fakeState: the receipts to
// report and the transactions they belong to.
type drainStep struct {
	txs      types.Transactions
	receipts types.Receipts
}

type fakeState struct {
	mu         sync.Mutex
	coinbase   common.Address
	base       common.Hash
	pendingTxs types.Transactions

	drain       []drainStep
	committed   int
	work        miner.Work
	sealOK      bool
	sealedBytes []byte

	copiedFrom *fakeState
}

func (s *fakeState) Sync(chain ChainStore) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := chain.CurrentHash()
	moved := s.base != head
	s.base = head
	if moved {
		s.pendingTxs = nil
	}
	return moved
}

func (s *fakeState) SyncQueue(ChainStore, *TransactionQueue, gasprice.Pricer) (types.Receipts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.drain) == 0 {
		return nil, false
	}
	step := s.drain[0]
	s.drain = s.drain[1:]
	s.pendingTxs = append(s.pendingTxs, step.txs...)
	return step.receipts, false
}

func (s *fakeState) CommitToMine(ChainStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed++
	return nil
}

func (s *fakeState) CompleteMine(miner.Solution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealOK
}

func (s *fakeState) SealedBlock() []byte { return s.sealedBytes }

func (s *fakeState) Pending() types.Transactions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(types.Transactions(nil), s.pendingTxs...)
}

func (s *fakeState) FromPending(int) WorldState { return s.Copy() }

func (s *fakeState) MiningInfo() miner.Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.work
}

func (s *fakeState) Copy() WorldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fakeState{
		coinbase:    s.coinbase,
		base:        s.base,
		pendingTxs:  append(types.Transactions(nil), s.pendingTxs...),
		work:        s.work,
		sealOK:      s.sealOK,
		sealedBytes: s.sealedBytes,
		copiedFrom:  s,
	}
}

func (s *fakeState) PopulateFromChain(chain ChainStore, block common.Hash) error {
	if _, err := chain.Info(block); err != nil {
		return err
	}
	s.base = block
	return nil
}

func (s *fakeState) Coinbase() common.Address        { return s.coinbase }
func (s *fakeState) SetCoinbase(addr common.Address) { s.coinbase = addr }

func (s *fakeState) BalanceAt(common.Address) *big.Int   { return new(big.Int) }
func (s *fakeState) AddBalance(common.Address, *big.Int) {}

func (s *fakeState) StorageAt(common.Address, common.Hash) common.Hash { return common.Hash{} }

func (s *fakeState) Call(msg CallMsg) (ExecutionResult, error) {
	return ExecutionResult{UsedGas: 21000, Output: msg.Data}, nil
}

type fakeFactory struct {
	mu       sync.Mutex
	reopened []Action
	opened   []*fakeState
}

func (f *fakeFactory) OpenState() WorldState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &fakeState{}
	f.opened = append(f.opened, st)
	return st
}

func (f *fakeFactory) Reopen(action Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopened = append(f.reopened, action)
	return nil
}

type syncStep struct {
	route ImportRoute
	more  bool
}

type fakeStore struct {
	mu       sync.Mutex
	genesis  common.Hash
	head     common.Hash
	headers  map[common.Hash]*types.Header
	txs      map[common.Hash]types.Transactions
	receipts map[common.Hash]types.Receipts

	syncSteps []syncStep
	reopened  []Action
	gcRuns    int
}

func newFakeStore() *fakeStore {
	genesisHeader := &types.Header{Number: new(big.Int), Difficulty: big.NewInt(1)}
	genesis := genesisHeader.Hash()
	return &fakeStore{
		genesis:  genesis,
		head:     genesis,
		headers:  map[common.Hash]*types.Header{genesis: genesisHeader},
		txs:      make(map[common.Hash]types.Transactions),
		receipts: make(map[common.Hash]types.Receipts),
	}
}

// addBlock registers a header carrying the given transactions and returns
// its hash; moveHead decides whether the canonical head advances to it.
func (s *fakeStore) addBlock(number int64, txs types.Transactions, moveHead bool) common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	header := &types.Header{
		ParentHash: s.head,
		Number:     big.NewInt(number),
		Difficulty: big.NewInt(1),
		// siblings of equal height stay distinct by registration order
		Extra: []byte{byte(len(s.headers))},
	}
	hash := header.Hash()
	s.headers[hash] = header
	s.txs[hash] = txs
	var receipts types.Receipts
	for range txs {
		receipts = append(receipts, &types.Receipt{GasUsed: 21000, Status: types.ReceiptStatusSuccessful})
	}
	s.receipts[hash] = receipts
	if moveHead {
		s.head = hash
	}
	return hash
}

func (s *fakeStore) CurrentHash() common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

func (s *fakeStore) GenesisHash() common.Hash { return s.genesis }

func (s *fakeStore) Number() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[s.head].Number.Uint64()
}

func (s *fakeStore) Info(hash common.Hash) (*types.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.headers[hash]
	if !ok {
		return nil, errors.New("unknown block")
	}
	return h, nil
}

func (s *fakeStore) Receipts(hash common.Hash) types.Receipts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[hash]
}

func (s *fakeStore) Transactions(hash common.Hash) types.Transactions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs[hash]
}

func (s *fakeStore) TransactionHashes(hash common.Hash) []common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hashes []common.Hash
	for _, tx := range s.txs[hash] {
		hashes = append(hashes, tx.Hash())
	}
	return hashes
}

func (s *fakeStore) Sync(bq *BlockQueue, _ StateFactory, max int) (ImportRoute, bool) {
	bq.Drain(max)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.syncSteps) == 0 {
		return ImportRoute{}, false
	}
	step := s.syncSteps[0]
	s.syncSteps = s.syncSteps[1:]
	return step.route, step.more
}

func (s *fakeStore) GarbageCollect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcRuns++
}

func (s *fakeStore) Reopen(action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopened = append(s.reopened, action)
	return nil
}

type fakeHost struct {
	mu        sync.Mutex
	newTxs    int
	newBlocks int
	resets    int
	networkID uint64
	syncing   bool
}

func (h *fakeHost) NoteNewTransactions() { h.mu.Lock(); h.newTxs++; h.mu.Unlock() }
func (h *fakeHost) NoteNewBlocks()       { h.mu.Lock(); h.newBlocks++; h.mu.Unlock() }
func (h *fakeHost) Reset()               { h.mu.Lock(); h.resets++; h.mu.Unlock() }

func (h *fakeHost) Status() SyncStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return SyncStatus{Syncing: h.syncing}
}

func (h *fakeHost) IsSyncing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncing
}

func (h *fakeHost) SetNetworkID(id uint64) { h.mu.Lock(); h.networkID = id; h.mu.Unlock() }

type fakeFarm struct {
	mu       sync.Mutex
	work     miner.Work
	mining   bool
	starts   int
	stops    int
	solution func(miner.Solution) bool
}

func (f *fakeFarm) SetWork(w miner.Work) { f.mu.Lock(); f.work = w; f.mu.Unlock() }
func (f *fakeFarm) Start()               { f.mu.Lock(); f.mining = true; f.starts++; f.mu.Unlock() }
func (f *fakeFarm) Stop()                { f.mu.Lock(); f.mining = false; f.stops++; f.mu.Unlock() }

func (f *fakeFarm) IsMining() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mining
}

func (f *fakeFarm) Progress() miner.Progress { return miner.Progress{} }

func (f *fakeFarm) OnSolutionFound(cb func(miner.Solution) bool) {
	f.mu.Lock()
	f.solution = cb
	f.mu.Unlock()
}

func (f *fakeFarm) lastWork() miner.Work {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.work
}

// newFakeClient wires a client over fakes without starting the worker.
func newFakeClient(t *testing.T, cfg *Config) (*Client, *fakeStore, *fakeFactory, *TransactionQueue, *BlockQueue, *fakeFarm) {
	store := newFakeStore()
	factory := &fakeFactory{}
	tq := NewTransactionQueue(big.NewInt(1))
	bq := NewBlockQueue()
	farm := &fakeFarm{}
	client, err := New(cfg, Trust, store, factory, tq, bq,
		gasprice.NewTrivialPricer(big.NewInt(10), big.NewInt(0)), farm)
	if err != nil {
		t.Fatalf("failed to assemble client: %v", err)
	}
	return client, store, factory, tq, bq, farm
}
