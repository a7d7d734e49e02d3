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

// Package memchain is an in-memory chain store and world state good enough
// for development runs and tests. It applies a trivial balance-transfer
// model instead of a real execution engine; reorganisations follow total
// difficulty.
package memchain

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/emberchain/ember/core"
)

const txGas = 21000

var (
	errUnknownBlock = errors.New("unknown block")

	maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Store is an in-memory chain store keyed by block hash, with a canonical
// index maintained by total difficulty.
type Store struct {
	mu       sync.RWMutex
	signer   types.Signer
	chainID  *big.Int
	alloc    map[common.Address]*big.Int
	blocks   map[common.Hash]*types.Block
	receipts map[common.Hash]types.Receipts
	td       map[common.Hash]*big.Int
	canon    map[uint64]common.Hash
	head     *types.Block
	genesis  *types.Block

	// storage backs the canary and similar dev reads; set via SetStorage.
	storage map[common.Address]map[common.Hash]common.Hash
}

// New creates a store holding just the genesis block, crediting the given
// balances, plus a state factory over it.
func New(chainID *big.Int, alloc map[common.Address]*big.Int) (*Store, *Factory) {
	s := &Store{
		signer:  types.LatestSignerForChainID(chainID),
		chainID: chainID,
		alloc:   alloc,
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
	s.reset()
	return s, &Factory{store: s}
}

// reset reinitialises the store to the genesis block. Caller holds the lock
// (or is the constructor).
func (s *Store) reset() {
	genesis := types.NewBlockWithHeader(&types.Header{
		Number:     new(big.Int),
		Difficulty: big.NewInt(1),
		GasLimit:   10_000_000,
		Extra:      []byte("memchain genesis"),
	})
	s.genesis = genesis
	s.head = genesis
	s.blocks = map[common.Hash]*types.Block{genesis.Hash(): genesis}
	s.receipts = map[common.Hash]types.Receipts{genesis.Hash(): nil}
	s.td = map[common.Hash]*big.Int{genesis.Hash(): new(big.Int).Set(genesis.Difficulty())}
	s.canon = map[uint64]common.Hash{0: genesis.Hash()}
}

func (s *Store) CurrentHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head.Hash()
}

func (s *Store) GenesisHash() common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genesis.Hash()
}

func (s *Store) Number() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head.NumberU64()
}

func (s *Store) Info(hash common.Hash) (*types.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[hash]
	if !ok {
		return nil, errUnknownBlock
	}
	return b.Header(), nil
}

func (s *Store) Receipts(hash common.Hash) types.Receipts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[hash]
}

func (s *Store) Transactions(hash common.Hash) types.Transactions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.blocks[hash]; ok {
		return b.Transactions()
	}
	return nil
}

func (s *Store) TransactionHashes(hash common.Hash) []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[hash]
	if !ok {
		return nil
	}
	hashes := make([]common.Hash, 0, len(b.Transactions()))
	for _, tx := range b.Transactions() {
		hashes = append(hashes, tx.Hash())
	}
	return hashes
}

// Sync imports up to max queued blocks. Blocks whose parent is unknown are
// skipped; the canonical head follows total difficulty. The returned route
// is the canonical difference of the batch.
func (s *Store) Sync(bq *core.BlockQueue, _ core.StateFactory, max int) (core.ImportRoute, bool) {
	batch := bq.Drain(max)

	s.mu.Lock()
	oldHead := s.head
	for _, entry := range batch {
		b := entry.Block
		if _, ok := s.blocks[b.Hash()]; ok {
			continue
		}
		parentTD, ok := s.td[b.ParentHash()]
		if !ok {
			log.Debug("Skipping block with unknown parent", "hash", b.Hash(), "parent", b.ParentHash())
			continue
		}
		s.blocks[b.Hash()] = b
		s.receipts[b.Hash()] = synthesizeReceipts(b.Transactions())
		s.td[b.Hash()] = new(big.Int).Add(parentTD, b.Difficulty())
		if s.td[b.Hash()].Cmp(s.td[s.head.Hash()]) > 0 {
			s.head = b
		}
	}
	var route core.ImportRoute
	if s.head.Hash() != oldHead.Hash() {
		route = s.routeLocked(oldHead, s.head)
		s.rebuildCanonLocked()
	}
	s.mu.Unlock()

	unknown, _ := bq.Items()
	return route, unknown > 0
}

// routeLocked computes the canonical difference between two heads.
func (s *Store) routeLocked(oldHead, newHead *types.Block) core.ImportRoute {
	var route core.ImportRoute
	a, b := oldHead, newHead
	for a.NumberU64() > b.NumberU64() {
		route.Dead = append(route.Dead, a.Hash())
		a = s.blocks[a.ParentHash()]
	}
	for b.NumberU64() > a.NumberU64() {
		route.Imported = append(route.Imported, b.Hash())
		b = s.blocks[b.ParentHash()]
	}
	for a.Hash() != b.Hash() {
		route.Dead = append(route.Dead, a.Hash())
		route.Imported = append(route.Imported, b.Hash())
		a = s.blocks[a.ParentHash()]
		b = s.blocks[b.ParentHash()]
	}
	// Imported is expected oldest first.
	for i, j := 0, len(route.Imported)-1; i < j; i, j = i+1, j-1 {
		route.Imported[i], route.Imported[j] = route.Imported[j], route.Imported[i]
	}
	return route
}

func (s *Store) rebuildCanonLocked() {
	s.canon = make(map[uint64]common.Hash)
	for b := s.head; ; b = s.blocks[b.ParentHash()] {
		s.canon[b.NumberU64()] = b.Hash()
		if b.NumberU64() == 0 {
			break
		}
	}
}

// CanonicalHash returns the canonical hash at a height, zero if above the
// head.
func (s *Store) CanonicalHash(number uint64) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canon[number]
}

func (s *Store) GarbageCollect() {}

// Reopen honours Kill by resetting to the genesis; anything milder keeps
// the data (there is nothing on disk to revalidate).
func (s *Store) Reopen(action core.Action) error {
	if action != core.Kill {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// SetStorage pokes a storage slot, visible to every snapshot. Dev helper
// backing the canary.
func (s *Store) SetStorage(addr common.Address, slot, value common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storage[addr] == nil {
		s.storage[addr] = make(map[common.Hash]common.Hash)
	}
	s.storage[addr][slot] = value
}

func (s *Store) storageAt(addr common.Address, slot common.Hash) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage[addr][slot]
}

// NewBlock builds an importable child of parent carrying the given
// transactions. Difficulty weighs reorg choice; nil means 1.
func (s *Store) NewBlock(parent common.Hash, coinbase common.Address, txs types.Transactions, difficulty *big.Int) ([]byte, error) {
	s.mu.RLock()
	parentBlock, ok := s.blocks[parent]
	s.mu.RUnlock()
	if !ok {
		return nil, errUnknownBlock
	}
	if difficulty == nil {
		difficulty = big.NewInt(1)
	}
	header := buildHeader(parentBlock, coinbase, txs, difficulty)
	block := types.NewBlockWithHeader(header).WithBody(txs, nil)
	return rlp.EncodeToBytes(block)
}

// buildHeader assembles a header over parent for the given transactions,
// with the receipt bloom precomputed so filter prechecks work.
func buildHeader(parent *types.Block, coinbase common.Address, txs types.Transactions, difficulty *big.Int) *types.Header {
	receipts := synthesizeReceipts(txs)
	header := &types.Header{
		ParentHash:  parent.Hash(),
		Coinbase:    coinbase,
		Number:      new(big.Int).Add(parent.Number(), big.NewInt(1)),
		Difficulty:  new(big.Int).Set(difficulty),
		GasLimit:    parent.GasLimit(),
		GasUsed:     uint64(len(txs)) * txGas,
		Time:        parent.Time() + 1,
		TxHash:      types.DeriveSha(txs, trie.NewStackTrie(nil)),
		ReceiptHash: types.DeriveSha(receipts, trie.NewStackTrie(nil)),
		Bloom:       types.CreateBloom(receipts),
	}
	return header
}

// synthesizeReceipts derives deterministic receipts for a transaction list:
// flat gas per transaction, and one log per payload-carrying call so the
// filter paths have material to match.
func synthesizeReceipts(txs types.Transactions) types.Receipts {
	var receipts types.Receipts
	for i, tx := range txs {
		r := &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: uint64(i+1) * txGas,
			GasUsed:           txGas,
			TxHash:            tx.Hash(),
		}
		if len(tx.Data()) > 0 && tx.To() != nil {
			r.Logs = []*types.Log{{
				Address: *tx.To(),
				Topics:  []common.Hash{crypto.Keccak256Hash(tx.Data())},
				Data:    tx.Data(),
				TxHash:  tx.Hash(),
			}}
		}
		r.Bloom = types.CreateBloom(types.Receipts{r})
		receipts = append(receipts, r)
	}
	return receipts
}

// boundaryFor maps a difficulty to a seal boundary.
func boundaryFor(difficulty *big.Int) common.Hash {
	if difficulty.Sign() <= 0 {
		return common.BigToHash(maxTarget)
	}
	return common.BigToHash(new(big.Int).Div(maxTarget, difficulty))
}
