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

package memchain

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emberchain/ember/core"
	"github.com/emberchain/ember/gasprice"
	"github.com/emberchain/ember/miner"
)

// Factory opens fresh snapshots over a Store.
type Factory struct {
	store *Store
}

func (f *Factory) OpenState() core.WorldState {
	return &worldState{
		store:    f.store,
		accounts: f.store.genesisAccounts(),
	}
}

func (f *Factory) Reopen(action core.Action) error {
	// All state is derived by replay; there is nothing on disk to discard.
	return nil
}

// Store returns the backing chain store.
func (f *Factory) Store() *Store { return f.store }

type account struct {
	nonce   uint64
	balance *big.Int
}

func (a *account) copy() *account {
	return &account{nonce: a.nonce, balance: new(big.Int).Set(a.balance)}
}

// worldState is a trivial account model: balances move, nonces count, gas
// is flat. Pending transactions are applied on top of the canonical base.
type worldState struct {
	store    *Store
	base     common.Hash // canonical block the accounts mirror, zero until first sync
	coinbase common.Address

	accounts map[common.Address]*account

	pending         types.Transactions
	pendingReceipts types.Receipts

	candidate *types.Block
	work      miner.Work
	sealed    []byte
}

func (s *Store) genesisAccounts() map[common.Address]*account {
	accounts := make(map[common.Address]*account)
	for addr, balance := range s.alloc {
		accounts[addr] = &account{balance: new(big.Int).Set(balance)}
	}
	return accounts
}

func (w *worldState) account(addr common.Address) *account {
	a, ok := w.accounts[addr]
	if !ok {
		a = &account{balance: new(big.Int)}
		w.accounts[addr] = a
	}
	return a
}

// applyTx moves value and fee without validity checks; canonical blocks are
// taken as already validated.
func (w *worldState) applyTx(tx *types.Transaction, coinbase common.Address) {
	from, err := types.Sender(w.store.signer, tx)
	if err != nil {
		return
	}
	fee := new(big.Int).Mul(tx.GasPrice(), big.NewInt(txGas))
	sender := w.account(from)
	sender.nonce++
	sender.balance.Sub(sender.balance, new(big.Int).Add(tx.Value(), fee))
	if to := tx.To(); to != nil {
		w.account(*to).balance.Add(w.account(*to).balance, tx.Value())
	}
	w.account(coinbase).balance.Add(w.account(coinbase).balance, fee)
}

// replayTo rebuilds the account set by replaying the ancestry of the given
// block over the genesis allocation.
func (w *worldState) replayTo(chain core.ChainStore, block common.Hash) error {
	var path []common.Hash
	for h := block; ; {
		header, err := chain.Info(h)
		if err != nil {
			return err
		}
		if header.Number.Uint64() == 0 {
			break
		}
		path = append(path, h)
		h = header.ParentHash
	}
	w.accounts = w.store.genesisAccounts()
	for i := len(path) - 1; i >= 0; i-- {
		header, err := chain.Info(path[i])
		if err != nil {
			return err
		}
		for _, tx := range chain.Transactions(path[i]) {
			w.applyTx(tx, header.Coinbase)
		}
	}
	w.base = block
	return nil
}

// Sync rebases the snapshot onto the chain head, discarding pending
// content. Reports whether the base moved.
func (w *worldState) Sync(chain core.ChainStore) bool {
	head := chain.CurrentHash()
	if head == w.base {
		return false
	}
	if err := w.replayTo(chain, head); err != nil {
		log.Warn("State resync failed", "head", head, "err", err)
		return false
	}
	w.pending = nil
	w.pendingReceipts = nil
	w.candidate = nil
	w.sealed = nil
	w.work = miner.Work{}
	return true
}

// SyncQueue executes queued transactions into the snapshot. Nonce-stale
// transactions are dropped from the queue; not-yet-ready ones stay put.
func (w *worldState) SyncQueue(chain core.ChainStore, tq *core.TransactionQueue, gp gasprice.Pricer) (types.Receipts, bool) {
	queued := make(map[common.Hash]bool)
	for _, tx := range w.pending {
		queued[tx.Hash()] = true
	}
	bid := gp.Bid()

	var fresh types.Receipts
	for _, tx := range tq.Items() {
		if queued[tx.Hash()] {
			continue
		}
		from, err := types.Sender(w.store.signer, tx)
		if err != nil {
			tq.Drop(tx.Hash())
			continue
		}
		acct := w.account(from)
		if tx.Nonce() < acct.nonce {
			log.Trace("Dropping stale-nonce transaction", "hash", tx.Hash(), "nonce", tx.Nonce())
			tq.Drop(tx.Hash())
			continue
		}
		if tx.Nonce() > acct.nonce {
			continue // gapped, leave queued
		}
		if tx.GasPrice().Cmp(bid) < 0 {
			continue // underpriced for this miner
		}
		cost := new(big.Int).Add(tx.Value(), new(big.Int).Mul(tx.GasPrice(), big.NewInt(txGas)))
		if acct.balance.Cmp(cost) < 0 {
			continue
		}
		w.applyTx(tx, w.coinbase)
		w.pending = append(w.pending, tx)
		receipt := synthesizeReceipts(types.Transactions{tx})[0]
		receipt.CumulativeGasUsed = uint64(len(w.pending)) * txGas
		w.pendingReceipts = append(w.pendingReceipts, receipt)
		fresh = append(fresh, receipt)
	}
	return fresh, false
}

// CommitToMine closes the pending content into an unsealed candidate.
func (w *worldState) CommitToMine(chain core.ChainStore) error {
	base := w.base
	if base == (common.Hash{}) {
		base = chain.CurrentHash()
	}
	w.store.mu.RLock()
	parentBlock, ok := w.store.blocks[base]
	w.store.mu.RUnlock()
	if !ok {
		return errUnknownBlock
	}

	header := buildHeader(parentBlock, w.coinbase, w.pending, big.NewInt(1))
	header.Root = w.stateRoot()
	w.candidate = types.NewBlockWithHeader(header).WithBody(w.pending, nil)
	w.sealed = nil
	w.work = miner.Work{
		HeaderHash: sealHash(header),
		SeedHash:   crypto.Keccak256Hash(header.Number.Bytes()),
		Boundary:   boundaryFor(header.Difficulty),
		Number:     header.Number.Uint64(),
	}
	return nil
}

// CompleteMine applies a seal solution to the committed candidate.
func (w *worldState) CompleteMine(sol miner.Solution) bool {
	if w.candidate == nil {
		return false
	}
	if !miner.VerifySeal(w.work, sol) {
		return false
	}
	header := w.candidate.Header()
	header.Nonce = types.EncodeNonce(sol.Nonce)
	header.MixDigest = sol.MixDigest
	sealedBlock := types.NewBlockWithHeader(header).WithBody(w.pending, nil)
	enc, err := rlp.EncodeToBytes(sealedBlock)
	if err != nil {
		return false
	}
	w.sealed = enc
	return true
}

func (w *worldState) SealedBlock() []byte { return w.sealed }

func (w *worldState) Pending() types.Transactions { return w.pending }

// FromPending is the snapshot with only the first i pending transactions
// applied.
func (w *worldState) FromPending(i int) core.WorldState {
	if i < 0 {
		i = 0
	}
	if i > len(w.pending) {
		i = len(w.pending)
	}
	cp := &worldState{store: w.store, coinbase: w.coinbase}
	if err := cp.replayTo(w.store, w.base); err != nil {
		cp.accounts = w.store.genesisAccounts()
		return cp
	}
	for _, tx := range w.pending[:i] {
		cp.applyTx(tx, w.coinbase)
	}
	cp.pending = append(types.Transactions(nil), w.pending[:i]...)
	cp.pendingReceipts = append(types.Receipts(nil), w.pendingReceipts[:i]...)
	return cp
}

func (w *worldState) MiningInfo() miner.Work { return w.work }

func (w *worldState) Copy() core.WorldState {
	cp := &worldState{
		store:    w.store,
		base:     w.base,
		coinbase: w.coinbase,
		accounts: make(map[common.Address]*account, len(w.accounts)),
		work:     w.work,
	}
	for addr, a := range w.accounts {
		cp.accounts[addr] = a.copy()
	}
	cp.pending = append(types.Transactions(nil), w.pending...)
	cp.pendingReceipts = append(types.Receipts(nil), w.pendingReceipts...)
	cp.candidate = w.candidate
	cp.sealed = append([]byte(nil), w.sealed...)
	return cp
}

// PopulateFromChain rebuilds the snapshot at a historical block.
func (w *worldState) PopulateFromChain(chain core.ChainStore, block common.Hash) error {
	if err := w.replayTo(chain, block); err != nil {
		return err
	}
	w.pending = nil
	w.pendingReceipts = nil
	w.candidate = nil
	w.sealed = nil
	w.work = miner.Work{}
	return nil
}

func (w *worldState) Coinbase() common.Address        { return w.coinbase }
func (w *worldState) SetCoinbase(addr common.Address) { w.coinbase = addr }

func (w *worldState) BalanceAt(addr common.Address) *big.Int {
	if a, ok := w.accounts[addr]; ok {
		return new(big.Int).Set(a.balance)
	}
	return new(big.Int)
}

func (w *worldState) AddBalance(addr common.Address, amount *big.Int) {
	w.account(addr).balance.Add(w.account(addr).balance, amount)
}

func (w *worldState) StorageAt(addr common.Address, slot common.Hash) common.Hash {
	return w.store.storageAt(addr, slot)
}

// Call echoes the payload after charging intrinsic gas and moving value.
// Good enough to exercise the observer path.
func (w *worldState) Call(msg core.CallMsg) (core.ExecutionResult, error) {
	if msg.Gas < txGas {
		return core.ExecutionResult{}, errors.New("intrinsic gas too low")
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	sender := w.account(msg.From)
	if sender.balance.Cmp(value) < 0 {
		return core.ExecutionResult{}, errors.New("insufficient balance for transfer")
	}
	sender.balance.Sub(sender.balance, value)
	w.account(msg.To).balance.Add(w.account(msg.To).balance, value)
	return core.ExecutionResult{UsedGas: txGas, Output: msg.Data}, nil
}

// stateRoot is a deterministic digest of the account set, standing in for
// a real state trie root.
func (w *worldState) stateRoot() common.Hash {
	addrs := make([]common.Address, 0, len(w.accounts))
	for addr := range w.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	var enc []interface{}
	for _, addr := range addrs {
		a := w.accounts[addr]
		enc = append(enc, []interface{}{addr, a.nonce, a.balance})
	}
	blob, _ := rlp.EncodeToBytes(enc)
	return crypto.Keccak256Hash(blob)
}

// sealHash is the header hash a seal solution commits to: the header with
// the seal fields zeroed.
func sealHash(header *types.Header) common.Hash {
	cp := types.CopyHeader(header)
	cp.Nonce = types.BlockNonce{}
	cp.MixDigest = common.Hash{}
	return cp.Hash()
}
