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
	"github.com/ethereum/go-ethereum/log"
)

// Call runs a transient execution over a copy of the post state. The
// sender's balance is augmented to cover the full cost, so calls work from
// unfunded accounts. Failures are swallowed; the observer API is best
// effort.
func (c *Client) Call(msg CallMsg) ExecutionResult {
	c.postMu.RLock()
	temp := c.postMine.Copy()
	c.postMu.RUnlock()

	cost := new(big.Int)
	if msg.GasPrice != nil {
		cost.Mul(msg.GasPrice, new(big.Int).SetUint64(msg.Gas))
	}
	if msg.Value != nil {
		cost.Add(cost, msg.Value)
	}
	temp.AddBalance(msg.From, cost)

	ret, err := temp.Call(msg)
	if err != nil {
		log.Trace("Transient call failed", "to", msg.To, "err", err)
		return ExecutionResult{}
	}
	return ret
}

// StorageAt reads a storage slot from the post state.
func (c *Client) StorageAt(addr common.Address, slot common.Hash) common.Hash {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	return c.postMine.StorageAt(addr, slot)
}

// BalanceAt reads a balance from the post state.
func (c *Client) BalanceAt(addr common.Address) *big.Int {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	return c.postMine.BalanceAt(addr)
}

// Pending returns the transactions pending in the post state.
func (c *Client) Pending() types.Transactions {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	return c.postMine.Pending()
}

// AsOf opens a fresh snapshot populated to the given historical block.
// Population failures route through the bad block handler and yield an
// empty snapshot.
func (c *Client) AsOf(block common.Hash) WorldState {
	st := c.sf.OpenState()
	if err := st.PopulateFromChain(c.bc, block); err != nil {
		c.onBadBlock(NewBadBlockError(err.Error(), nil).WithHint("hash256", block.Hex()))
		return c.sf.OpenState()
	}
	return st
}

// StateAtTransaction is the state of a historical block after its first i
// transactions.
func (c *Client) StateAtTransaction(i int, block common.Hash) WorldState {
	st := c.sf.OpenState()
	if err := st.PopulateFromChain(c.bc, block); err != nil {
		c.onBadBlock(NewBadBlockError(err.Error(), nil).WithHint("hash256", block.Hex()))
		return c.sf.OpenState()
	}
	return st.FromPending(i)
}

// PendingState is the post state after its first i pending transactions.
func (c *Client) PendingState(i int) WorldState {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	return c.postMine.FromPending(i)
}

// canaryValue reads slot zero of the configured canary contract; the zero
// address disables the canary.
func (c *Client) canaryValue() common.Hash {
	if c.config.CanaryAddress == (common.Address{}) {
		return common.Hash{}
	}
	return c.StorageAt(c.config.CanaryAddress, common.Hash{})
}

// IsChainBad reports whether the canary has fired.
func (c *Client) IsChainBad() bool {
	return c.canaryValue() != (common.Hash{})
}

// IsUpgradeNeeded reports whether the canary asks for a client upgrade.
func (c *Client) IsUpgradeNeeded() bool {
	return c.canaryValue() == common.BigToHash(big.NewInt(2))
}

// SyncStatus reports the host's sync progress; zero when the host is gone.
func (c *Client) SyncStatus() SyncStatus {
	if h := c.hostRef(); h != nil {
		return h.Status()
	}
	return SyncStatus{}
}

// IsSyncing reports whether the host is busy syncing the chain.
func (c *Client) IsSyncing() bool {
	if h := c.hostRef(); h != nil {
		return h.IsSyncing()
	}
	return false
}

// SetNetworkID forwards a network id change to the host.
func (c *Client) SetNetworkID(id uint64) {
	if h := c.hostRef(); h != nil {
		h.SetNetworkID(id)
	}
}
