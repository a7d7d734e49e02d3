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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ChainChangedEvent is posted after an import batch moved the canonical
// head.
type ChainChangedEvent struct {
	Imported []common.Hash
	Dead     []common.Hash
}

// PendingChangedEvent is posted after new transactions entered the pending
// state.
type PendingChangedEvent struct {
	Hashes []common.Hash
}

// MinedBlockEvent is posted when a locally sealed block is handed back to
// the import path.
type MinedBlockEvent struct {
	Hash common.Hash
}

// SubscribeChainChanged registers a channel for chain head movements.
func (c *Client) SubscribeChainChanged(ch chan<- ChainChangedEvent) event.Subscription {
	return c.scope.Track(c.chainFeed.Subscribe(ch))
}

// SubscribePendingChanged registers a channel for pending state changes.
func (c *Client) SubscribePendingChanged(ch chan<- PendingChangedEvent) event.Subscription {
	return c.scope.Track(c.pendingFeed.Subscribe(ch))
}

// SubscribeMinedBlock registers a channel for locally sealed blocks.
func (c *Client) SubscribeMinedBlock(ch chan<- MinedBlockEvent) event.Subscription {
	return c.scope.Track(c.minedFeed.Subscribe(ch))
}
