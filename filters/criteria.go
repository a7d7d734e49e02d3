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

package filters

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Criteria is a predicate over log entries. An empty address list matches
// any address; each topic position holds alternatives, an empty position
// matches anything.
type Criteria struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// ID derives the filter identity from the criteria content, so equal
// predicates share one filter.
func (c Criteria) ID() common.Hash {
	enc, _ := rlp.EncodeToBytes(c)
	return crypto.Keccak256Hash(enc)
}

// Matches returns the logs of the receipt satisfying the criteria.
func (c Criteria) Matches(receipt *types.Receipt) []*types.Log {
	var matched []*types.Log
	for _, l := range receipt.Logs {
		if c.matchesLog(l) {
			matched = append(matched, l)
		}
	}
	return matched
}

func (c Criteria) matchesLog(l *types.Log) bool {
	if len(c.Addresses) > 0 {
		found := false
		for _, addr := range c.Addresses {
			if addr == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Topics) > len(l.Topics) {
		return false
	}
	for i, alternatives := range c.Topics {
		if len(alternatives) == 0 {
			continue // wildcard position
		}
		found := false
		for _, topic := range alternatives {
			if l.Topics[i] == topic {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// bloomPossible is a cheap prefilter: false means no log in the block can
// match the criteria.
func (c Criteria) bloomPossible(bloom types.Bloom) bool {
	if len(c.Addresses) > 0 {
		included := false
		for _, addr := range c.Addresses {
			if types.BloomLookup(bloom, addr) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, alternatives := range c.Topics {
		if len(alternatives) == 0 {
			continue
		}
		included := false
		for _, topic := range alternatives {
			if types.BloomLookup(bloom, topic) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	return true
}
