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

// Package filters implements the client's filtering system for log, pending
// transaction and chain events. Observers install a filter and attach
// watches to it; matches accumulate on the filter and are flushed into the
// watches in batches, to be collected by polling.
package filters

import (
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reserved pseudo-filter identities. They accumulate raw hashes rather than
// predicate matches: every new pending transaction hash lands on
// PendingChangedFilter, every newly canonical block hash on
// ChainChangedFilter.
var (
	PendingChangedFilter = common.BigToHash(big.NewInt(0))
	ChainChangedFilter   = common.BigToHash(big.NewInt(1))
)

// LocalizedLog is one watch change: either a matched log entry localized to
// its block and transaction, or a special marker from one of the
// pseudo-filters carrying just a hash.
type LocalizedLog struct {
	Log     *types.Log
	Special common.Hash // set instead of Log for pseudo-filter entries
}

// IsSpecial reports whether the entry is a pseudo-filter marker.
func (l LocalizedLog) IsSpecial() bool { return l.Log == nil }

type installedFilter struct {
	crit    Criteria
	refs    int // number of watches attached
	changes []LocalizedLog
}

// Reaping picks the garbage collection policy of a watch: automatic
// watches die when their poll clock goes idle, manual ones (observer
// subscriptions) are exempt until their first poll and idle out like the
// others after that.
type Reaping byte

const (
	ReapAutomatically Reaping = iota
	ReapManually
)

type watch struct {
	filter   common.Hash
	changes  []LocalizedLog
	lastPoll time.Time // zero means never reaped; reset by every poll
}

// idleTimeout and sweepInterval govern watch garbage collection. Vars so
// the tests can compress them.
var (
	idleTimeout   = 20 * time.Second
	sweepInterval = 5 * time.Second
)

// System is the filter/watch registry. All methods are safe for concurrent
// use; the single mutex is only ever held across in-memory appends.
type System struct {
	mu        sync.Mutex
	filters   map[common.Hash]*installedFilter
	special   map[common.Hash][]common.Hash
	watches   map[uint64]*watch
	nextWatch uint64
	lastSweep time.Time
}

func NewSystem() *System {
	return &System{
		filters: make(map[common.Hash]*installedFilter),
		special: map[common.Hash][]common.Hash{
			PendingChangedFilter: nil,
			ChainChangedFilter:   nil,
		},
		watches: make(map[uint64]*watch),
	}
}

// InstallFilter registers a predicate and returns its identity. Installing
// the same criteria twice converges on a single filter.
func (s *System) InstallFilter(crit Criteria) common.Hash {
	id := crit.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.filters[id]; !ok {
		s.filters[id] = &installedFilter{crit: crit}
	}
	return id
}

// InstallWatch attaches a watch to a filter or pseudo-filter id and returns
// the watch id.
func (s *System) InstallWatch(filter common.Hash, reaping Reaping) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installWatch(filter, reaping)
}

// WatchCriteria installs the filter for the criteria and a watch on it in
// one step.
func (s *System) WatchCriteria(crit Criteria, reaping Reaping) uint64 {
	id := crit.ID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.filters[id]; !ok {
		s.filters[id] = &installedFilter{crit: crit}
	}
	return s.installWatch(id, reaping)
}

func (s *System) installWatch(filter common.Hash, reaping Reaping) uint64 {
	id := s.nextWatch
	s.nextWatch++
	w := &watch{filter: filter}
	if reaping == ReapAutomatically {
		w.lastPoll = time.Now()
	}
	s.watches[id] = w
	if f, ok := s.filters[filter]; ok {
		f.refs++
	}
	return id
}

// UninstallWatch removes a watch. The filter it referenced is dropped once
// no watch remains attached to it. Unknown ids are a soft error.
func (s *System) UninstallWatch(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return false
	}
	delete(s.watches, id)
	if f, ok := s.filters[w.filter]; ok {
		if f.refs--; f.refs <= 0 {
			delete(s.filters, w.filter)
		}
	}
	return true
}

// Poll drains a watch's accumulated changes and stamps its poll time,
// restarting the idle clock. Unknown ids return nothing.
func (s *System) Poll(id uint64) []LocalizedLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return nil
	}
	changes := w.changes
	w.changes = nil
	w.lastPoll = time.Now()
	return changes
}

// AppendFromNewPending matches a freshly executed pending receipt against
// every installed filter and records the transaction hash on the pending
// pseudo-filter. Touched filter ids are added to dirty.
func (s *System) AppendFromNewPending(receipt *types.Receipt, dirty mapset.Set[common.Hash], txHash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty.Add(PendingChangedFilter)
	s.special[PendingChangedFilter] = append(s.special[PendingChangedFilter], txHash)
	for id, f := range s.filters {
		if m := f.crit.Matches(receipt); len(m) > 0 {
			for _, l := range m {
				f.changes = append(f.changes, LocalizedLog{Log: l})
			}
			dirty.Add(id)
		}
	}
}

// AppendFromNewBlock matches every receipt of a newly canonical block,
// localizing hits with block info, transaction hash and index and a running
// log index, and records the block hash on the chain pseudo-filter.
func (s *System) AppendFromNewBlock(header *types.Header, receipts types.Receipts, txHashes []common.Hash, dirty mapset.Set[common.Hash]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty.Add(ChainChangedFilter)
	s.special[ChainChangedFilter] = append(s.special[ChainChangedFilter], header.Hash())
	for id, f := range s.filters {
		if !f.crit.bloomPossible(header.Bloom) {
			continue
		}
		logIndex := uint(0)
		for j, receipt := range receipts {
			m := f.crit.Matches(receipt)
			for _, l := range m {
				entry := *l
				entry.BlockHash = header.Hash()
				entry.BlockNumber = header.Number.Uint64()
				if j < len(txHashes) {
					entry.TxHash = txHashes[j]
				}
				entry.TxIndex = uint(j)
				entry.Index = logIndex
				logIndex++
				f.changes = append(f.changes, LocalizedLog{Log: &entry})
			}
			if len(m) > 0 {
				dirty.Add(id)
			}
		}
	}
}

// NoteChanged flushes the accumulated changes of every dirty filter into the
// watches attached to it, then clears all per-filter buffers.
func (s *System) NoteChanged(dirty mapset.Set[common.Hash]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watches {
		if !dirty.Contains(w.filter) {
			continue
		}
		if f, ok := s.filters[w.filter]; ok {
			w.changes = append(w.changes, f.changes...)
		} else if hashes, ok := s.special[w.filter]; ok {
			for _, h := range hashes {
				w.changes = append(w.changes, LocalizedLog{Special: h})
			}
		}
	}
	// clear the filters now
	for _, f := range s.filters {
		f.changes = nil
	}
	for id := range s.special {
		s.special[id] = nil
	}
}

// SweepIdle garbage-collects automatically reaped watches whose poll clock
// has gone idle beyond the timeout. Sweeps are rate limited to the sweep
// interval; manually reaped watches are exempt until their first poll.
// Returns the ids removed.
func (s *System) SweepIdle(now time.Time) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) < sweepInterval {
		return nil
	}
	s.lastSweep = now
	var stale []uint64
	for id, w := range s.watches {
		if !w.lastPoll.IsZero() && now.Sub(w.lastPoll) > idleTimeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		w := s.watches[id]
		delete(s.watches, id)
		if f, ok := s.filters[w.filter]; ok {
			if f.refs--; f.refs <= 0 {
				delete(s.filters, w.filter)
			}
		}
	}
	return stale
}

// WatchCount reports how many watches are installed.
func (s *System) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}
