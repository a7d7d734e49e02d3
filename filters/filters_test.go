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
	"math/big"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addr1  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	topicA = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	topicB = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func receiptWithLogs(logs ...*types.Log) *types.Receipt {
	r := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		GasUsed:           21000,
		Logs:              logs,
	}
	r.Bloom = types.CreateBloom(types.Receipts{r})
	return r
}

func TestCriteriaMatching(t *testing.T) {
	logA := &types.Log{Address: addr1, Topics: []common.Hash{topicA}}
	logB := &types.Log{Address: addr2, Topics: []common.Hash{topicB}}
	receipt := receiptWithLogs(logA, logB)

	// address match
	crit := Criteria{Addresses: []common.Address{addr1}}
	require.Len(t, crit.Matches(receipt), 1)
	assert.Equal(t, logA, crit.Matches(receipt)[0])

	// topic alternatives
	crit = Criteria{Topics: [][]common.Hash{{topicA, topicB}}}
	assert.Len(t, crit.Matches(receipt), 2)

	// position must exist
	crit = Criteria{Topics: [][]common.Hash{{}, {topicA}}}
	assert.Empty(t, crit.Matches(receipt))

	// empty criteria match everything
	assert.Len(t, Criteria{}.Matches(receipt), 2)
}

func TestInstallFilterConverges(t *testing.T) {
	s := NewSystem()
	crit := Criteria{Addresses: []common.Address{addr1}}
	id1 := s.InstallFilter(crit)
	id2 := s.InstallFilter(Criteria{Addresses: []common.Address{addr1}})
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, s.InstallFilter(Criteria{Addresses: []common.Address{addr2}}))
}

func TestPendingAppendAndPoll(t *testing.T) {
	s := NewSystem()
	watchID := s.WatchCriteria(Criteria{Addresses: []common.Address{addr1}}, ReapManually)
	pendingWatch := s.InstallWatch(PendingChangedFilter, ReapManually)

	txHash := common.HexToHash("0x01")
	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewPending(receiptWithLogs(&types.Log{Address: addr1}), dirty, txHash)
	s.NoteChanged(dirty)

	changes := s.Poll(watchID)
	require.Len(t, changes, 1)
	assert.False(t, changes[0].IsSpecial())
	assert.Equal(t, addr1, changes[0].Log.Address)

	special := s.Poll(pendingWatch)
	require.Len(t, special, 1)
	assert.True(t, special[0].IsSpecial())
	assert.Equal(t, txHash, special[0].Special)

	// poll drains
	assert.Empty(t, s.Poll(watchID))
	assert.Empty(t, s.Poll(pendingWatch))
}

func TestNonMatchingReceiptLeavesWatchEmpty(t *testing.T) {
	s := NewSystem()
	watchID := s.WatchCriteria(Criteria{Addresses: []common.Address{addr2}}, ReapManually)

	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewPending(receiptWithLogs(&types.Log{Address: addr1}), dirty, common.Hash{})
	s.NoteChanged(dirty)
	assert.Empty(t, s.Poll(watchID))
}

func TestBlockAppendLocalizes(t *testing.T) {
	s := NewSystem()
	watchID := s.WatchCriteria(Criteria{Addresses: []common.Address{addr1}}, ReapManually)
	chainWatch := s.InstallWatch(ChainChangedFilter, ReapManually)

	receipts := types.Receipts{
		receiptWithLogs(&types.Log{Address: addr2}),
		receiptWithLogs(&types.Log{Address: addr1, Topics: []common.Hash{topicA}}),
	}
	header := &types.Header{
		Number:     big.NewInt(7),
		Difficulty: big.NewInt(1),
		Bloom:      types.CreateBloom(receipts),
	}
	txHashes := []common.Hash{common.HexToHash("0x0a"), common.HexToHash("0x0b")}

	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewBlock(header, receipts, txHashes, dirty)
	s.NoteChanged(dirty)

	changes := s.Poll(watchID)
	require.Len(t, changes, 1)
	entry := changes[0].Log
	assert.Equal(t, header.Hash(), entry.BlockHash)
	assert.Equal(t, uint64(7), entry.BlockNumber)
	assert.Equal(t, txHashes[1], entry.TxHash)
	assert.Equal(t, uint(1), entry.TxIndex)

	special := s.Poll(chainWatch)
	require.Len(t, special, 1)
	assert.Equal(t, header.Hash(), special[0].Special)
}

func TestBloomPrefilterSkipsForeignBlocks(t *testing.T) {
	s := NewSystem()
	watchID := s.WatchCriteria(Criteria{Addresses: []common.Address{addr1}}, ReapManually)

	// Bloom only covers addr2, so the matcher must never fire even though
	// a receipt log would match structurally.
	foreign := types.Receipts{receiptWithLogs(&types.Log{Address: addr2})}
	receipts := types.Receipts{receiptWithLogs(&types.Log{Address: addr1})}
	header := &types.Header{
		Number:     big.NewInt(1),
		Difficulty: big.NewInt(1),
		Bloom:      types.CreateBloom(foreign),
	}
	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewBlock(header, receipts, nil, dirty)
	s.NoteChanged(dirty)
	assert.Empty(t, s.Poll(watchID))
}

func TestNoteChangedClearsBuffers(t *testing.T) {
	s := NewSystem()
	watchID := s.WatchCriteria(Criteria{Addresses: []common.Address{addr1}}, ReapManually)

	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewPending(receiptWithLogs(&types.Log{Address: addr1}), dirty, common.Hash{})

	// A flush with an empty dirty set still clears every buffer, so the
	// accumulated match never reaches the watch.
	s.NoteChanged(mapset.NewSet[common.Hash]())
	s.NoteChanged(dirty)
	assert.Empty(t, s.Poll(watchID))
}

func TestUninstallWatchDropsUnreferencedFilter(t *testing.T) {
	s := NewSystem()
	crit := Criteria{Addresses: []common.Address{addr1}}
	w1 := s.WatchCriteria(crit, ReapManually)
	w2 := s.InstallWatch(crit.ID(), ReapManually)

	require.True(t, s.UninstallWatch(w1))
	// filter still referenced by w2; matches keep flowing
	dirty := mapset.NewSet[common.Hash]()
	s.AppendFromNewPending(receiptWithLogs(&types.Log{Address: addr1}), dirty, common.Hash{})
	s.NoteChanged(dirty)
	assert.Len(t, s.Poll(w2), 1)

	require.True(t, s.UninstallWatch(w2))
	assert.False(t, s.UninstallWatch(w2), "double uninstall is a soft error")

	// filter gone: nothing accumulates anymore
	w3 := s.InstallWatch(crit.ID(), ReapManually)
	dirty = mapset.NewSet[common.Hash]()
	s.AppendFromNewPending(receiptWithLogs(&types.Log{Address: addr1}), dirty, common.Hash{})
	s.NoteChanged(dirty)
	assert.Empty(t, s.Poll(w3))
}

func TestUnknownWatchIsSoftError(t *testing.T) {
	s := NewSystem()
	assert.Empty(t, s.Poll(42))
	assert.False(t, s.UninstallWatch(42))
}

func TestWatchGC(t *testing.T) {
	s := NewSystem()
	now := time.Now()

	auto := s.InstallWatch(PendingChangedFilter, ReapAutomatically)
	manual := s.InstallWatch(PendingChangedFilter, ReapManually)

	// Inside the idle window nothing is reaped.
	assert.Empty(t, s.SweepIdle(now.Add(10*time.Second)))
	assert.Equal(t, 2, s.WatchCount())

	// Past the idle window the automatic watch dies, the manual one stays.
	removed := s.SweepIdle(now.Add(25 * time.Second))
	require.Len(t, removed, 1)
	assert.Equal(t, auto, removed[0])
	assert.Equal(t, 1, s.WatchCount())

	// Polling arms the manual watch's clock.
	s.Poll(manual)
	s.watches[manual].lastPoll = now.Add(25 * time.Second)

	// Retained while inside the window measured from the poll, reaped
	// once it lapses.
	assert.Empty(t, s.SweepIdle(now.Add(40*time.Second)))
	assert.Equal(t, 1, s.WatchCount())
	assert.NotEmpty(t, s.SweepIdle(now.Add(50*time.Second)))
	assert.Equal(t, 0, s.WatchCount())
}

func TestWatchGCPollRetains(t *testing.T) {
	s := NewSystem()
	now := time.Now()

	w := s.InstallWatch(ChainChangedFilter, ReapAutomatically)
	s.Poll(w) // resets the clock to now

	// Retained until at least poll time + idle timeout.
	assert.Empty(t, s.SweepIdle(now.Add(15*time.Second)))
	assert.Equal(t, 1, s.WatchCount())
	assert.NotEmpty(t, s.SweepIdle(now.Add(30*time.Second)))
	assert.Equal(t, 0, s.WatchCount())
}

func TestSweepRateLimited(t *testing.T) {
	s := NewSystem()
	now := time.Now()
	w1 := s.InstallWatch(PendingChangedFilter, ReapAutomatically)
	w2 := s.InstallWatch(ChainChangedFilter, ReapAutomatically)

	s.watches[w1].lastPoll = now.Add(-25 * time.Second)
	require.Len(t, s.SweepIdle(now), 1)

	// A second sweep inside the interval is a no-op even though another
	// watch has gone stale by then.
	s.watches[w2].lastPoll = now.Add(-25 * time.Second)
	assert.Empty(t, s.SweepIdle(now.Add(time.Second)))
	assert.Len(t, s.SweepIdle(now.Add(6*time.Second)), 1)
}
