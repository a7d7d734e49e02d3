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

// Package gasprice recommends gas prices based on the content of recent
// blocks.
package gasprice

import (
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// maxBlocks bounds how far back from the head an update walks.
	maxBlocks = 1000

	// sampleCacheSize is how many per-block sample sets are retained
	// between updates.
	sampleCacheSize = 2048

	// minSpread is the floor on the normalized standard deviation of the
	// observed price distribution.
	minSpread = 0.01
)

// Priority selects how aggressively a suggested price should get a
// transaction included.
type Priority int

const (
	Low Priority = iota
	Medium
	High
)

// ChainReader is the subset of the chain store an update walks.
type ChainReader interface {
	CurrentHash() common.Hash
	Info(common.Hash) (*types.Header, error)
	Transactions(common.Hash) types.Transactions
	Receipts(common.Hash) types.Receipts
}

// Pricer answers gas price queries. Update is called by the client whenever
// the canonical head moves; the answers are advisory only.
type Pricer interface {
	Update(ChainReader)
	Ask() *big.Int
	Bid() *big.Int
}

// TrivialPricer quotes a fixed price both ways.
type TrivialPricer struct {
	ask, bid *big.Int
}

func NewTrivialPricer(ask, bid *big.Int) *TrivialPricer {
	return &TrivialPricer{ask: ask, bid: bid}
}

func (p *TrivialPricer) Update(ChainReader) {}
func (p *TrivialPricer) Ask() *big.Int      { return new(big.Int).Set(p.ask) }
func (p *TrivialPricer) Bid() *big.Int      { return new(big.Int).Set(p.bid) }

type sample struct {
	price   *big.Int
	gasUsed uint64
}

// BasicPricer maintains nine quantile points (octiles) over a gas-use
// weighted distribution of the prices paid in the last thousand blocks.
type BasicPricer struct {
	mu      sync.RWMutex
	octiles [9]*big.Int

	cache *lru.Cache[common.Hash, []sample]
}

// NewBasicPricer returns a pricer primed with the given default price; the
// first successful Update replaces it with observed data.
func NewBasicPricer(defaultPrice *big.Int) *BasicPricer {
	p := &BasicPricer{}
	p.cache, _ = lru.New[common.Hash, []sample](sampleCacheSize)
	for i := range p.octiles {
		p.octiles[i] = new(big.Int).Set(defaultPrice)
	}
	return p
}

// Update rebuilds the octile table from the chain. If no gas was used in
// the window the previous table is left untouched.
func (p *BasicPricer) Update(chain ChainReader) {
	dist := make(map[string]*sampleTotal)
	total := new(big.Int)

	// gasPrice versus gasUsed distribution for the last maxBlocks blocks
	hash := chain.CurrentHash()
	for c := 0; c < maxBlocks && hash != (common.Hash{}); c++ {
		for _, s := range p.blockSamples(chain, hash) {
			key := s.price.String()
			t := dist[key]
			if t == nil {
				t = &sampleTotal{price: s.price, gas: new(big.Int)}
				dist[key] = t
			}
			t.gas.Add(t.gas, new(big.Int).SetUint64(s.gasUsed))
			total.Add(total, new(big.Int).SetUint64(s.gasUsed))
		}
		header, err := chain.Info(hash)
		if err != nil {
			break
		}
		hash = header.ParentHash
	}
	if total.Sign() == 0 {
		return
	}

	points := make([]*sampleTotal, 0, len(dist))
	for _, t := range dist {
		points = append(points, t)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].price.Cmp(points[j].price) < 0 })

	// weighted mean
	mean := new(big.Int)
	for _, t := range points {
		mean.Add(mean, new(big.Int).Mul(t.price, t.gas))
	}
	mean.Div(mean, total)

	// weighted variance
	sdSquared := new(big.Int)
	for _, t := range points {
		d := new(big.Int).Sub(t.price, mean)
		d.Mul(d, d)
		sdSquared.Add(sdSquared, d.Mul(d, t.gas))
	}
	sdSquared.Div(sdSquared, total)

	var octiles [9]*big.Int
	if sdSquared.Sign() != 0 {
		sd := math.Sqrt(bigToFloat(sdSquared))
		meanF := bigToFloat(mean)
		spread := sd / meanF
		if spread < minSpread {
			spread = minSpread
		}
		octiles[0] = new(big.Int).Set(points[0].price)
		for i := 1; i < 8; i++ {
			// quantile of a gaussian centred on 1 with the normalized
			// spread, scaled back by the mean
			q := 1 + spread*math.Sqrt2*math.Erfinv(2*float64(i)/8-1)
			octiles[i] = floatToBig(meanF * q)
		}
		octiles[8] = new(big.Int).Set(points[len(points)-1].price)
	} else {
		for i := range octiles {
			o := new(big.Int).Mul(mean, big.NewInt(int64(i+1)))
			octiles[i] = o.Div(o, big.NewInt(5))
		}
	}

	p.mu.Lock()
	p.octiles = octiles
	p.mu.Unlock()
}

// blockSamples returns the (price, gasUsed) pairs of one block, consulting
// the cache first. Blocks without receipts contribute nothing.
func (p *BasicPricer) blockSamples(chain ChainReader, hash common.Hash) []sample {
	if s, ok := p.cache.Get(hash); ok {
		return s
	}
	var (
		txs      = chain.Transactions(hash)
		receipts = chain.Receipts(hash)
		samples  []sample
	)
	for i, tx := range txs {
		if i >= len(receipts) {
			break
		}
		samples = append(samples, sample{price: tx.GasPrice(), gasUsed: receipts[i].GasUsed})
	}
	p.cache.Add(hash, samples)
	return samples
}

// Octile returns one of the nine quantile points, i in [0, 8].
func (p *BasicPricer) Octile(i int) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.octiles[i])
}

// Ask is the price quoted to transaction senders.
func (p *BasicPricer) Ask() *big.Int { return p.AskAt(High) }

// Bid is the lowest price the miner will accept into a candidate block.
func (p *BasicPricer) Bid() *big.Int { return p.AskAt(Low) }

// AskAt quotes the octile mapped to the given priority.
func (p *BasicPricer) AskAt(prio Priority) *big.Int {
	switch prio {
	case Low:
		return p.Octile(2)
	case High:
		return p.Octile(6)
	default:
		return p.Octile(4)
	}
}

type sampleTotal struct {
	price *big.Int
	gas   *big.Int
}

func bigToFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

func floatToBig(x float64) *big.Int {
	if x < 0 {
		return new(big.Int)
	}
	r, _ := new(big.Float).SetFloat64(x).Int(nil)
	return r
}
