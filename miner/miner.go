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

// Package miner holds the work package vocabulary shared between the client
// and the hashing farms that seal candidate blocks for it.
package miner

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Work is the mining target for one candidate block: the hash of the
// unsealed header, the seed for the hasher's dataset and the boundary the
// result must stay under.
type Work struct {
	HeaderHash common.Hash
	SeedHash   common.Hash
	Boundary   common.Hash
	Number     uint64
}

// Empty reports whether the package carries no candidate. An empty package
// is what remote hashers receive while the chain is flagged bad.
func (w Work) Empty() bool {
	return w.HeaderHash == (common.Hash{})
}

// Solution is a sealed answer for a previously handed out work package.
type Solution struct {
	Nonce     uint64
	MixDigest common.Hash
}

// Progress reports farm activity since mining was last started.
type Progress struct {
	Hashes  uint64
	Elapsed time.Duration
}

// Rate returns the hash rate in hashes per second.
func (p Progress) Rate() uint64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return uint64(float64(p.Hashes) / p.Elapsed.Seconds())
}

// Farm is a pool of hashing workers. SetWork replaces the package all
// workers search on; the solution callback is invoked from a farm thread
// and reports whether the solution was accepted.
type Farm interface {
	SetWork(Work)
	Start()
	Stop()
	IsMining() bool
	Progress() Progress
	OnSolutionFound(func(Solution) bool)
}

// SealFunc searches for a solution to the given work package until the stop
// channel closes. It reports whether a solution was found.
type SealFunc func(work Work, stop <-chan struct{}) (Solution, bool)

// sealDigest is the hash a nonce is judged by. The dev sealer and
// VerifySeal must agree on it.
func sealDigest(headerHash common.Hash, nonce uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return crypto.Keccak256Hash(headerHash.Bytes(), buf[:])
}

// VerifySeal checks a solution against a work package's boundary.
func VerifySeal(work Work, sol Solution) bool {
	if work.Empty() {
		return false
	}
	d := sealDigest(work.HeaderHash, sol.Nonce)
	return new(big.Int).SetBytes(d.Bytes()).Cmp(new(big.Int).SetBytes(work.Boundary.Bytes())) <= 0
}
