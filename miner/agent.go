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

package miner

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// CpuFarm drives one local sealing goroutine. It implements Farm with the
// task-channel pattern: a new work package interrupts the current search.
type CpuFarm struct {
	mu sync.Mutex

	taskCh        chan Work
	stop          chan struct{}
	quitCurrentOp chan struct{}

	seal       SealFunc
	onSolution func(Solution) bool

	work    Work // last package handed to SetWork
	started int32

	hashes     atomic.Uint64
	startedAt  time.Time
	progressMu sync.Mutex
}

// NewCpuFarm returns a farm sealing with the given function, or the built-in
// dev sealer when fn is nil.
func NewCpuFarm(fn SealFunc) *CpuFarm {
	f := &CpuFarm{
		taskCh: make(chan Work, 1),
		stop:   make(chan struct{}, 1),
	}
	f.seal = fn
	if f.seal == nil {
		f.seal = f.devSeal
	}
	return f
}

// OnSolutionFound registers the callback invoked when a search succeeds.
// It must be set before Start.
func (f *CpuFarm) OnSolutionFound(cb func(Solution) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSolution = cb
}

// SetWork replaces the package being searched. If the farm is running, the
// current search is abandoned in favour of the new package.
func (f *CpuFarm) SetWork(work Work) {
	f.mu.Lock()
	f.work = work
	f.mu.Unlock()
	if atomic.LoadInt32(&f.started) == 1 {
		// Drop a stale queued task before enqueueing the fresh one.
		select {
		case <-f.taskCh:
		default:
		}
		f.taskCh <- work
	}
}

func (f *CpuFarm) Start() {
	if !atomic.CompareAndSwapInt32(&f.started, 0, 1) {
		return // already started
	}
	f.progressMu.Lock()
	f.startedAt = time.Now()
	f.hashes.Store(0)
	f.progressMu.Unlock()
	go f.update()

	f.mu.Lock()
	work := f.work
	f.mu.Unlock()
	if !work.Empty() {
		f.taskCh <- work
	}
}

func (f *CpuFarm) Stop() {
	if !atomic.CompareAndSwapInt32(&f.started, 1, 0) {
		return // already stopped
	}
	f.stop <- struct{}{}
done:
	// Empty work channel
	for {
		select {
		case <-f.taskCh:
		default:
			break done
		}
	}
}

func (f *CpuFarm) IsMining() bool {
	return atomic.LoadInt32(&f.started) == 1
}

func (f *CpuFarm) Progress() Progress {
	f.progressMu.Lock()
	defer f.progressMu.Unlock()
	if atomic.LoadInt32(&f.started) == 0 {
		return Progress{}
	}
	return Progress{Hashes: f.hashes.Load(), Elapsed: time.Since(f.startedAt)}
}

func (f *CpuFarm) update() {
out:
	for {
		select {
		case work := <-f.taskCh:
			f.mu.Lock()
			if f.quitCurrentOp != nil {
				close(f.quitCurrentOp)
			}
			f.quitCurrentOp = make(chan struct{})
			go f.mine(work, f.quitCurrentOp)
			f.mu.Unlock()
		case <-f.stop:
			f.mu.Lock()
			if f.quitCurrentOp != nil {
				close(f.quitCurrentOp)
				f.quitCurrentOp = nil
			}
			f.mu.Unlock()
			break out
		}
	}
}

func (f *CpuFarm) mine(work Work, stop <-chan struct{}) {
	sol, ok := f.seal(work, stop)
	if !ok {
		return
	}
	log.Info("Sealed candidate block", "number", work.Number, "nonce", sol.Nonce)
	f.mu.Lock()
	cb := f.onSolution
	f.mu.Unlock()
	if cb != nil && !cb(sol) {
		log.Warn("Sealed solution rejected", "number", work.Number)
	}
}

// devSeal is a toy proof of work: sequential nonces judged by sealDigest
// against the boundary. Good enough for tests and --dev runs.
func (f *CpuFarm) devSeal(work Work, stop <-chan struct{}) (Solution, bool) {
	boundary := new(big.Int).SetBytes(work.Boundary.Bytes())
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-stop:
			return Solution{}, false
		default:
		}
		f.hashes.Add(1)
		d := sealDigest(work.HeaderHash, nonce)
		if new(big.Int).SetBytes(d.Bytes()).Cmp(boundary) <= 0 {
			return Solution{Nonce: nonce, MixDigest: d}, true
		}
	}
}
