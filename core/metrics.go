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

import "github.com/ethereum/go-ethereum/metrics"

var (
	blockImportTimer = metrics.NewRegisteredTimer("client/imports", nil)
	blockImportMeter = metrics.NewRegisteredMeter("client/imports/blocks", nil)
	txDrainMeter     = metrics.NewRegisteredMeter("client/txdrain", nil)
	reorgMeter       = metrics.NewRegisteredMeter("client/reorg/dead", nil)
	badBlockCounter  = metrics.NewRegisteredCounter("client/badblocks", nil)
	sealedCounter    = metrics.NewRegisteredCounter("client/sealed", nil)
)
