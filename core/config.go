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
)

// DefaultGasPrice primes the gas price oracle before the first update.
var DefaultGasPrice = big.NewInt(20_000_000_000) // 20 gwei

// Config are the user-settable options of a client.
type Config struct {
	// DataDir is the directory holding the version status record. Empty
	// disables the on-disk gate and treats existing data as fresh.
	DataDir string

	// NetworkID is announced to the host capability on registration.
	NetworkID uint64

	// Coinbase receives the rewards of locally sealed blocks.
	Coinbase common.Address

	// ExtraData is carried in the configuration and its TOML form; the
	// client does not write it into the blocks it commits.
	ExtraData []byte

	// SentinelURL, when set, is the remote diagnostic sink bad block
	// reports are POSTed to.
	SentinelURL string

	// CanaryAddress is the contract whose storage slot zero acts as the
	// distress signal. The zero address disables the canary entirely;
	// pointing it at a contract that does not exist reads as "all clear".
	CanaryAddress common.Address

	// MineOnBadChain keeps serving mining work after the canary fires.
	MineOnBadChain bool

	// ForceMining is stored on the client; candidate blocks are committed
	// whether or not transactions are waiting, with or without it.
	ForceMining bool

	// GasPrice primes the oracle; nil uses DefaultGasPrice.
	GasPrice *big.Int
}

func (cfg *Config) gasPrice() *big.Int {
	if cfg.GasPrice != nil {
		return cfg.GasPrice
	}
	return DefaultGasPrice
}
