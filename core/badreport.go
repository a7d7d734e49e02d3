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
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/emberchain/ember/params"
)

// BadBlockError is the diagnostic attached to a block that failed queue or
// import checks. The hints map carries whatever heterogeneous metadata the
// failing check had at hand; only known keys make it into the report.
type BadBlockError struct {
	Message string
	Block   []byte
	Hints   map[string]interface{}
}

func NewBadBlockError(message string, block []byte) *BadBlockError {
	return &BadBlockError{Message: message, Block: block, Hints: make(map[string]interface{})}
}

// WithHint attaches one metadata entry and returns the error for chaining.
func (e *BadBlockError) WithHint(key string, value interface{}) *BadBlockError {
	e.Hints[key] = value
	return e
}

func (e *BadBlockError) Error() string { return e.Message }

// EthashResult is the hint payload for a failed seal check.
type EthashResult struct {
	Value   common.Hash `json:"value"`
	MixHash common.Hash `json:"mixHash"`
}

// badBlockHintKeys are the scalar hint tags walked into a report, in the
// order they are walked. Structured tags (vmtrace, receipts,
// unclesExcluded, ethashResult) are handled separately.
var badBlockHintKeys = []string{
	"uncleIndex", "transactionIndex",
	"hash256", "uncleNumber", "currentNumber", "now",
	"invalidSymbol", "wrongAddress", "comment",
	"min", "max", "name", "field", "data",
	"nonce", "difficulty", "target", "seedHash", "mixHash",
	"required", "got",
	"required_LogBloom", "got_LogBloom",
	"required_h256", "got_h256",
}

// badBlockReport builds the structured record shipped to the sentinel.
func badBlockReport(e *BadBlockError) map[string]interface{} {
	report := map[string]interface{}{
		"client":          params.ClientName,
		"version":         params.VersionWithMeta,
		"protocolVersion": params.ProtocolVersion,
		"databaseVersion": params.DatabaseVersion,
		"errortype":       e.Message,
		"block":           hexutil.Encode(e.Block),
	}
	hints := make(map[string]interface{})
	for _, key := range badBlockHintKeys {
		if v, ok := e.Hints[key]; ok {
			hints[key] = v
		}
	}
	if v, ok := e.Hints["vmtrace"]; ok {
		hints["vmtrace"] = v
	}
	if v, ok := e.Hints["receipts"]; ok {
		if rs, ok := v.([][]byte); ok {
			encoded := make([]string, len(rs))
			for i, r := range rs {
				encoded[i] = hexutil.Encode(r)
			}
			hints["receipts"] = encoded
		} else {
			hints["receipts"] = v
		}
	}
	if v, ok := e.Hints["unclesExcluded"]; ok {
		if hs, ok := v.([]common.Hash); ok {
			encoded := make([]string, len(hs))
			for i, h := range hs {
				encoded[i] = h.Hex()
			}
			hints["unclesExcluded"] = encoded
		} else {
			hints["unclesExcluded"] = v
		}
	}
	if v, ok := e.Hints["ethashResult"]; ok {
		hints["ethashResult"] = v
	}
	if len(hints) > 0 {
		report["hints"] = hints
	}
	return report
}

// sentinelTimeout bounds the POST of one report.
var sentinelTimeout = 8 * time.Second

// onBadBlock handles a bad block raised by the queues or the store: it is
// logged, counted and optionally shipped to the configured sentinel. Errors
// never propagate to the caller.
func (c *Client) onBadBlock(err error) {
	var bad *BadBlockError
	if !errors.As(err, &bad) {
		log.Warn("Bad block handler called without block diagnostics", "err", err)
		return
	}
	log.Error("Bad block seen", "err", bad.Message, "size", len(bad.Block))
	badBlockCounter.Inc(1)

	if c.config.SentinelURL == "" {
		return
	}
	report := badBlockReport(bad)
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "1",
		"method":  "eth_badBlock",
		"params":  []interface{}{report},
	})
	if err != nil {
		log.Warn("Failed to encode bad block report", "err", err)
		return
	}
	client := http.Client{Timeout: sentinelTimeout}
	resp, err := client.Post(c.config.SentinelURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Warn("Error reporting to sentinel", "url", c.config.SentinelURL, "err", err)
		return
	}
	resp.Body.Close()
	log.Debug("Bad block report posted", "status", resp.StatusCode)
}
