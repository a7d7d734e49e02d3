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
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/gasprice"
	"github.com/emberchain/ember/params"
)

func TestBadBlockReportFields(t *testing.T) {
	e := NewBadBlockError("invalid difficulty", []byte{0x01, 0x02}).
		WithHint("uncleIndex", 1).
		WithHint("difficulty", "131072").
		WithHint("hash256", common.HexToHash("0x0a").Hex()).
		WithHint("ethashResult", EthashResult{Value: common.HexToHash("0x01"), MixHash: common.HexToHash("0x02")}).
		WithHint("receipts", [][]byte{{0xde, 0xad}}).
		WithHint("notAKnownTag", "dropped")

	report := badBlockReport(e)
	assert.Equal(t, params.ClientName, report["client"])
	assert.Equal(t, params.VersionWithMeta, report["version"])
	assert.Equal(t, "invalid difficulty", report["errortype"])
	assert.Equal(t, "0x0102", report["block"])

	hints := report["hints"].(map[string]interface{})
	assert.Equal(t, 1, hints["uncleIndex"])
	assert.Equal(t, "131072", hints["difficulty"])
	assert.Equal(t, []string{"0xdead"}, hints["receipts"])
	assert.Contains(t, hints, "ethashResult")
	assert.NotContains(t, hints, "notAKnownTag", "only known tags are emitted")
}

func TestBadBlockReportNoHints(t *testing.T) {
	report := badBlockReport(NewBadBlockError("boom", nil))
	assert.NotContains(t, report, "hints")
}

func TestBadBlockPostedToSentinel(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := newFakeStore()
	client, err := New(&Config{SentinelURL: server.URL}, Trust, store, &fakeFactory{},
		NewTransactionQueue(big.NewInt(1)), NewBlockQueue(),
		gasprice.NewTrivialPricer(big.NewInt(1), big.NewInt(0)), &fakeFarm{})
	require.NoError(t, err)
	defer client.Stop()

	client.onBadBlock(NewBadBlockError("bad seal", []byte{0xab}).WithHint("nonce", "42"))

	require.NotNil(t, got, "report must reach the sentinel")
	assert.Equal(t, "eth_badBlock", got["method"])
	assert.Equal(t, "2.0", got["jsonrpc"])
	report := got["params"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "bad seal", report["errortype"])
	assert.Equal(t, "0xab", report["block"])
	assert.Equal(t, "42", report["hints"].(map[string]interface{})["nonce"])
}

func TestBadBlockWithoutDiagnosticsIsIgnored(t *testing.T) {
	client, _, _, _, _, _ := newFakeClient(t, &Config{SentinelURL: "http://127.0.0.1:1"})
	// a plain error carries no block payload; the handler must not try to
	// report it (the sentinel above is unreachable and would error loudly)
	client.onBadBlock(errors.New("plain failure"))
}
