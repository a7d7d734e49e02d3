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
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchain/ember/params"
)

var testGenesis = common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000000")

func writeStatus(t *testing.T, dir string, status interface{}) {
	t.Helper()
	enc, err := rlp.EncodeToBytes(status)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, statusFile), enc, 0600))
}

func TestVersionGateFreshDirectory(t *testing.T) {
	dir := t.TempDir()

	vc := NewVersionChecker(dir, testGenesis)
	assert.Equal(t, Kill, vc.Action(), "missing status record must kill")

	vc.SetOk()
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	require.NoError(t, err)
	var status versionStatus
	require.NoError(t, rlp.DecodeBytes(data, &status))
	assert.Equal(t, uint64(params.ProtocolVersion), status.Protocol)
	assert.Equal(t, uint64(params.MinorProtocolVersion), status.Minor)
	assert.Equal(t, uint64(params.DatabaseVersion), status.Database)
	assert.Equal(t, testGenesis, status.Genesis)

	// the acknowledged record is trusted on the next start
	assert.Equal(t, Trust, NewVersionChecker(dir, testGenesis).Action())
}

func TestVersionGateDecisions(t *testing.T) {
	tests := []struct {
		name   string
		status versionStatus
		want   Action
	}{
		{"match", versionStatus{params.ProtocolVersion, params.MinorProtocolVersion, params.DatabaseVersion, testGenesis}, Trust},
		{"minor mismatch", versionStatus{params.ProtocolVersion, params.MinorProtocolVersion + 1, params.DatabaseVersion, testGenesis}, Verify},
		{"database mismatch", versionStatus{params.ProtocolVersion, params.MinorProtocolVersion, params.DatabaseVersion + 1, testGenesis}, Kill},
		{"genesis mismatch", versionStatus{params.ProtocolVersion, params.MinorProtocolVersion, params.DatabaseVersion, common.HexToHash("0x01")}, Kill},
		{"protocol alone is ignored", versionStatus{params.ProtocolVersion + 10, params.MinorProtocolVersion, params.DatabaseVersion, testGenesis}, Trust},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeStatus(t, dir, &tt.status)
			assert.Equal(t, tt.want, NewVersionChecker(dir, testGenesis).Action())
		})
	}
}

func TestVersionGateLegacyRecord(t *testing.T) {
	dir := t.TempDir()
	writeStatus(t, dir, &legacyVersionStatus{params.ProtocolVersion, params.MinorProtocolVersion, params.DatabaseVersion})
	// a three element record defaults the genesis to ours
	assert.Equal(t, Trust, NewVersionChecker(dir, testGenesis).Action())
}

func TestVersionGateGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, statusFile), []byte("not rlp at all"), 0600))
	assert.Equal(t, Kill, NewVersionChecker(dir, testGenesis).Action())
}

func TestVersionGateTrustSkipsRewrite(t *testing.T) {
	dir := t.TempDir()
	writeStatus(t, dir, &versionStatus{params.ProtocolVersion, params.MinorProtocolVersion, params.DatabaseVersion, testGenesis})
	before, err := os.Stat(filepath.Join(dir, statusFile))
	require.NoError(t, err)

	vc := NewVersionChecker(dir, testGenesis)
	require.Equal(t, Trust, vc.Action())
	vc.SetOk()

	after, err := os.Stat(filepath.Join(dir, statusFile))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestMaxAction(t *testing.T) {
	assert.Equal(t, Kill, MaxAction(Trust, Kill))
	assert.Equal(t, Kill, MaxAction(Kill, Verify))
	assert.Equal(t, Verify, MaxAction(Trust, Verify))
	assert.Equal(t, Trust, MaxAction(Trust, Trust))
}
