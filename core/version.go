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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/emberchain/ember/params"
)

const statusFile = "status"

// versionStatus is the on-disk record gating reuse of existing chain data.
type versionStatus struct {
	Protocol uint64
	Minor    uint64
	Database uint64
	Genesis  common.Hash
}

// legacyVersionStatus is the record before the genesis hash was added; a
// missing hash is taken to mean ours.
type legacyVersionStatus struct {
	Protocol uint64
	Minor    uint64
	Database uint64
}

// VersionChecker decides on startup whether existing on-disk state is to be
// trusted, revalidated or discarded.
type VersionChecker struct {
	path    string
	genesis common.Hash
	action  Action
}

// NewVersionChecker reads the status record under dir and compares it
// against the compiled-in expectations and the given genesis hash. Any read
// or parse failure counts as a mismatch of the worst kind.
func NewVersionChecker(dir string, genesis common.Hash) *VersionChecker {
	vc := &VersionChecker{path: dir, genesis: genesis, action: Kill}
	if dir == "" {
		return vc
	}
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if err != nil {
		return vc
	}
	status := new(versionStatus)
	if err := rlp.DecodeBytes(data, status); err != nil {
		legacy := new(legacyVersionStatus)
		if err := rlp.DecodeBytes(data, legacy); err != nil {
			return vc
		}
		status = &versionStatus{
			Protocol: legacy.Protocol,
			Minor:    legacy.Minor,
			Database: legacy.Database,
			Genesis:  genesis,
		}
	}
	switch {
	case status.Database != params.DatabaseVersion || status.Genesis != genesis:
		vc.action = Kill
	case status.Minor != params.MinorProtocolVersion:
		vc.action = Verify
	default:
		vc.action = Trust
	}
	return vc
}

// Action returns the startup decision.
func (vc *VersionChecker) Action() Action {
	return vc.action
}

// SetOk acknowledges a successful open and writes a fresh status record.
// Nothing is written when the existing record was already trusted.
func (vc *VersionChecker) SetOk() {
	if vc.action == Trust || vc.path == "" {
		return
	}
	if err := os.MkdirAll(vc.path, 0700); err != nil {
		log.Warn("Failed to create data directory", "path", vc.path, "err", err)
		return
	}
	status := &versionStatus{
		Protocol: params.ProtocolVersion,
		Minor:    params.MinorProtocolVersion,
		Database: params.DatabaseVersion,
		Genesis:  vc.genesis,
	}
	enc, err := rlp.EncodeToBytes(status)
	if err != nil {
		log.Warn("Failed to encode version status", "err", err)
		return
	}
	if err := os.WriteFile(filepath.Join(vc.path, statusFile), enc, 0600); err != nil {
		log.Warn("Failed to write version status", "path", vc.path, "err", err)
	}
}
