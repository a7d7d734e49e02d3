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

package params

import "fmt"

const (
	VersionMajor = 0  // Major version component of the current release
	VersionMinor = 9  // Minor version component of the current release
	VersionPatch = 4  // Patch version component of the current release
	VersionMeta  = "unstable"
)

const (
	// ClientName identifies this implementation in bad block reports.
	ClientName = "ember"

	// ProtocolVersion is the sub-protocol version spoken to peers.
	ProtocolVersion = 62

	// MinorProtocolVersion tracks incompatible changes below the wire
	// protocol. A mismatch against the on-disk status record forces a
	// revalidation of existing chain data.
	MinorProtocolVersion = 2

	// DatabaseVersion is the version of the on-disk chain layout. A
	// mismatch wipes existing chain data.
	DatabaseVersion = 12041
)

// Version holds the textual version string.
var Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)

// VersionWithMeta holds the textual version string including the metadata.
var VersionWithMeta = func() string {
	v := Version
	if VersionMeta != "" {
		v += "-" + VersionMeta
	}
	return v
}()
