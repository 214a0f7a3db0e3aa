// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runmode encapsulates a run's dry-run mode as three plain
// booleans, derived once, so the classifier and copy engine thread a
// single Mode value through instead of branching on a mode string at
// every call site.
package runmode

// Kind is one of the three dry-run modes a run can operate in.
type Kind string

const (
	KindNone  Kind = "none"
	KindQuick Kind = "quick"
	KindFull  Kind = "full"
)

// Mode is the resolved behavior for one run, derived once from Kind.
type Mode struct {
	Kind Kind

	// ShouldHash is false only in QUICK mode, which classifies by
	// metadata (size + mtime) alone.
	ShouldHash bool
	// ShouldCopyFiles is true only in NONE mode.
	ShouldCopyFiles bool
	// ShouldUpdateDatabase is true only in NONE mode.
	ShouldUpdateDatabase bool
}

// New resolves kind into a Mode. An unrecognized kind is treated as
// KindNone, the normal non-dry-run behavior.
func New(kind Kind) Mode {
	switch kind {
	case KindQuick:
		return Mode{Kind: KindQuick, ShouldHash: false, ShouldCopyFiles: false, ShouldUpdateDatabase: false}
	case KindFull:
		return Mode{Kind: KindFull, ShouldHash: true, ShouldCopyFiles: false, ShouldUpdateDatabase: false}
	default:
		return Mode{Kind: KindNone, ShouldHash: true, ShouldCopyFiles: true, ShouldUpdateDatabase: true}
	}
}

// SentinelHash is substituted for a file's content hash in QUICK mode,
// where hashing is skipped entirely. It is the width of a BLAKE2b-512
// hex digest so it can sit in any field a real hash would.
const SentinelHash = "00000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000"
