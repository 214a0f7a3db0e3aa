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

// Package classify decides, for one candidate file, whether its source
// has changed since the last run and computes every destination path
// it must be copied to. It never touches destination files directly;
// that is the copy engine's job.
package classify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/hashbackup/internal/errors"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/hashsum"
	"github.com/kraklabs/hashbackup/pkg/runmode"
	"github.com/kraklabs/hashbackup/pkg/walk"
)

// PreppedBackup is the transient decision record produced per
// candidate and consumed by the copy engine.
type PreppedBackup struct {
	SourceID           int64
	SourcePath         string
	FileName           string
	Destinations       []string
	Hash               string
	FileSize           int64
	SourceLastModified int64
	SourceChanged      bool

	// HashTrusted is false only when Hash was inherited from the
	// catalog's prior record without being recomputed against the
	// file's current content (the skip_source_hash_check_if_newer
	// trust path). The copy engine must not verify a fresh copy
	// against an untrusted Hash — it would compare the new bytes to
	// stale content and fail forever — and instead computes and
	// commits the real hash once it knows a copy is required, before
	// copying the file.
	HashTrusted bool
}

// Candidate names one file discovered under a source root.
type Candidate struct {
	walk.Result
	SourceRoot string
}

// Classify produces a PreppedBackup for one candidate, consulting cat
// for prior state and hashsum for content hashing as mode requires.
func Classify(ctx context.Context, cand Candidate, destinations []string, cat *catalog.Catalog, mode runmode.Mode, maxMiBForHash uint, skipHashCheckIfNewer bool) (*PreppedBackup, error) {
	// Stat, not Lstat: a symlinked candidate's size and mtime must be
	// the target's, since that is what gets hashed and copied.
	info, err := os.Stat(cand.AbsPath)
	if err != nil {
		return nil, errors.NewMetadataError("cannot stat source file", cand.AbsPath, "", err)
	}
	fsLastModified := info.ModTime().Unix()
	fsSize := info.Size()

	parentDir := filepath.Dir(cand.AbsPath)

	existing, err := cat.LookupSource(ctx, cand.Name, parentDir)
	if err != nil {
		return nil, err
	}

	var sourceID int64
	var hash string
	var sourceChanged bool
	hashTrusted := true

	switch {
	case existing == nil:
		hash, err = computeHash(ctx, cand.AbsPath, mode, maxMiBForHash)
		if err != nil {
			return nil, err
		}
		if mode.ShouldUpdateDatabase {
			sourceID, err = cat.UpsertSource(ctx, catalog.SourceRecord{
				FileName: cand.Name, ParentDirectory: parentDir,
				Hash: hash, FileSize: fsSize, LastModified: fsLastModified,
			})
			if err != nil {
				return nil, err
			}
		}
		sourceChanged = true

	case existing.LastModified >= fsLastModified:
		sourceID = existing.ID
		hash = existing.Hash
		sourceChanged = false

	default:
		sourceID = existing.ID
		if skipHashCheckIfNewer {
			// Trust the mtime without rehashing the source now. Hash
			// is stale here — do not persist the new fsLastModified,
			// or a future run would see the source as "unchanged" with
			// a hash that was never actually verified against current
			// content. The copy engine resolves this: it recomputes
			// and commits the real hash once it knows a copy is
			// actually required.
			hash = existing.Hash
			sourceChanged = true
			hashTrusted = false
		} else {
			recomputed, err := computeHash(ctx, cand.AbsPath, mode, maxMiBForHash)
			if err != nil {
				return nil, err
			}
			if recomputed == existing.Hash && fsSize == existing.FileSize {
				hash = existing.Hash
				sourceChanged = false
				if mode.ShouldUpdateDatabase {
					if err := cat.UpdateSourceLastModified(ctx, sourceID, fsLastModified); err != nil {
						return nil, err
					}
				}
			} else {
				hash = recomputed
				sourceChanged = true
				if mode.ShouldUpdateDatabase {
					if err := cat.UpdateSource(ctx, sourceID, hash, fsSize, fsLastModified); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	destPaths, err := destinationPaths(cand, destinations)
	if err != nil {
		return nil, err
	}

	return &PreppedBackup{
		SourceID:           sourceID,
		SourcePath:         cand.AbsPath,
		FileName:           cand.Name,
		Destinations:       destPaths,
		Hash:               hash,
		FileSize:           fsSize,
		SourceLastModified: fsLastModified,
		SourceChanged:      sourceChanged,
		HashTrusted:        hashTrusted,
	}, nil
}

func computeHash(ctx context.Context, path string, mode runmode.Mode, maxMiB uint) (string, error) {
	if !mode.ShouldHash {
		return runmode.SentinelHash, nil
	}
	return hashsum.File(ctx, path, maxMiB)
}

// destinationPaths computes, for every destination root, the replica
// path D/rel/file_name, where rel is the candidate's parent directory
// with the source root's own parent stripped — preserving the source
// root's base name as the top-level subdirectory under each
// destination. Both the relative path and the file name are checked
// for path-escape attempts.
func destinationPaths(cand Candidate, destinations []string) ([]string, error) {
	if strings.Contains(cand.Name, "..") || strings.ContainsRune(cand.Name, filepath.Separator) {
		return nil, errors.NewPathEscapeError("unsafe file name", cand.Name, "", nil)
	}
	// Check RelDir before Join collapses any ".." segments away.
	if walk.ContainsDotDot(cand.RelDir) {
		return nil, errors.NewPathEscapeError("path escapes source root", cand.RelDir, "", nil)
	}

	sourceRootParent := filepath.Dir(cand.SourceRoot)
	candidateParentDir := filepath.Join(cand.SourceRoot, cand.RelDir)

	rel, err := filepath.Rel(sourceRootParent, candidateParentDir)
	if err != nil {
		return nil, errors.NewPathEscapeError("cannot compute relative destination path", candidateParentDir, "", err)
	}
	if walk.ContainsDotDot(rel) {
		return nil, errors.NewPathEscapeError("path escapes source root", candidateParentDir, "", nil)
	}

	out := make([]string, 0, len(destinations))
	for _, dest := range destinations {
		destRootAbs, err := filepath.Abs(dest)
		if err != nil {
			return nil, errors.NewPathEscapeError("cannot resolve destination root", dest, "", err)
		}

		replicaParent := filepath.Join(destRootAbs, rel)
		if err := guardWithinRoot(replicaParent, destRootAbs); err != nil {
			return nil, err
		}

		out = append(out, filepath.Join(replicaParent, cand.Name))
	}
	return out, nil
}

// guardWithinRoot rejects a replica parent directory whose canonical
// form would, once symlinks are resolved, fall outside the
// canonicalized destination root. Neither path is required to exist
// yet (the copy engine creates destination directories on demand):
// both are canonicalized through their longest existing ancestor.
func guardWithinRoot(replicaParent, destRootAbs string) error {
	if !withinRoot(canonicalize(replicaParent), canonicalize(destRootAbs)) {
		return errors.NewPathEscapeError("replica path escapes destination root", replicaParent, "", nil)
	}
	return nil
}

// canonicalize resolves the symlinks in the longest existing prefix of
// p and rejoins the not-yet-created remainder, yielding the path p
// will denote once its directories exist.
func canonicalize(p string) string {
	suffix := ""
	probe := p
	for {
		if real, err := filepath.EvalSymlinks(probe); err == nil {
			return filepath.Join(real, suffix)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return p
		}
		suffix = filepath.Join(filepath.Base(probe), suffix)
		probe = parent
	}
}

// withinRoot reports whether path is root itself or sits below it. A
// bare prefix test is not enough: /backups2 must not pass for root
// /backups.
func withinRoot(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
