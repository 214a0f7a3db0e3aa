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

// Package copyengine fans a single PreppedBackup out across its
// configured destinations: decide whether a copy is needed, copy the
// bytes, re-hash and verify the result, and commit a replica row only
// once verification has passed.
package copyengine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/kraklabs/hashbackup/internal/errors"
	"github.com/kraklabs/hashbackup/internal/metrics"
	"github.com/kraklabs/hashbackup/pkg/catalog"
	"github.com/kraklabs/hashbackup/pkg/classify"
	"github.com/kraklabs/hashbackup/pkg/hashsum"
	"github.com/kraklabs/hashbackup/pkg/progress"
	"github.com/kraklabs/hashbackup/pkg/runmode"
)

// Options carries the config fields the copy engine needs; it is a
// narrower view than config.Config so this package does not import it.
type Options struct {
	ForceOverwriteBackup             bool
	OverwriteBackupIfExistingIsNewer bool
	MaxMiBForHash                    uint
}

const copyBufferSize = 1 << 20

// ProcessDestinations fans prepped out across every one of its
// destination paths, copying, verifying, and committing as mode and
// opts allow. Errors are returned per-destination rather than
// aborting; the caller accumulates them.
func ProcessDestinations(ctx context.Context, prepped *classify.PreppedBackup, cat *catalog.Catalog, mode runmode.Mode, opts Options, m *metrics.Registry, state *progress.State) []error {
	var errs []error
	hash := &resolvedHash{trusted: prepped.HashTrusted, value: prepped.Hash}

	for _, destPath := range prepped.Destinations {
		if state != nil && state.Cancelled() {
			break
		}

		if err := processOne(ctx, prepped, destPath, cat, mode, opts, m, state, hash); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// resolvedHash lazily establishes the true current content hash of a
// PreppedBackup's source the first time a copy actually proceeds, and
// caches it across that backup's remaining destinations. This matters
// only when the classifier trusted a newer mtime without rehashing
// (skip_source_hash_check_if_newer): the cached Hash it produced is
// the prior run's hash, good enough to decide a replica is stale, but
// wrong to verify a fresh copy against.
type resolvedHash struct {
	trusted bool
	value   string
}

func (h *resolvedHash) resolve(ctx context.Context, prepped *classify.PreppedBackup, cat *catalog.Catalog, mode runmode.Mode, opts Options) (string, error) {
	if h.trusted {
		return h.value, nil
	}
	real, err := hashsum.File(ctx, prepped.SourcePath, opts.MaxMiBForHash)
	if err != nil {
		return "", err
	}
	h.value = real
	h.trusted = true
	if mode.ShouldUpdateDatabase {
		if err := cat.UpdateSource(ctx, prepped.SourceID, real, prepped.FileSize, prepped.SourceLastModified); err != nil {
			return "", err
		}
	}
	return real, nil
}

func processOne(ctx context.Context, prepped *classify.PreppedBackup, destPath string, cat *catalog.Catalog, mode runmode.Mode, opts Options, m *metrics.Registry, state *progress.State, hash *resolvedHash) error {
	destDir := filepath.Dir(destPath)
	destName := filepath.Base(destPath)

	required := opts.ForceOverwriteBackup
	if !required {
		var err error
		required, err = isBackupRequired(ctx, prepped, destPath, destDir, destName, cat, mode, opts)
		if err != nil {
			return err
		}
	}

	if !required {
		return nil
	}
	if !mode.ShouldCopyFiles {
		return nil
	}

	expectedHash, err := hash.resolve(ctx, prepped, cat, mode, opts)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.NewFileCopyError("cannot create destination directory", destDir, "check permissions", err)
	}

	if err := copyBytes(ctx, prepped.SourcePath, destPath); err != nil {
		return err
	}

	destHash, err := hashsum.File(ctx, destPath, opts.MaxMiBForHash)
	if err != nil {
		return err
	}
	if destHash != expectedHash {
		os.Remove(destPath)
		if m != nil {
			m.VerificationFailures.Inc()
		}
		return errors.NewVerificationFailedError("copy verification failed", destPath, "the destination has been removed; it will be retried on the next run", nil)
	}

	if mode.ShouldUpdateDatabase {
		info, err := os.Stat(destPath)
		if err != nil {
			return errors.NewMetadataError("cannot stat destination after copy", destPath, "", err)
		}
		if err := cat.UpsertReplica(ctx, catalog.ReplicaRecord{
			SourceID: prepped.SourceID, FileName: destName, ParentDirectory: destDir,
			LastModified: info.ModTime().Unix(),
		}); err != nil {
			return err
		}
	}

	if m != nil {
		m.FilesCopied.Inc()
		m.BytesCopied.Add(float64(prepped.FileSize))
	}
	if state != nil {
		state.AddProgress(1, prepped.FileSize, prepped.FileName)
	}
	return nil
}

// isBackupRequired decides whether destPath needs a fresh copy. In
// quick mode the decision degrades to metadata only: no destination is
// ever hashed.
func isBackupRequired(ctx context.Context, prepped *classify.PreppedBackup, destPath, destDir, destName string, cat *catalog.Catalog, mode runmode.Mode, opts Options) (bool, error) {
	fsInfo, statErr := os.Stat(destPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return true, nil
		}
		return false, errors.NewMetadataError("cannot stat destination", destPath, "", statErr)
	}

	replica, err := cat.LookupReplica(ctx, destName, destDir)
	if err != nil {
		return false, err
	}

	if replica != nil {
		fsReplicaLastModified := fsInfo.ModTime().Unix()
		if replica.LastModified <= fsReplicaLastModified {
			if prepped.FileSize == fsInfo.Size() {
				if !mode.ShouldHash {
					return false, nil
				}
				destHash, err := hashsum.File(ctx, destPath, opts.MaxMiBForHash)
				if err != nil {
					return false, err
				}
				if destHash == replica.SourceHash {
					return false, nil
				}
			}
			return true, nil
		}
		// Catalog is ahead of the filesystem: clock skew or an
		// external rollback of the replica file.
		return opts.OverwriteBackupIfExistingIsNewer, nil
	}

	// Unknown file sitting at the destination: adopt it in place if
	// it already matches the source, otherwise overwrite it.
	if prepped.FileSize == fsInfo.Size() {
		if !mode.ShouldHash {
			return false, nil
		}
		destHash, err := hashsum.File(ctx, destPath, opts.MaxMiBForHash)
		if err != nil {
			return false, err
		}
		if destHash == prepped.Hash {
			if mode.ShouldUpdateDatabase {
				if err := cat.UpsertReplica(ctx, catalog.ReplicaRecord{
					SourceID: prepped.SourceID, FileName: destName, ParentDirectory: destDir,
					LastModified: fsInfo.ModTime().Unix(),
				}); err != nil {
					return false, err
				}
			}
			return false, nil
		}
	}
	return true, nil
}

// copyBytes streams src to a temporary file alongside dst, syncing and
// renaming it into place atomically so a reader never observes a
// partially written destination file.
func copyBytes(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.NewFileCopyError("cannot open source", src, "", err)
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return errors.NewFileCopyError("cannot create destination", dst, "", err)
	}

	if err := copyWithContext(ctx, out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.NewFileCopyError("cannot copy file", dst, "", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return errors.NewFileCopyError("cannot flush destination", dst, "", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return errors.NewFileCopyError("cannot close destination", dst, "", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.NewFileCopyError("cannot finalize destination", dst, "", err)
	}
	return nil
}

// copyWithContext is io.Copy with a per-chunk cancellation check, so a
// stopped run does not wait for an entire large file to finish copying.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
