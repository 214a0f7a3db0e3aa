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

// Package walk enumerates the regular files under a source root,
// honoring a depth bound and a set of directory names to skip
// entirely. It follows symbolic links, which filepath.WalkDir alone
// does not do.
package walk

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/hashbackup/internal/errors"
)

// Options bounds a walk of one source root.
type Options struct {
	// MaxDepth is the maximum number of path segments a yielded file
	// may sit below root: 1 yields only files directly in the root.
	// Zero means unbounded.
	MaxDepth uint
	// SkipDirs is a set of directory base names whose entire subtree
	// is skipped, matched case-sensitively against the base name only.
	SkipDirs map[string]struct{}
}

// Result is one discovered regular file.
type Result struct {
	// AbsPath is the absolute path to the file as walked; a symlinked
	// file keeps its link path, which open/stat calls follow naturally.
	AbsPath string
	// RelDir is the path of the file's parent directory relative to root.
	RelDir string
	Name   string
}

// Walk enumerates root according to opts, returning every regular file
// found and a slice of non-fatal per-entry errors encountered along the
// way (unreadable directories, broken symlinks). An empty error slice
// means every entry was read; the errors are returned rather than
// aborting the walk so the caller can decide whether to treat them as
// fatal. If root itself cannot be resolved, the results are nil and
// the slice holds that single error.
func Walk(root string, opts Options) ([]Result, []error) {
	var results []Result
	var errs []error

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, []error{errors.NewWalkError("cannot resolve source root", root, "", err)}
	}

	visited := make(map[string]struct{})
	walkDir(rootAbs, rootAbs, 0, opts, visited, &results, &errs)
	return results, errs
}

func walkDir(root, dir string, depth uint, opts Options, visited map[string]struct{}, results *[]Result, errs *[]error) {
	// Files in this directory sit depth+1 segments below root, so a
	// directory at depth >= MaxDepth holds nothing within bounds.
	if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
		return
	}
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		if _, seen := visited[real]; seen {
			return
		}
		visited[real] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		*errs = append(*errs, errors.NewWalkError("cannot read directory", dir, "check permissions", err))
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		full := filepath.Join(dir, name)

		info, err := os.Lstat(full)
		if err != nil {
			*errs = append(*errs, errors.NewWalkError("cannot stat entry", full, "", err))
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				*errs = append(*errs, errors.NewWalkError("broken symlink", full, "", err))
				continue
			}
			targetInfo, err := os.Stat(target)
			if err != nil {
				*errs = append(*errs, errors.NewWalkError("cannot stat symlink target", full, "", err))
				continue
			}
			if targetInfo.IsDir() {
				if _, skip := opts.SkipDirs[name]; skip {
					continue
				}
				walkDir(root, full, depth+1, opts, visited, results, errs)
				continue
			}
			if targetInfo.Mode().IsRegular() {
				emit(root, dir, name, results)
			}
			continue
		}

		if info.IsDir() {
			if _, skip := opts.SkipDirs[name]; skip {
				continue
			}
			walkDir(root, full, depth+1, opts, visited, results, errs)
			continue
		}

		if info.Mode().IsRegular() {
			emit(root, dir, name, results)
		}
	}
}

func emit(root, dir, name string, results *[]Result) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		rel = dir
	}
	if rel == "." {
		rel = ""
	}
	*results = append(*results, Result{
		AbsPath: filepath.Join(dir, name),
		RelDir:  rel,
		Name:    name,
	})
}

// ContainsDotDot reports whether p contains a ".." path segment, used
// by the classifier's path-escape guard.
func ContainsDotDot(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
