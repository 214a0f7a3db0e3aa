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

// Package hashsum computes a bounded-prefix BLAKE2b-512 digest of a
// file. Hashing only a prefix caps worst-case CPU per file; callers
// that compare two hashes must apply the same prefix bound to both
// sides or the comparison is meaningless.
package hashsum

import (
	"context"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/kraklabs/hashbackup/internal/errors"
)

// chunkSize is the read granularity used while streaming a file into
// the hasher. Small enough to check ctx between reads on large files,
// large enough to keep syscall overhead low.
const chunkSize = 8 * 1024

const bytesPerMiB = 1 << 20

// File hashes up to maxMiB mebibytes of path's content and returns the
// lowercase hex digest (128 characters for BLAKE2b-512). ctx is checked
// between chunk reads so a hash in progress can be abandoned promptly
// when a run is cancelled.
func File(ctx context.Context, path string, maxMiB uint) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewHashIOError("cannot hash file", path, "verify the file is readable", err)
	}
	defer f.Close()

	h, err := blake2b.New512(nil)
	if err != nil {
		return "", errors.NewInternalError("cannot construct hasher", "blake2b.New512 failed", "", err)
	}

	limit := int64(maxMiB) * bytesPerMiB
	buf := make([]byte, chunkSize)
	var read int64

	for read < limit {
		if err := ctx.Err(); err != nil {
			return "", errors.NewHashIOError("hash cancelled", path, "", err)
		}

		want := int64(len(buf))
		if remaining := limit - read; remaining < want {
			want = remaining
		}

		n, readErr := f.Read(buf[:want])
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return "", errors.NewHashIOError("cannot hash file", path, "", werr)
			}
			read += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", errors.NewHashIOError("cannot hash file", path, "verify the file is readable", readErr)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
