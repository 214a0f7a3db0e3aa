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

// Package workerpool is the fixed-size goroutine pool the classifier
// and copy engine phases fan out over: a jobs channel of indices feeds
// numWorkers goroutines, each running fn against one index at a time,
// with a WaitGroup marking completion. The same shape is used for both
// phases so neither duplicates the plumbing.
package workerpool

import (
	"context"
	"sync"
)

// Run executes fn(ctx, i) for every i in [0, n) across numWorkers
// goroutines, blocking until all have returned or ctx is cancelled. A
// cancelled ctx stops workers from picking up new indices; indices
// already in flight are allowed to finish.
func Run(ctx context.Context, n, numWorkers int, fn func(ctx context.Context, index int)) {
	if n == 0 {
		return
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > n {
		numWorkers = n
	}

	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				fn(ctx, i)
			}
		}()
	}
	wg.Wait()
}
