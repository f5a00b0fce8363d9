// Package parallel runs row-wise work over a probability matrix on all CPU
// cores.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize divides items according to the number of CPU cores and
// executes fn in parallel for each range [start, end).
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// ParallelizeWithThreshold parallelizes only when items exceeds threshold.
// Below the threshold fn is called once with the full range.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// NumChunks returns the number of fixed-size chunks ForEachChunk uses.
func NumChunks(items, chunkSize int) int {
	if items <= 0 {
		return 0
	}
	if chunkSize <= 0 {
		return 1
	}
	return (items + chunkSize - 1) / chunkSize
}

// ForEachChunk splits items into chunks of chunkSize and calls fn for each
// chunk with its index. Chunk boundaries do not depend on the number of
// CPUs, so callers that reduce per-chunk results in index order get the same
// floating point result on every machine. Work is spread over the CPU cores
// only when items exceeds threshold.
func ForEachChunk(items, chunkSize, threshold int, fn func(chunk, start, end int)) {
	nChunks := NumChunks(items, chunkSize)
	if nChunks == 0 {
		return
	}
	if chunkSize <= 0 {
		chunkSize = items
	}

	run := func(c int) {
		start := c * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		fn(c, start, end)
	}

	if items <= threshold || nChunks == 1 {
		for c := 0; c < nChunks; c++ {
			run(c)
		}
		return
	}

	Parallelize(nChunks, func(first, last int) {
		for c := first; c < last; c++ {
			run(c)
		}
	})
}
