package frontier

import (
	"errors"
	"fmt"
	"os"
	"sync"

	bloom "github.com/bits-and-blooms/bloom/v3"
	"github.com/edsrzf/mmap-go"
)

// dedupKey is the bloom filter's membership unit: (url, source_id), so a
// URL enqueued once for one source can still be enqueued fresh for a
// different source.
func dedupKey(url string, sourceID int) string {
	return fmt.Sprintf("%d\x00%s", sourceID, url)
}

// enqueueDedup is a disk-backed bloom filter that pre-checks whether this
// process has already enqueued a given (url, source_id) pair, so Enqueue
// can skip the upsert round trip for the overwhelming majority of
// already-seen links. The unique constraint on urls_frontier(url,
// source_id) still decides row identity, but a pair the filter reports as
// seen is never upserted: a false positive makes Enqueue drop a pair this
// process has not enqueued before, and a repeat enqueue of a seen pair
// does not refresh its depth or priority. Adapted from a same-process "have I visited this URL"
// tracker generalized to the frontier's (url, source_id) key.
type enqueueDedup struct {
	mu        sync.Mutex
	filter    *bloom.BloomFilter
	file      *os.File
	mmap      mmap.MMap
	tmpPath   string
	count     uint64
	syncEvery uint64
	lastErr   error
}

// newEnqueueDedup creates a dedup filter sized for expectedItems entries at
// the given false-positive rate, backed by a memory-mapped temp file so its
// resident memory footprint stays constant regardless of crawl size.
func newEnqueueDedup(expectedItems uint, falsePositiveRate float64) (*enqueueDedup, error) {
	filter := bloom.NewWithEstimates(expectedItems, falsePositiveRate)

	tmpFile, err := os.CreateTemp(os.TempDir(), "radarcrawl-frontier-*.bloom")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	filterSize := filter.Cap()
	if err := tmpFile.Truncate(int64(filterSize)); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("truncate temp file: %w", err)
	}

	mapped, err := mmap.MapRegion(tmpFile, int(filterSize), mmap.RDWR, 0, 0)
	if err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("mmap temp file: %w", err)
	}

	data, err := filter.MarshalBinary()
	if err != nil {
		_ = mapped.Unmap()
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("marshal bloom filter: %w", err)
	}
	if len(data) > len(mapped) {
		_ = mapped.Unmap()
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("filter data (%d) exceeds mmap size (%d)", len(data), len(mapped))
	}
	copy(mapped, data)

	return &enqueueDedup{
		filter:    filter,
		file:      tmpFile,
		mmap:      mapped,
		tmpPath:   tmpPath,
		syncEvery: 1000,
	}, nil
}

// seenOrMark reports whether (url, sourceID) was already marked, marking
// it if not.
func (d *enqueueDedup) seenOrMark(url string, sourceID int) bool {
	key := dedupKey(url, sourceID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(key) {
		return true
	}
	d.filter.AddString(key)
	d.count++

	if d.count >= d.syncEvery {
		if err := d.syncLocked(); err != nil {
			d.lastErr = err
		}
	}
	return false
}

func (d *enqueueDedup) syncLocked() error {
	data, err := d.filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal bloom filter: %w", err)
	}
	if len(data) <= len(d.mmap) {
		copy(d.mmap, data)
	}
	if err := d.mmap.Flush(); err != nil {
		return fmt.Errorf("flush mmap: %w", err)
	}
	d.count = 0
	return nil
}

// lastError returns the last background sync error, if any.
func (d *enqueueDedup) lastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// close flushes pending state and removes the backing temp file.
func (d *enqueueDedup) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.lastErr != nil {
		errs = append(errs, d.lastErr)
	}

	if d.mmap != nil {
		if d.count > 0 {
			if err := d.syncLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := d.mmap.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("unmap: %w", err))
		}
		d.mmap = nil
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close file: %w", err))
		}
		d.file = nil
	}
	if d.tmpPath != "" {
		if err := os.Remove(d.tmpPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove temp file: %w", err))
		}
		d.tmpPath = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("close enqueue dedup: %w", errors.Join(errs...))
	}
	return nil
}
