// Package blockcache provides a write-back cache over a contiguous run of flash
// blocks. The FAT layer keeps a bank's system area (boot records, allocation
// tables and root directory) in one of these so that the many small edits a
// file operation makes are only written to flash when the volume is synced.
//
// All block indexes begin at 0 and are relative to the start of the cache.

package blockcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/hashicorp/go-multierror"

	c "github.com/dargueta/yepp/drivers/common"
)

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the underlying storage into `buffer`. `buffer` is guaranteed
// to be the size of exactly one block.
type FetchBlockCallback func(blockIndex c.LogicalBlock, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of the
// given buffer to a block in the backing storage. `buffer` is guaranteed to be
// the size of exactly one block.
type FlushBlockCallback func(blockIndex c.LogicalBlock, buffer []byte) error

type BlockCache struct {
	loadedBlocks  bitmap.Bitmap
	dirtyBlocks   bitmap.Bitmap
	fetch         FetchBlockCallback
	flush         FlushBlockCallback
	bytesPerBlock uint
	totalBlocks   uint
	data          []byte
}

// New creates a new BlockCache.
func New(
	bytesPerBlock uint,
	totalBlocks uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
) *BlockCache {
	return &BlockCache{
		loadedBlocks:  bitmap.New(int(totalBlocks)),
		dirtyBlocks:   bitmap.New(int(totalBlocks)),
		data:          make([]byte, int(bytesPerBlock*totalBlocks)),
		fetch:         fetchCb,
		flush:         flushCb,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// BytesPerBlock returns the size of a single block, in bytes.
func (cache *BlockCache) BytesPerBlock() uint {
	return cache.bytesPerBlock
}

// TotalBlocks returns the size of the cache, in blocks.
func (cache *BlockCache) TotalBlocks() uint {
	return cache.totalBlocks
}

// Size returns the size of the cache, in bytes.
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerBlock * cache.totalBlocks)
}

// checkRange verifies that `length` bytes can be accessed starting at byte
// `offset`. If not, it returns an error describing the exact conditions.
func (cache *BlockCache) checkRange(offset int64, length int) error {
	if offset < 0 || length < 0 || offset+int64(length) > cache.Size() {
		return fmt.Errorf(
			"can't access %d bytes at offset %d; range not in [0, %d)",
			length,
			offset,
			cache.Size(),
		)
	}
	return nil
}

// blockSpan returns the first block touched by the byte range and the number of
// blocks it covers.
func (cache *BlockCache) blockSpan(offset int64, length int) (c.LogicalBlock, uint) {
	if length == 0 {
		return c.LogicalBlock(uint(offset) / cache.bytesPerBlock), 0
	}
	first := uint(offset) / cache.bytesPerBlock
	last := (uint(offset) + uint(length) - 1) / cache.bytesPerBlock
	return c.LogicalBlock(first), last - first + 1
}

// loadBlockRange ensures that all blocks in the range [start, start + count) are
// present in the cache, and loads any missing ones from storage.
func (cache *BlockCache) loadBlockRange(start c.LogicalBlock, count uint) error {
	for blockIndex := int(start); uint(blockIndex) < uint(start)+count; blockIndex++ {
		// Skip if the block is in the cache. Since dirty blocks are present by
		// definition, we don't need to check `dirtyBlocks`.
		if cache.loadedBlocks.Get(blockIndex) {
			continue
		}

		startOffset := uint(blockIndex) * cache.bytesPerBlock
		buffer := cache.data[startOffset : startOffset+cache.bytesPerBlock]

		err := cache.fetch(c.LogicalBlock(blockIndex), buffer)
		if err != nil {
			return fmt.Errorf(
				"failed to load block %d from source: %w",
				blockIndex,
				err,
			)
		}

		cache.loadedBlocks.Set(blockIndex, true)
		cache.dirtyBlocks.Set(blockIndex, false)
	}

	return nil
}

// LoadAll ensures all missing blocks are loaded from storage into the cache.
func (cache *BlockCache) LoadAll() error {
	return cache.loadBlockRange(0, cache.totalBlocks)
}

// ReadAt fills `buffer` with the bytes starting at `offset`, loading any
// missing blocks first. Reading past the end of the cache fails and leaves
// `buffer` unmodified.
func (cache *BlockCache) ReadAt(buffer []byte, offset int64) (int, error) {
	err := cache.checkRange(offset, len(buffer))
	if err != nil {
		return 0, err
	}

	start, count := cache.blockSpan(offset, len(buffer))
	err = cache.loadBlockRange(start, count)
	if err != nil {
		return 0, err
	}

	return copy(buffer, cache.data[offset:]), nil
}

// WriteAt copies `buffer` into the cache at `offset` and marks every block it
// touches as dirty. Blocks that are only partially overwritten are loaded first
// so the untouched bytes survive the next flush.
func (cache *BlockCache) WriteAt(buffer []byte, offset int64) (int, error) {
	err := cache.checkRange(offset, len(buffer))
	if err != nil {
		return 0, err
	}

	start, count := cache.blockSpan(offset, len(buffer))
	err = cache.loadBlockRange(start, count)
	if err != nil {
		return 0, err
	}

	n := copy(cache.data[offset:], buffer)
	for i := uint(0); i < count; i++ {
		cache.dirtyBlocks.Set(int(start)+int(i), true)
	}
	return n, nil
}

// Fill overwrites the whole cache with `value` and marks every block as loaded
// and dirty, without fetching anything. Formatting uses this to build a fresh
// system area.
func (cache *BlockCache) Fill(value byte) {
	for i := range cache.data {
		cache.data[i] = value
	}
	for i := 0; i < int(cache.totalBlocks); i++ {
		cache.loadedBlocks.Set(i, true)
		cache.dirtyBlocks.Set(i, true)
	}
}

// IsDirty reports whether any block has been modified since the last flush.
func (cache *BlockCache) IsDirty() bool {
	for i := 0; i < int(cache.totalBlocks); i++ {
		if cache.dirtyBlocks.Get(i) {
			return true
		}
	}
	return false
}

// FlushAll writes out all dirty blocks (and only dirty blocks) to the
// underlying storage and marks them as clean. A block that fails to flush stays
// dirty; the remaining blocks are still attempted and all failures are
// returned together.
func (cache *BlockCache) FlushAll() error {
	var result *multierror.Error

	for blockIndex := 0; uint(blockIndex) < cache.totalBlocks; blockIndex++ {
		if !cache.dirtyBlocks.Get(blockIndex) {
			continue
		}

		startOffset := uint(blockIndex) * cache.bytesPerBlock
		buffer := cache.data[startOffset : startOffset+cache.bytesPerBlock]

		err := cache.flush(c.LogicalBlock(blockIndex), buffer)
		if err != nil {
			result = multierror.Append(
				result,
				fmt.Errorf("failed to flush block %d to storage: %w", blockIndex, err))
			continue
		}

		cache.dirtyBlocks.Set(blockIndex, false)
	}

	return result.ErrorOrNil()
}
