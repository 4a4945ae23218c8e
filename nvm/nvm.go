// Package nvm provides the non-volatile memory backends the storage engine
// reads and writes through: a direct-I/O file, a volatile in-memory buffer,
// and a shared memory-mapped region.
//
// All offsets and buffer lengths passed to ReadAt/WriteAt must be aligned
// to the backend's block size; misalignment fails with ErrInvalidInput.
// Short reads and writes are not tolerated: they surface ErrDeviceError.
package nvm

import (
	"fmt"
	"io"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
)

// NonVolatileMemory is a persistable byte region with block-aligned access.
//
// A single region is carved into header, journal and data sub-regions via
// Split; the sub-regions share the same underlying device.
type NonVolatileMemory interface {
	io.Closer

	// ReadAt fills buf from the region starting at offset. Offset and
	// len(buf) must be block-aligned.
	ReadAt(buf []byte, offset uint64) error

	// WriteAt writes buf at offset. Offset and len(buf) must be
	// block-aligned. The write either completes fully or fails.
	WriteAt(buf []byte, offset uint64) error

	// Sync makes previously written data durable. Backends without a
	// volatile buffer may treat it as a no-op.
	Sync() error

	Capacity() uint64
	BlockSize() block.Size

	// Split carves the region in two at position (block-aligned).
	Split(position uint64) (NonVolatileMemory, NonVolatileMemory, error)
}

func checkIOArgs(bs block.Size, capacity uint64, offset uint64, n int) error {
	if !bs.IsAligned(offset) || !bs.IsAligned(uint64(n)) {
		return fmt.Errorf("misaligned I/O: offset=%d len=%d block_size=%d: %w",
			offset, n, bs.AsU32(), lumpstore.ErrInvalidInput)
	}
	if offset+uint64(n) > capacity {
		return fmt.Errorf("I/O beyond region: offset=%d len=%d capacity=%d: %w",
			offset, n, capacity, lumpstore.ErrInvalidInput)
	}
	return nil
}

func checkSplitPosition(bs block.Size, capacity, position uint64) error {
	if !bs.IsAligned(position) || position > capacity {
		return fmt.Errorf("bad split position %d (capacity=%d): %w",
			position, capacity, lumpstore.ErrInvalidInput)
	}
	return nil
}
