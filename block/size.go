// Package block defines block sizes and block-aligned byte buffers.
//
// A block is the smallest unit of I/O: every persistent position, extent
// and record size is expressed in blocks, and every buffer handed to the
// nvm layer must be aligned to a block boundary in both address and length.
package block

import (
	"fmt"

	lumpstore "github.com/nilebit/lumpstore"
)

// MinSize is the smallest permitted block size. Every block size must be a
// power of two and a multiple of this value.
const MinSize = 512

// Size is the block size of a storage or an NVM, chosen at creation time.
type Size uint32

// MinimumSize returns the smallest valid Size.
func MinimumSize() Size {
	return Size(MinSize)
}

// NewSize validates n as a block size: a power of two, at least MinSize.
func NewSize(n uint32) (Size, error) {
	if n < MinSize || n&(n-1) != 0 {
		return 0, fmt.Errorf("block size %d (must be a power of two >= %d): %w",
			n, MinSize, lumpstore.ErrInvalidInput)
	}
	return Size(n), nil
}

func (s Size) AsU32() uint32 {
	return uint32(s)
}

// CeilAlign returns the first block boundary at or after position.
func (s Size) CeilAlign(position uint64) uint64 {
	bs := uint64(s)
	return (position + bs - 1) / bs * bs
}

// FloorAlign returns the last block boundary at or before position.
func (s Size) FloorAlign(position uint64) uint64 {
	return position / uint64(s) * uint64(s)
}

// Contains reports whether s is a multiple of other, i.e. data aligned to s
// is also aligned to other.
func (s Size) Contains(other Size) bool {
	return s >= other && s%other == 0
}

// IsAligned reports whether position sits on a block boundary.
func (s Size) IsAligned(position uint64) bool {
	return position%uint64(s) == 0
}
