// Package portion locates regions inside a storage: block addresses and
// the extents ("data portions") the allocator hands out.
package portion

import (
	"fmt"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
)

// MaxAddress is the largest representable block address (40 bits), which
// bounds the data region at ~512TiB with the minimum block size.
const MaxAddress = (1 << 40) - 1

// Address is a 40-bit block address inside the data region.
type Address uint64

// NewAddress validates v as an address.
func NewAddress(v uint64) (Address, error) {
	if v > MaxAddress {
		return 0, fmt.Errorf("address %d exceeds 40 bits: %w", v, lumpstore.ErrInvalidInput)
	}
	return Address(v), nil
}

func (a Address) AsU64() uint64 {
	return uint64(a)
}

// DataPortion is an extent in the data region: start block and length in
// blocks. The [Start, End) convention applies; End itself is not written.
type DataPortion struct {
	Start Address
	Len   uint16
}

func (p DataPortion) End() Address {
	return p.Start + Address(p.Len)
}

// SizeBytes returns the extent size in bytes.
func (p DataPortion) SizeBytes(blockSize block.Size) uint64 {
	return uint64(p.Len) * uint64(blockSize.AsU32())
}

func (p DataPortion) String() string {
	return fmt.Sprintf("DataPortion{start:%d, len:%d}", p.Start, p.Len)
}
