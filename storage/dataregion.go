package storage

import (
	"fmt"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/crc"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/allocator"
	"github.com/nilebit/lumpstore/storage/portion"
	"github.com/nilebit/lumpstore/util"
)

// DataRegion stores lump payloads in whole-block extents. Each stored lump
// ends with a trailer inside its last block: CRC-32C over the payload and
// the padding length, so a read never needs a second I/O to size or verify
// the payload.
type DataRegion struct {
	allocator *allocator.DataPortionAllocator
	nvm       nvm.NonVolatileMemory
	blockSize block.Size
}

func NewDataRegion(a *allocator.DataPortionAllocator, n nvm.NonVolatileMemory, blockSize block.Size) *DataRegion {
	return &DataRegion{allocator: a, nvm: n, blockSize: blockSize}
}

// Put allocates an extent and writes data into it (one block write).
func (d *DataRegion) Put(data *lump.Data) (portion.DataPortion, error) {
	ab := data.AlignedBlock(d.blockSize)
	payloadLen := ab.Len()
	bs := uint64(d.blockSize.AsU32())
	blocks := d.blockSize.CeilAlign(uint64(payloadLen+lump.TrailerSize)) / bs
	if blocks > 0xFFFF {
		return portion.DataPortion{}, fmt.Errorf("lump of %d bytes spans %d blocks (max %d): %w",
			payloadLen, blocks, 0xFFFF, lumpstore.ErrInvalidInput)
	}

	p, err := d.allocator.Allocate(uint16(blocks))
	if err != nil {
		return portion.DataPortion{}, err
	}

	ab.Resize(int(blocks * bs))
	buf := ab.AsBytes()
	padding := len(buf) - payloadLen - lump.TrailerSize
	util.Uint32toBytes(buf[len(buf)-6:len(buf)-2], crc.New(buf[:payloadLen]).Value())
	util.Uint16toBytes(buf[len(buf)-2:], uint16(padding))

	err = d.nvm.WriteAt(buf, p.Start.AsU64()*bs)
	ab.Truncate(payloadLen)
	if err != nil {
		d.allocator.Release(p)
		return portion.DataPortion{}, err
	}
	return p, nil
}

// Get reads the extent back (one block read) and verifies the trailer.
func (d *DataRegion) Get(p portion.DataPortion) (*lump.Data, error) {
	bs := uint64(d.blockSize.AsU32())
	size := int(uint64(p.Len) * bs)
	ab := block.NewAlignedBytes(size, d.blockSize)
	if err := d.nvm.ReadAt(ab.AsBytes(), p.Start.AsU64()*bs); err != nil {
		return nil, err
	}
	buf := ab.AsBytes()
	padding := int(util.BytesToUint16(buf[size-2:]))
	payloadLen := size - lump.TrailerSize - padding
	if payloadLen < 0 {
		return nil, fmt.Errorf("lump trailer at %s claims %d padding bytes of %d: %w",
			p, padding, size, lumpstore.ErrStorageCorrupted)
	}
	stored := util.BytesToUint32(buf[size-6 : size-2])
	if got := crc.New(buf[:payloadLen]).Value(); got != stored {
		return nil, fmt.Errorf("lump checksum mismatch at %s (got %08x, want %08x): %w",
			p, got, stored, lumpstore.ErrStorageCorrupted)
	}
	ab.Truncate(payloadLen)
	return lump.NewDataFromAligned(ab), nil
}

// Release returns an extent to the allocator; no disk access happens and
// the blocks are not zeroed.
func (d *DataRegion) Release(p portion.DataPortion) {
	d.allocator.Release(p)
}

// Allocator exposes the underlying allocator for usage queries.
func (d *DataRegion) Allocator() *allocator.DataPortionAllocator {
	return d.allocator
}
