package journal

import (
	"fmt"
	"hash/adler32"

	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/util"

	lumpstore "github.com/nilebit/lumpstore"
)

// The first block of the journal region persists the ring's unreleased
// head: an 8-byte little-endian offset, a 4-byte Adler-32 over it, zeros
// to the block boundary. Replay resumes from this offset.
type headerRegion struct {
	nvm       nvm.NonVolatileMemory
	blockSize block.Size
}

func newHeaderRegion(n nvm.NonVolatileMemory) *headerRegion {
	return &headerRegion{nvm: n, blockSize: n.BlockSize()}
}

func (h *headerRegion) WriteHeader(ringHead uint64) error {
	buf := block.NewAlignedBytes(int(h.blockSize.AsU32()), h.blockSize)
	b := buf.AsBytes()
	for i := range b {
		b[i] = 0
	}
	util.Uint64toBytes(b[0:8], ringHead)
	util.Uint32toBytes(b[8:12], adler32.Checksum(b[0:8]))
	if err := h.nvm.WriteAt(b, 0); err != nil {
		return err
	}
	return h.nvm.Sync()
}

func (h *headerRegion) ReadHeader() (uint64, error) {
	buf := block.NewAlignedBytes(int(h.blockSize.AsU32()), h.blockSize)
	if err := h.nvm.ReadAt(buf.AsBytes(), 0); err != nil {
		return 0, err
	}
	b := buf.AsBytes()
	head := util.BytesToUint64(b[0:8])
	if got, want := adler32.Checksum(b[0:8]), util.BytesToUint32(b[8:12]); got != want {
		return 0, fmt.Errorf("journal header checksum mismatch (got %08x, want %08x): %w",
			got, want, lumpstore.ErrStorageCorrupted)
	}
	return head, nil
}
