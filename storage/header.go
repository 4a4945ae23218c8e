// Package storage implements the lump storage engine: a fixed-layout
// storage file holding a header block, a journal region and a data region,
// exposed through Put/Get/Delete/List operations with an at-most-two-I/Os
// contract per operation.
package storage

import (
	"bytes"
	"fmt"
	"hash/adler32"

	"github.com/google/uuid"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/portion"
	"github.com/nilebit/lumpstore/util"
)

// MagicNumber opens every storage file ("LUmp Storage Format").
var MagicNumber = [8]byte{'l', 'u', 's', 'f', 'b', 'l', 'k', 0}

// Storage format versions. Major bumps break compatibility; minor bumps
// stay backward compatible.
const (
	MajorVersion = 1
	MinorVersion = 1
)

const (
	headerFixedSize = 8 + 1 + 1 + 4 + 8 + 8 + 16 // magic..uuid
	headerCRCSize   = 4
)

// StorageHeader is block 0 of a storage file. It is written once at create
// time and never rewritten during normal operation.
type StorageHeader struct {
	MajorVersion  uint8
	MinorVersion  uint8
	BlockSize     block.Size
	JournalBlocks uint64 // journal region length (header block + ring)
	DataBlocks    uint64 // data region length
	InstanceUUID  uuid.UUID
}

// StorageBlocks is the total footprint: header, journal and data regions.
func (h *StorageHeader) StorageBlocks() uint64 {
	return 1 + h.JournalBlocks + h.DataBlocks
}

// EncodeBlock renders the header block: fields, zero padding, trailing
// Adler-32 over everything before it.
func (h *StorageHeader) EncodeBlock() *block.AlignedBytes {
	bs := int(h.BlockSize.AsU32())
	buf := block.NewAlignedBytes(bs, h.BlockSize)
	b := buf.AsBytes()
	copy(b[0:8], MagicNumber[:])
	b[8] = h.MajorVersion
	b[9] = h.MinorVersion
	util.Uint32toBytes(b[10:14], h.BlockSize.AsU32())
	util.Uint64toBytes(b[14:22], h.JournalBlocks)
	util.Uint64toBytes(b[22:30], h.DataBlocks)
	copy(b[30:46], h.InstanceUUID[:])
	util.Uint32toBytes(b[bs-headerCRCSize:], adler32.Checksum(b[:bs-headerCRCSize]))
	return buf
}

// DecodeHeaderBlock parses and validates a header block. b must span the
// whole block (the CRC sits at its end).
func DecodeHeaderBlock(b []byte) (*StorageHeader, error) {
	h, err := decodeHeaderPrefix(b)
	if err != nil {
		return nil, err
	}
	bs := int(h.BlockSize.AsU32())
	if len(b) < bs {
		return nil, fmt.Errorf("header block shorter than block size %d: %w", bs, lumpstore.ErrStorageCorrupted)
	}
	if got, want := adler32.Checksum(b[:bs-headerCRCSize]), util.BytesToUint32(b[bs-headerCRCSize:bs]); got != want {
		return nil, fmt.Errorf("storage header checksum mismatch (got %08x, want %08x): %w",
			got, want, lumpstore.ErrStorageCorrupted)
	}
	return h, nil
}

// decodeHeaderPrefix parses the fixed fields, enough to learn the block
// size before the full block can be verified.
func decodeHeaderPrefix(b []byte) (*StorageHeader, error) {
	if len(b) < headerFixedSize {
		return nil, fmt.Errorf("short storage header: %w", lumpstore.ErrStorageCorrupted)
	}
	if !bytes.Equal(b[0:8], MagicNumber[:]) {
		return nil, fmt.Errorf("not a lump storage file (magic %q): %w", b[0:8], lumpstore.ErrInvalidInput)
	}
	major, minor := b[8], b[9]
	if major != MajorVersion {
		return nil, fmt.Errorf("unsupported storage major version %d: %w", major, lumpstore.ErrInvalidInput)
	}
	if minor > MinorVersion {
		return nil, fmt.Errorf("unsupported storage minor version %d: %w", minor, lumpstore.ErrInvalidInput)
	}
	bs, err := block.NewSize(util.BytesToUint32(b[10:14]))
	if err != nil {
		return nil, err
	}
	h := &StorageHeader{
		MajorVersion:  major,
		MinorVersion:  minor,
		BlockSize:     bs,
		JournalBlocks: util.BytesToUint64(b[14:22]),
		DataBlocks:    util.BytesToUint64(b[22:30]),
	}
	copy(h.InstanceUUID[:], b[30:46])
	if h.DataBlocks > portion.MaxAddress {
		return nil, fmt.Errorf("data region of %d blocks exceeds the address space: %w",
			h.DataBlocks, lumpstore.ErrInvalidInput)
	}
	return h, nil
}

// readHeader loads and validates block 0 of the given NVM.
func readHeader(n nvm.NonVolatileMemory) (*StorageHeader, error) {
	probe := block.NewAlignedBytes(block.MinSize, n.BlockSize())
	if err := n.ReadAt(probe.AsBytes(), 0); err != nil {
		return nil, err
	}
	h, err := decodeHeaderPrefix(probe.AsBytes())
	if err != nil {
		return nil, err
	}
	full := probe
	if h.BlockSize.AsU32() > block.MinSize {
		full = block.NewAlignedBytes(int(h.BlockSize.AsU32()), n.BlockSize())
		if err := n.ReadAt(full.AsBytes(), 0); err != nil {
			return nil, err
		}
	}
	return DecodeHeaderBlock(full.AsBytes())
}

// splitRegions carves the NVM into journal and data regions as laid out by
// the header. The trailing partial block, if any, belongs to neither.
func (h *StorageHeader) splitRegions(n nvm.NonVolatileMemory) (journalNVM, dataNVM nvm.NonVolatileMemory, err error) {
	bs := uint64(h.BlockSize.AsU32())
	if h.StorageBlocks()*bs > n.Capacity() {
		return nil, nil, fmt.Errorf("storage of %d blocks does not fit capacity %d: %w",
			h.StorageBlocks(), n.Capacity(), lumpstore.ErrStorageCorrupted)
	}
	_, body, err := n.Split(bs)
	if err != nil {
		return nil, nil, err
	}
	journalNVM, rest, err := body.Split(h.JournalBlocks * bs)
	if err != nil {
		return nil, nil, err
	}
	dataNVM, _, err = rest.Split(h.DataBlocks * bs)
	if err != nil {
		return nil, nil, err
	}
	return journalNVM, dataNVM, nil
}
