// Package lump defines the unit of storage: a value of up to a few
// megabytes addressed by a fixed 128-bit id.
//
// The store does not interpret lump contents. It checksums them only as
// part of its own framing (journal record checksums for embedded lumps, a
// trailer CRC for data-region lumps); redundancy is the caller's business.
package lump

import (
	"fmt"
	"strconv"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/util"
)

// IdSize is the byte width of a LumpId.
const IdSize = 16

// MaxSize is the largest storable lump in bytes. Extent lengths are 16-bit
// block counts at the minimum block size; the trailer steals the rest.
const MaxSize = 0xFFFF*block.MinSize - TrailerSize

// TrailerSize is the per-lump bookkeeping appended inside the last data
// block: a CRC-32C over the payload and the padding length.
const TrailerSize = 4 + 2

// MaxEmbeddedSize is the largest lump that fits in a single journal record
// (the record length field covers id plus data).
const MaxEmbeddedSize = 0xFFFF - IdSize

// LumpId is a 128-bit unsigned integer identifying a lump. Ids are totally
// ordered; the order drives iteration, not value placement.
type LumpId struct {
	hi, lo uint64
}

func NewLumpId(hi, lo uint64) LumpId {
	return LumpId{hi: hi, lo: lo}
}

// LumpIdFromU64 builds an id from a small integer key.
func LumpIdFromU64(v uint64) LumpId {
	return LumpId{lo: v}
}

// ParseLumpId parses a hexadecimal id of up to 32 digits; leading zeros may
// be omitted.
func ParseLumpId(s string) (LumpId, error) {
	if len(s) == 0 || len(s) > 32 {
		return LumpId{}, fmt.Errorf("lump id %q: %w", s, lumpstore.ErrInvalidInput)
	}
	split := 0
	if len(s) > 16 {
		split = len(s) - 16
	}
	hi := uint64(0)
	if split > 0 {
		v, err := strconv.ParseUint(s[:split], 16, 64)
		if err != nil {
			return LumpId{}, fmt.Errorf("lump id %q: %w", s, lumpstore.ErrInvalidInput)
		}
		hi = v
	}
	lo, err := strconv.ParseUint(s[split:], 16, 64)
	if err != nil {
		return LumpId{}, fmt.Errorf("lump id %q: %w", s, lumpstore.ErrInvalidInput)
	}
	return LumpId{hi: hi, lo: lo}, nil
}

func (id LumpId) U128() (hi, lo uint64) {
	return id.hi, id.lo
}

func (id LumpId) String() string {
	return fmt.Sprintf("%016x%016x", id.hi, id.lo)
}

func (id LumpId) Compare(other LumpId) int {
	switch {
	case id.hi < other.hi:
		return -1
	case id.hi > other.hi:
		return 1
	case id.lo < other.lo:
		return -1
	case id.lo > other.lo:
		return 1
	default:
		return 0
	}
}

func (id LumpId) Less(other LumpId) bool {
	return id.Compare(other) < 0
}

// WriteBytes encodes the id into b (little-endian low half first, matching
// the rest of the on-disk integers).
func (id LumpId) WriteBytes(b []byte) {
	util.Uint64toBytes(b[0:8], id.lo)
	util.Uint64toBytes(b[8:16], id.hi)
}

// LumpIdFromBytes decodes an id previously written with WriteBytes.
func LumpIdFromBytes(b []byte) LumpId {
	return LumpId{
		lo: util.BytesToUint64(b[0:8]),
		hi: util.BytesToUint64(b[8:16]),
	}
}

// Data is a lump payload. Data created by NewData carries a plain slice and
// is copied into an aligned buffer at PUT time; AllocateAligned avoids that
// copy by reserving block-aligned memory up front.
type Data struct {
	raw     []byte
	aligned *block.AlignedBytes
}

// NewData wraps b as a lump payload.
func NewData(b []byte) (*Data, error) {
	if len(b) > MaxSize {
		return nil, fmt.Errorf("too large lump data: %d bytes: %w", len(b), lumpstore.ErrInvalidInput)
	}
	return &Data{raw: b}, nil
}

// AllocateAligned reserves an aligned, uninitialized payload buffer of the
// given size. The trailer bytes are reserved past the payload so a PUT can
// write the buffer out without another copy.
func AllocateAligned(size int, blockSize block.Size) (*Data, error) {
	if size > MaxSize {
		return nil, fmt.Errorf("too large lump data: %d bytes: %w", size, lumpstore.ErrInvalidInput)
	}
	a := block.NewAlignedBytes(size+TrailerSize, blockSize)
	a.Align()
	a.Truncate(size)
	return &Data{aligned: a}, nil
}

// NewDataFromAligned adopts an aligned buffer as a payload; the storage
// layer uses it to surface data-region reads without another copy.
func NewDataFromAligned(a *block.AlignedBytes) *Data {
	return &Data{aligned: a}
}

// AsBytes returns the payload.
func (d *Data) AsBytes() []byte {
	if d.aligned != nil {
		return d.aligned.AsBytes()
	}
	return d.raw
}

func (d *Data) Len() int {
	return len(d.AsBytes())
}

// AlignedBlock returns the payload in an aligned buffer with the given
// block size, copying only when the payload was not pre-aligned for it.
func (d *Data) AlignedBlock(blockSize block.Size) *block.AlignedBytes {
	if d.aligned != nil && d.aligned.BlockSize() == blockSize {
		return d.aligned
	}
	a := block.NewAlignedBytes(d.Len()+TrailerSize, blockSize)
	a.Truncate(d.Len())
	copy(a.AsBytes(), d.AsBytes())
	return a
}

// Header is the summary returned by HEAD requests: the approximate stored
// size (rounded up to block boundaries for data-region lumps, exact for
// embedded ones).
type Header struct {
	ApproximateDataSize uint32
}
