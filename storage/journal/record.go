// Package journal implements the on-disk ring of mutation records that
// makes index updates crash-atomic, including its inline garbage
// collection and the replay that rebuilds the index at open time.
package journal

import (
	"fmt"
	"hash/adler32"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/storage/portion"
	"github.com/nilebit/lumpstore/util"
)

// Record framing: tag (1B), payload length (2B LE), payload, Adler-32 over
// tag+length+payload (4B LE). Records are byte-granular inside the ring.
const (
	TagPut          = 1
	TagEmbed        = 2
	TagDelete       = 3
	TagDeleteRange  = 4
	TagGoToFront    = 14
	TagEndOfRecords = 15
)

const (
	headerSize   = 1 + 2
	checksumSize = 4
	portionSize  = 5 + 2 // 40-bit start + 16-bit block count

	// EndOfRecordsSize is the trailing sentinel every append leaves behind.
	EndOfRecordsSize = headerSize + checksumSize
)

// Record is one journal entry variant.
type Record interface {
	Tag() byte
	// ExternalSize is the full on-disk footprint including framing.
	ExternalSize() int

	payloadLen() int
	writePayload(b []byte)
}

// PutRecord binds a lump id to a data-region extent.
type PutRecord struct {
	LumpID      lump.LumpId
	DataPortion portion.DataPortion
}

func (r PutRecord) Tag() byte         { return TagPut }
func (r PutRecord) payloadLen() int   { return lump.IdSize + portionSize }
func (r PutRecord) ExternalSize() int { return headerSize + r.payloadLen() + checksumSize }

func (r PutRecord) writePayload(b []byte) {
	r.LumpID.WriteBytes(b[0:16])
	util.Uint40toBytes(b[16:21], r.DataPortion.Start.AsU64())
	util.Uint16toBytes(b[21:23], r.DataPortion.Len)
}

// EmbedRecord carries a small lump value inline.
type EmbedRecord struct {
	LumpID lump.LumpId
	Data   []byte
}

func (r EmbedRecord) Tag() byte         { return TagEmbed }
func (r EmbedRecord) payloadLen() int   { return lump.IdSize + len(r.Data) }
func (r EmbedRecord) ExternalSize() int { return headerSize + r.payloadLen() + checksumSize }

func (r EmbedRecord) writePayload(b []byte) {
	r.LumpID.WriteBytes(b[0:16])
	copy(b[16:], r.Data)
}

// DeleteRecord removes a binding.
type DeleteRecord struct {
	LumpID lump.LumpId
}

func (r DeleteRecord) Tag() byte         { return TagDelete }
func (r DeleteRecord) payloadLen() int   { return lump.IdSize }
func (r DeleteRecord) ExternalSize() int { return headerSize + r.payloadLen() + checksumSize }

func (r DeleteRecord) writePayload(b []byte) {
	r.LumpID.WriteBytes(b[0:16])
}

// DeleteRangeRecord removes every binding with Low <= id <= High.
type DeleteRangeRecord struct {
	Low, High lump.LumpId
}

func (r DeleteRangeRecord) Tag() byte         { return TagDeleteRange }
func (r DeleteRangeRecord) payloadLen() int   { return lump.IdSize * 2 }
func (r DeleteRangeRecord) ExternalSize() int { return headerSize + r.payloadLen() + checksumSize }

func (r DeleteRangeRecord) writePayload(b []byte) {
	r.Low.WriteBytes(b[0:16])
	r.High.WriteBytes(b[16:32])
}

// GoToFrontRecord tells the ring reader to continue at offset zero.
type GoToFrontRecord struct{}

func (r GoToFrontRecord) Tag() byte           { return TagGoToFront }
func (r GoToFrontRecord) payloadLen() int     { return 0 }
func (r GoToFrontRecord) ExternalSize() int   { return headerSize + checksumSize }
func (r GoToFrontRecord) writePayload([]byte) {}

// EndOfRecords terminates a scan.
type EndOfRecords struct{}

func (r EndOfRecords) Tag() byte           { return TagEndOfRecords }
func (r EndOfRecords) payloadLen() int     { return 0 }
func (r EndOfRecords) ExternalSize() int   { return EndOfRecordsSize }
func (r EndOfRecords) writePayload([]byte) {}

// EncodeRecord serializes r with framing and checksum.
func EncodeRecord(r Record) []byte {
	plen := r.payloadLen()
	buf := make([]byte, headerSize+plen+checksumSize)
	buf[0] = r.Tag()
	util.Uint16toBytes(buf[1:3], uint16(plen))
	r.writePayload(buf[3 : 3+plen])
	sum := adler32.Checksum(buf[:3+plen])
	util.Uint32toBytes(buf[3+plen:], sum)
	return buf
}

// DecodeHeader validates the 3-byte framing header and returns the tag and
// payload length. An unknown tag means a torn or foreign record.
func DecodeHeader(h []byte) (tag byte, payloadLen int, err error) {
	tag = h[0]
	payloadLen = int(util.BytesToUint16(h[1:3]))
	switch tag {
	case TagPut:
		if payloadLen != lump.IdSize+portionSize {
			return 0, 0, fmt.Errorf("put record with payload length %d: %w", payloadLen, lumpstore.ErrStorageCorrupted)
		}
	case TagEmbed:
		if payloadLen < lump.IdSize {
			return 0, 0, fmt.Errorf("embed record with payload length %d: %w", payloadLen, lumpstore.ErrStorageCorrupted)
		}
	case TagDelete:
		if payloadLen != lump.IdSize {
			return 0, 0, fmt.Errorf("delete record with payload length %d: %w", payloadLen, lumpstore.ErrStorageCorrupted)
		}
	case TagDeleteRange:
		if payloadLen != lump.IdSize*2 {
			return 0, 0, fmt.Errorf("delete-range record with payload length %d: %w", payloadLen, lumpstore.ErrStorageCorrupted)
		}
	case TagGoToFront, TagEndOfRecords:
		if payloadLen != 0 {
			return 0, 0, fmt.Errorf("sentinel record with payload length %d: %w", payloadLen, lumpstore.ErrStorageCorrupted)
		}
	default:
		return 0, 0, fmt.Errorf("unknown journal record tag %d: %w", tag, lumpstore.ErrStorageCorrupted)
	}
	return tag, payloadLen, nil
}

// DecodeBody checks the trailing checksum and materializes the record.
// header is the 3 framing bytes; body holds payload plus checksum.
func DecodeBody(header []byte, body []byte) (Record, error) {
	plen := len(body) - checksumSize
	payload := body[:plen]

	sum := adler32.New()
	_, _ = sum.Write(header)
	_, _ = sum.Write(payload)
	if got, want := sum.Sum32(), util.BytesToUint32(body[plen:]); got != want {
		return nil, fmt.Errorf("journal record checksum mismatch (got %08x, want %08x): %w",
			got, want, lumpstore.ErrStorageCorrupted)
	}

	switch header[0] {
	case TagPut:
		start, err := portion.NewAddress(util.BytesToUint40(payload[16:21]))
		if err != nil {
			return nil, fmt.Errorf("put record address: %w", lumpstore.ErrStorageCorrupted)
		}
		return PutRecord{
			LumpID: lump.LumpIdFromBytes(payload[0:16]),
			DataPortion: portion.DataPortion{
				Start: start,
				Len:   util.BytesToUint16(payload[21:23]),
			},
		}, nil
	case TagEmbed:
		data := make([]byte, plen-lump.IdSize)
		copy(data, payload[16:])
		return EmbedRecord{LumpID: lump.LumpIdFromBytes(payload[0:16]), Data: data}, nil
	case TagDelete:
		return DeleteRecord{LumpID: lump.LumpIdFromBytes(payload[0:16])}, nil
	case TagDeleteRange:
		return DeleteRangeRecord{
			Low:  lump.LumpIdFromBytes(payload[0:16]),
			High: lump.LumpIdFromBytes(payload[16:32]),
		}, nil
	case TagGoToFront:
		return GoToFrontRecord{}, nil
	case TagEndOfRecords:
		return EndOfRecords{}, nil
	}
	return nil, fmt.Errorf("unknown journal record tag %d: %w", header[0], lumpstore.ErrStorageCorrupted)
}
