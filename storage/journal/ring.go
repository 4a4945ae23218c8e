package journal

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/util"
)

// record bodies are decoded on every replay, GC inspection and snapshot;
// DecodeBody copies what it keeps, so the scratch buffers recycle.
var recordBodyPool = util.NewBytesPool()

// Entry is a record together with its byte position in the ring.
type Entry struct {
	Start  uint64
	Record Record
}

func (e Entry) End() uint64 {
	return e.Start + uint64(e.Record.ExternalSize())
}

// RingBuffer is the journal ring. Three cursors wrap around it:
//
//	unreleasedHead <= head <= tail (mod capacity)
//
// Records between head and tail await GC inspection; records between
// unreleasedHead and head have been inspected but their space may not be
// overwritten until the journal header advances past them.
type RingBuffer struct {
	buf            *rmwBuffer
	capacity       uint64
	unreleasedHead uint64
	head           uint64
	tail           uint64
	m              *metrics.JournalMetrics
}

func NewRingBuffer(n nvm.NonVolatileMemory, head uint64, m *metrics.JournalMetrics) *RingBuffer {
	m.CapacityBytes.Set(int64(n.Capacity()))
	return &RingBuffer{
		buf:            newRMWBuffer(n),
		capacity:       n.Capacity(),
		unreleasedHead: head,
		head:           head,
		tail:           head,
		m:              m,
	}
}

func (r *RingBuffer) Head() uint64 {
	return r.head
}

func (r *RingBuffer) Tail() uint64 {
	return r.tail
}

func (r *RingBuffer) UnreleasedHead() uint64 {
	return r.unreleasedHead
}

func (r *RingBuffer) Capacity() uint64 {
	return r.capacity
}

func (r *RingBuffer) IsEmpty() bool {
	return r.head == r.tail
}

// Usage is the byte distance from unreleasedHead to tail.
func (r *RingBuffer) Usage() uint64 {
	if r.unreleasedHead <= r.tail {
		return r.tail - r.unreleasedHead
	}
	return r.tail + r.capacity - r.unreleasedHead
}

// Enqueue appends a record followed by the EndOfRecords sentinel. The
// record is buffered; durability needs a Sync.
func (r *RingBuffer) Enqueue(rec Record) error {
	for {
		if err := r.checkFreeSpace(rec); err != nil {
			return err
		}
		if !r.willOverflow(rec) {
			break
		}
		// wrap: leave a GoToFront marker and restart at offset zero
		if err := r.buf.Write(r.tail, EncodeRecord(GoToFrontRecord{})); err != nil {
			return err
		}
		glog.V(3).Infof("journal wrapped at tail=%d", r.tail)
		r.tail = 0
	}

	encoded := EncodeRecord(rec)
	encoded = append(encoded, EncodeRecord(EndOfRecords{})...)
	if err := r.buf.Write(r.tail, encoded); err != nil {
		return err
	}
	r.tail += uint64(rec.ExternalSize())
	r.m.AppendedRecords.Inc()
	r.m.UsageBytes.Set(int64(r.Usage()))
	return nil
}

// Sync makes every appended record durable.
func (r *RingBuffer) Sync() error {
	return r.buf.Sync()
}

// ReleaseBytesUntil advances unreleasedHead to point, permitting the tail
// to overwrite the released span.
func (r *RingBuffer) ReleaseBytesUntil(point uint64) {
	r.unreleasedHead = point
	r.m.UsageBytes.Set(int64(r.Usage()))
}

// RestoreEntries replays the ring from head, invoking fn for each record
// until EndOfRecords. A structurally broken or checksum-failing record is
// the logical tail: the scan stops there, the ring is truncated and torn
// reports true.
func (r *RingBuffer) RestoreEntries(fn func(Entry) error) (torn bool, err error) {
	cur := r.head
	secondLap := false
	for {
		rec, decodeErr := r.readRecordAt(cur)
		if decodeErr != nil {
			if errors.Is(decodeErr, lumpstore.ErrStorageCorrupted) {
				glog.V(1).Infof("journal truncated at %d: %v", cur, decodeErr)
				r.tail = cur
				return true, nil
			}
			return false, decodeErr
		}
		switch rec.(type) {
		case EndOfRecords:
			r.tail = cur
			return false, nil
		case GoToFrontRecord:
			if secondLap {
				glog.V(1).Infof("journal truncated at %d: repeated wrap marker", cur)
				r.tail = cur
				return true, nil
			}
			secondLap = true
			cur = 0
		default:
			entry := Entry{Start: cur, Record: rec}
			cur = entry.End()
			if cur > r.capacity {
				r.tail = entry.Start
				return true, nil
			}
			if err := fn(entry); err != nil {
				return false, err
			}
			r.tail = cur
		}
	}
}

// DequeueEntries reads up to max entries starting at head and advances
// head past them. Inside the ring every record between head and tail was
// written by this process, so decoding failures are genuine corruption.
func (r *RingBuffer) DequeueEntries(max int) ([]Entry, error) {
	var entries []Entry
	cur := r.head
	for len(entries) < max {
		rec, err := r.readRecordAt(cur)
		if err != nil {
			return nil, err
		}
		stop := false
		switch rec.(type) {
		case EndOfRecords:
			stop = true
		case GoToFrontRecord:
			cur = 0
		default:
			e := Entry{Start: cur, Record: rec}
			entries = append(entries, e)
			cur = e.End()
		}
		if stop {
			break
		}
		r.head = cur
	}
	return entries, nil
}

// EntriesFrom decodes entries from pos without moving any cursor.
func (r *RingBuffer) EntriesFrom(pos uint64) ([]Entry, error) {
	var entries []Entry
	cur := pos
	wrapped := false
	for {
		rec, err := r.readRecordAt(cur)
		if err != nil {
			return nil, err
		}
		switch rec.(type) {
		case EndOfRecords:
			return entries, nil
		case GoToFrontRecord:
			if wrapped {
				return entries, nil
			}
			wrapped = true
			cur = 0
		default:
			e := Entry{Start: cur, Record: rec}
			entries = append(entries, e)
			cur = e.End()
		}
	}
}

// WriteEndOfRecords stamps the sentinel at tail; open uses it to normalize
// a torn ring.
func (r *RingBuffer) WriteEndOfRecords() error {
	if err := r.buf.Write(r.tail, EncodeRecord(EndOfRecords{})); err != nil {
		return err
	}
	return r.buf.Sync()
}

// PrimeWriteBuffer loads the tail block so the next append is a pure
// write, keeping the two-writes-per-put budget from the first operation.
func (r *RingBuffer) PrimeWriteBuffer() error {
	return r.buf.Prime(r.tail)
}

func (r *RingBuffer) readRecordAt(offset uint64) (Record, error) {
	if offset+headerSize > r.capacity {
		return nil, fmt.Errorf("journal record header at %d crosses the ring end: %w",
			offset, lumpstore.ErrStorageCorrupted)
	}
	var header [headerSize]byte
	if err := r.buf.Read(offset, header[:]); err != nil {
		return nil, err
	}
	_, payloadLen, err := DecodeHeader(header[:])
	if err != nil {
		return nil, err
	}
	if offset+uint64(headerSize+payloadLen+checksumSize) > r.capacity {
		return nil, fmt.Errorf("journal record at %d crosses the ring end: %w",
			offset, lumpstore.ErrStorageCorrupted)
	}
	body := recordBodyPool.Get(payloadLen + checksumSize)
	if err := r.buf.Read(offset+headerSize, body); err != nil {
		recordBodyPool.Put(body)
		return nil, err
	}
	rec, err := DecodeBody(header[:], body)
	recordBodyPool.Put(body)
	return rec, err
}

// willOverflow reports whether writing rec (plus the sentinel) would cross
// the physical end of the ring.
func (r *RingBuffer) willOverflow(rec Record) bool {
	return r.tail+uint64(rec.ExternalSize())+EndOfRecordsSize > r.capacity
}

// checkFreeSpace guards the tail against overrunning unreleasedHead. The
// write clobbers up to the next block boundary, so the aligned end is what
// must fit.
func (r *RingBuffer) checkFreeSpace(rec Record) error {
	writeEnd := r.tail + uint64(rec.ExternalSize()) + EndOfRecordsSize
	writeEnd = r.buf.blockSize.CeilAlign(writeEnd)

	var freeEnd uint64
	if r.tail < r.unreleasedHead {
		freeEnd = r.unreleasedHead
	} else {
		freeEnd = r.capacity + r.unreleasedHead
	}
	if writeEnd > freeEnd {
		return fmt.Errorf("journal full (unreleased_head=%d head=%d tail=%d record=%d): %w",
			r.unreleasedHead, r.head, r.tail, rec.ExternalSize(), lumpstore.ErrNoSpace)
	}
	return nil
}
