package journal

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/index"
	"github.com/nilebit/lumpstore/storage/portion"
)

// Options tune the journal region. Zero values select the defaults noted
// on each field.
type Options struct {
	// BlockSize is the storage block size governing the region layout
	// (the header block length). Zero falls back to the NVM block size.
	BlockSize block.Size

	// GCQueueSize is how many entries one GC refill pulls off the head
	// (default 4096).
	GCQueueSize int

	// SyncInterval syncs the ring every n-th appended record (default 1,
	// i.e. every record is durable before its operation returns).
	SyncInterval int

	// GCTriggerRatio starts inline GC when usage/capacity exceeds it
	// (default 0.5).
	GCTriggerRatio float64

	// GCStepsPerOp bounds the reclamation work piggybacked onto one
	// mutating operation (default 8).
	GCStepsPerOp int
}

func (o *Options) SetDefaults() {
	if o.GCQueueSize <= 0 {
		o.GCQueueSize = 4096
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 1
	}
	if o.GCTriggerRatio <= 0 || o.GCTriggerRatio > 1 {
		o.GCTriggerRatio = 0.5
	}
	if o.GCStepsPerOp <= 0 {
		o.GCStepsPerOp = 8
	}
}

// Region is the journal: a persisted head pointer plus the record ring.
// All mutations of the lump index funnel through it; replaying it yields
// the index back.
type Region struct {
	header *headerRegion
	ring   *RingBuffer
	opts   Options
	m      *metrics.JournalMetrics

	gcQueue   []Entry
	gcCursor  int
	countdown int
	autoGC    bool

	// extents freed by superseding or deleting records; handed to
	// releaseFn only once the covering records are durable
	pending   []portion.DataPortion
	releaseFn func(portion.DataPortion)
}

// InitializeRegion formats a journal region: header block pointing at
// offset zero and an empty ring.
func InitializeRegion(n nvm.NonVolatileMemory, blockSize block.Size) error {
	headerNVM, ringNVM, err := n.Split(uint64(blockSize.AsU32()))
	if err != nil {
		return err
	}
	if err := newHeaderRegion(headerNVM).WriteHeader(0); err != nil {
		return err
	}
	ring := NewRingBuffer(ringNVM, 0, metrics.NewJournalMetrics(&metrics.Builder{}))
	return ring.WriteEndOfRecords()
}

// OpenRegion opens the journal region and replays it into idx. releaseFn
// receives data extents whose delete/supersede records became durable.
func OpenRegion(n nvm.NonVolatileMemory, idx *index.LumpIndex, opts Options,
	m *metrics.JournalMetrics, releaseFn func(portion.DataPortion)) (*Region, error) {
	opts.SetDefaults()
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = n.BlockSize()
	}
	headerNVM, ringNVM, err := n.Split(uint64(blockSize.AsU32()))
	if err != nil {
		return nil, err
	}
	header := newHeaderRegion(headerNVM)
	head, err := header.ReadHeader()
	if err != nil {
		return nil, err
	}
	if head >= ringNVM.Capacity() {
		return nil, fmt.Errorf("journal head %d beyond ring capacity %d: %w",
			head, ringNVM.Capacity(), lumpstore.ErrStorageCorrupted)
	}
	ring := NewRingBuffer(ringNVM, head, m)

	r := &Region{
		header:    header,
		ring:      ring,
		opts:      opts,
		m:         m,
		countdown: opts.SyncInterval,
		autoGC:    true,
		releaseFn: releaseFn,
	}
	if err := r.restore(idx); err != nil {
		return nil, err
	}
	if err := ring.PrimeWriteBuffer(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("journal opened: head=%d tail=%d capacity=%d entries=%d",
		ring.Head(), ring.Tail(), ring.Capacity(), idx.Len())
	return r, nil
}

// RecordsPut journals a data-region binding. superseded carries the extent
// the binding replaced, if any.
func (r *Region) RecordsPut(idx *index.LumpIndex, id lump.LumpId, p portion.DataPortion, superseded []portion.DataPortion) error {
	return r.appendWithGC(idx, PutRecord{LumpID: id, DataPortion: p}, superseded)
}

// RecordsEmbed journals an embedded value.
func (r *Region) RecordsEmbed(idx *index.LumpIndex, id lump.LumpId, data []byte, superseded []portion.DataPortion) error {
	return r.appendWithGC(idx, EmbedRecord{LumpID: id, Data: data}, superseded)
}

// RecordsDelete journals a delete. freed is the extent the evicted binding
// referenced (nil for embedded bindings).
func (r *Region) RecordsDelete(idx *index.LumpIndex, id lump.LumpId, freed []portion.DataPortion) error {
	return r.appendWithGC(idx, DeleteRecord{LumpID: id}, freed)
}

// RecordsDeleteRange journals a range delete as a single aggregate record.
func (r *Region) RecordsDeleteRange(idx *index.LumpIndex, low, high lump.LumpId, freed []portion.DataPortion) error {
	return r.appendWithGC(idx, DeleteRangeRecord{Low: low, High: high}, freed)
}

// Sync forces ring durability and releases the extents whose records it
// just covered.
func (r *Region) Sync() error {
	if err := r.ring.Sync(); err != nil {
		return err
	}
	r.countdown = r.opts.SyncInterval
	r.m.Syncs.Inc()
	r.flushPendingReleases()
	return nil
}

// RunSideJobOnce performs one unit of background-equivalent work while the
// device is idle: refill the GC queue, catch up on a deferred sync, or
// relocate a batch of records.
func (r *Region) RunSideJobOnce(idx *index.LumpIndex) error {
	switch {
	case len(r.gcQueue) == r.gcCursor:
		return r.fillGCQueue()
	case r.countdown != r.opts.SyncInterval:
		return r.Sync()
	default:
		for i := 0; i < r.opts.GCStepsPerOp; i++ {
			if err := r.gcOnce(idx); err != nil {
				return err
			}
		}
		return r.trySync()
	}
}

// GCAllEntries relocates every live record ahead of the current tail and
// persists the advanced head.
func (r *Region) GCAllEntries(idx *index.LumpIndex) error {
	tailAtStart := r.ring.Tail()
	for {
		before := r.ring.Head()
		if len(r.gcQueue) == r.gcCursor {
			if err := r.fillGCQueue(); err != nil {
				return err
			}
		}
		for len(r.gcQueue) != r.gcCursor {
			if err := r.gcOnce(idx); err != nil {
				return err
			}
		}
		if between(before, tailAtStart, r.ring.Head()) {
			break
		}
	}
	return r.persistHead(r.ring.Head())
}

// Usage returns the occupied ring bytes.
func (r *Region) Usage() uint64 {
	return r.ring.Usage()
}

// Capacity returns the ring capacity in bytes.
func (r *Region) Capacity() uint64 {
	return r.ring.Capacity()
}

// Snapshot exposes the cursors and the decoded entries between head and
// tail.
type Snapshot struct {
	UnreleasedHead uint64
	Head           uint64
	Tail           uint64
	Entries        []Entry
}

func (r *Region) Snapshot() (*Snapshot, error) {
	entries, err := r.ring.EntriesFrom(r.ring.Head())
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		UnreleasedHead: r.ring.UnreleasedHead(),
		Head:           r.ring.Head(),
		Tail:           r.ring.Tail(),
		Entries:        entries,
	}, nil
}

// SetAutomaticGCMode toggles inline GC; tests use it to measure exact disk
// access counts.
func (r *Region) SetAutomaticGCMode(enable bool) {
	r.autoGC = enable
}

func (r *Region) appendWithGC(idx *index.LumpIndex, rec Record, freed []portion.DataPortion) error {
	if r.autoGC && r.overTrigger() {
		for i := 0; i < r.opts.GCStepsPerOp; i++ {
			if err := r.gcOnce(idx); err != nil {
				return err
			}
		}
	}
	if err := r.ring.Enqueue(rec); err != nil {
		return err
	}
	r.pending = append(r.pending, freed...)
	return r.trySync()
}

func (r *Region) overTrigger() bool {
	return float64(r.ring.Usage()) > r.opts.GCTriggerRatio*float64(r.ring.Capacity())
}

// gcOnce examines queued entries until it relocates one live record (or
// exhausts the queue). Superseded records are simply dropped.
func (r *Region) gcOnce(idx *index.LumpIndex) error {
	if len(r.gcQueue) == r.gcCursor && r.overTrigger() {
		if err := r.fillGCQueue(); err != nil {
			return err
		}
	}
	for r.gcCursor < len(r.gcQueue) {
		entry := r.gcQueue[r.gcCursor]
		r.gcCursor++
		r.m.GCDequeuedRecords.Inc()
		if !r.isGarbage(idx, entry) {
			r.m.GCRelocatedRecords.Inc()
			return r.ring.Enqueue(entry.Record)
		}
	}
	return nil
}

// fillGCQueue persists the head (everything before it has been relocated),
// then pulls the next batch of entries off the ring.
func (r *Region) fillGCQueue() error {
	if r.gcCursor != len(r.gcQueue) {
		panic("journal: refilling a non-empty gc queue")
	}
	if r.ring.IsEmpty() && r.ring.Head() == r.ring.UnreleasedHead() {
		// nothing queued and nothing to release: skip the header write
		return nil
	}
	if err := r.persistHead(r.ring.Head()); err != nil {
		return err
	}
	r.gcQueue = r.gcQueue[:0]
	r.gcCursor = 0
	if r.ring.IsEmpty() {
		return nil
	}
	entries, err := r.ring.DequeueEntries(r.opts.GCQueueSize)
	if err != nil {
		return err
	}
	r.gcQueue = entries
	return nil
}

// persistHead syncs the ring, writes the journal header and releases the
// span before head. Relocated copies must be durable before the header
// stops pointing at their originals.
func (r *Region) persistHead(head uint64) error {
	if err := r.ring.Sync(); err != nil {
		return err
	}
	if err := r.header.WriteHeader(head); err != nil {
		return err
	}
	r.ring.ReleaseBytesUntil(head)
	r.flushPendingReleases()
	return nil
}

func (r *Region) trySync() error {
	r.countdown--
	if r.countdown <= 0 {
		return r.Sync()
	}
	return nil
}

func (r *Region) flushPendingReleases() {
	if r.releaseFn != nil {
		for _, p := range r.pending {
			r.releaseFn(p)
		}
	}
	r.pending = r.pending[:0]
}

func (r *Region) isGarbage(idx *index.LumpIndex, e Entry) bool {
	switch rec := e.Record.(type) {
	case PutRecord:
		b, ok := idx.Get(rec.LumpID)
		return !ok || b.IsEmbedded() || b.DataPortion() != rec.DataPortion
	case EmbedRecord:
		b, ok := idx.Get(rec.LumpID)
		return !ok || !b.IsEmbedded() || !bytes.Equal(b.EmbeddedData(), rec.Data)
	default:
		return true
	}
}

// restore replays the ring into idx and truncates a torn tail.
func (r *Region) restore(idx *index.LumpIndex) error {
	torn, err := r.ring.RestoreEntries(func(e Entry) error {
		switch rec := e.Record.(type) {
		case PutRecord:
			idx.Put(rec.LumpID, index.DataBinding(rec.DataPortion))
		case EmbedRecord:
			idx.Put(rec.LumpID, index.EmbeddedBinding(rec.Data))
		case DeleteRecord:
			idx.Delete(rec.LumpID)
		case DeleteRangeRecord:
			idx.DeleteRange(rec.Low, rec.High)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if torn {
		return r.ring.WriteEndOfRecords()
	}
	return nil
}

// between reports whether y lies on the cyclic path from x to z.
func between(x, y, z uint64) bool {
	return (x <= y && y <= z) || (z <= x && x <= y) || (y <= z && z <= x)
}
