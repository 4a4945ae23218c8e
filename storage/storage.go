package storage

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/allocator"
	"github.com/nilebit/lumpstore/storage/index"
	"github.com/nilebit/lumpstore/storage/journal"
	"github.com/nilebit/lumpstore/storage/portion"
)

// Storage is the engine coordinating the lump index, the allocator and the
// journal over one NVM. It is strictly single-threaded: exactly one
// executor may call its methods at a time (the device package enforces
// this).
type Storage struct {
	header     *StorageHeader
	journal    *journal.Region
	dataRegion *DataRegion
	index      *index.LumpIndex
	nvm        nvm.NonVolatileMemory
	opts       Options
	m          *metrics.StorageMetrics
	closed     bool
}

// CreateStorage formats the NVM (header block, empty journal, free data
// region) and opens the result.
func CreateStorage(n nvm.NonVolatileMemory, opts Options) (*Storage, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	bs, err := opts.blockSize()
	if err != nil {
		return nil, err
	}
	if !bs.Contains(n.BlockSize()) {
		return nil, fmt.Errorf("storage block size %d does not contain device block size %d: %w",
			bs.AsU32(), n.BlockSize().AsU32(), lumpstore.ErrInvalidInput)
	}
	capacityBlocks := n.Capacity() / uint64(bs.AsU32())
	if capacityBlocks < 1+opts.JournalCapacityBlocks+1 {
		return nil, fmt.Errorf("capacity %d too small for a %d-block journal: %w",
			n.Capacity(), opts.JournalCapacityBlocks, lumpstore.ErrInvalidInput)
	}
	header := &StorageHeader{
		MajorVersion:  MajorVersion,
		MinorVersion:  MinorVersion,
		BlockSize:     bs,
		JournalBlocks: opts.JournalCapacityBlocks,
		DataBlocks:    capacityBlocks - 1 - opts.JournalCapacityBlocks,
		InstanceUUID:  opts.InstanceUUID,
	}
	if header.DataBlocks > portion.MaxAddress {
		return nil, fmt.Errorf("data region of %d blocks exceeds the address space: %w",
			header.DataBlocks, lumpstore.ErrInvalidInput)
	}

	if err := n.WriteAt(header.EncodeBlock().AsBytes(), 0); err != nil {
		return nil, err
	}
	journalNVM, _, err := header.splitRegions(n)
	if err != nil {
		return nil, err
	}
	if err := journal.InitializeRegion(journalNVM, bs); err != nil {
		return nil, err
	}
	if err := n.Sync(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("created storage %s: block_size=%d journal_blocks=%d data_blocks=%d",
		header.InstanceUUID, bs.AsU32(), header.JournalBlocks, header.DataBlocks)
	return assemble(n, header, opts)
}

// OpenStorage validates the header, replays the journal into a fresh index
// and rebuilds the allocator from the live extents.
func OpenStorage(n nvm.NonVolatileMemory, opts Options) (*Storage, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	header, err := readHeader(n)
	if err != nil {
		return nil, err
	}
	opts.BlockSize = header.BlockSize.AsU32()
	maxEmbed := int(opts.BlockSize) - embedRecordOverhead
	if opts.EmbedThreshold > maxEmbed {
		opts.EmbedThreshold = maxEmbed
	}
	return assemble(n, header, opts)
}

func assemble(n nvm.NonVolatileMemory, header *StorageHeader, opts Options) (*Storage, error) {
	bs := header.BlockSize
	journalNVM, dataNVM, err := header.splitRegions(n)
	if err != nil {
		return nil, err
	}

	idx := index.NewLumpIndex()
	var dataRegion *DataRegion
	releaseFn := func(p portion.DataPortion) {
		dataRegion.Release(p)
	}
	journalRegion, err := journal.OpenRegion(journalNVM, idx, opts.journalOptions(bs),
		metrics.NewJournalMetrics(opts.Metrics), releaseFn)
	if err != nil {
		return nil, err
	}

	alloc := allocator.Build(metrics.NewAllocatorMetrics(opts.Metrics), header.DataBlocks, bs)
	for _, p := range idx.DataPortions() {
		if p.End().AsU64() > header.DataBlocks {
			return nil, fmt.Errorf("live extent %s beyond the data region: %w", p, lumpstore.ErrStorageCorrupted)
		}
		if err := alloc.Occupy(p); err != nil {
			return nil, err
		}
	}
	dataRegion = NewDataRegion(alloc, dataNVM, bs)

	return &Storage{
		header:     header,
		journal:    journalRegion,
		dataRegion: dataRegion,
		index:      idx,
		nvm:        n,
		opts:       opts,
		m:          metrics.NewStorageMetrics(opts.Metrics),
	}, nil
}

// Header returns the storage header.
func (s *Storage) Header() *StorageHeader {
	return s.header
}

// Metrics returns the engine operation counters.
func (s *Storage) Metrics() *metrics.StorageMetrics {
	return s.m
}

// Put inserts or replaces the lump. It reports whether a new binding was
// created (false on overwrite). A failed Put leaves the engine unchanged.
//
// Values at or below the embed threshold cost one journal write; larger
// values cost one data-region write plus one journal write, in that order,
// so an interrupted Put is invisible after replay.
func (s *Storage) Put(id lump.LumpId, data *lump.Data) (bool, error) {
	old, hadOld := s.index.Get(id)
	var superseded []portion.DataPortion
	if hadOld && !old.IsEmbedded() {
		superseded = append(superseded, old.DataPortion())
	}

	if s.shouldEmbed(data) {
		value := make([]byte, data.Len())
		copy(value, data.AsBytes())
		if err := s.journal.RecordsEmbed(s.index, id, value, superseded); err != nil {
			return false, s.countNoSpace(err)
		}
		s.index.Put(id, index.EmbeddedBinding(value))
		s.m.EmbeddedPuts.Inc()
	} else {
		p, err := s.dataRegion.Put(data)
		if err != nil {
			return false, s.countNoSpace(err)
		}
		if err := s.journal.RecordsPut(s.index, id, p, superseded); err != nil {
			// the extent was never referenced by any journal record
			s.dataRegion.Release(p)
			return false, s.countNoSpace(err)
		}
		s.index.Put(id, index.DataBinding(p))
		s.m.DataRegionPuts.Inc()
	}
	s.m.Puts.Inc()
	return !hadOld, nil
}

// Get returns the current value of the lump, or nil if it does not exist.
// Embedded lumps are served from memory without disk access.
func (s *Storage) Get(id lump.LumpId) (*lump.Data, error) {
	b, ok := s.index.Get(id)
	if !ok {
		return nil, nil
	}
	s.m.Gets.Inc()
	if b.IsEmbedded() {
		value := make([]byte, len(b.EmbeddedData()))
		copy(value, b.EmbeddedData())
		data, err := lump.NewData(value)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return s.dataRegion.Get(b.DataPortion())
}

// Head returns the lump's summary without disk access, or nil if absent.
func (s *Storage) Head(id lump.LumpId) *lump.Header {
	b, ok := s.index.Get(id)
	if !ok {
		return nil
	}
	return &lump.Header{ApproximateDataSize: b.ApproximateSize(s.header.BlockSize)}
}

// Delete removes the lump and reports whether a binding existed. The freed
// extent is reused only after the delete record is durable.
func (s *Storage) Delete(id lump.LumpId) (bool, error) {
	b, ok := s.index.Get(id)
	if !ok {
		return false, nil
	}
	var freed []portion.DataPortion
	if !b.IsEmbedded() {
		freed = append(freed, b.DataPortion())
	}
	if err := s.journal.RecordsDelete(s.index, id, freed); err != nil {
		return false, s.countNoSpace(err)
	}
	s.index.Delete(id)
	s.m.Deletes.Inc()
	return true, nil
}

// DeleteRange removes every lump with low <= id <= high and returns how
// many bindings were dropped. One journal record covers the whole range.
func (s *Storage) DeleteRange(low, high lump.LumpId) (int, error) {
	ids := s.index.ListRange(low, high)
	var freed []portion.DataPortion
	for _, id := range ids {
		if b, ok := s.index.Get(id); ok && !b.IsEmbedded() {
			freed = append(freed, b.DataPortion())
		}
	}
	if err := s.journal.RecordsDeleteRange(s.index, low, high, freed); err != nil {
		return 0, s.countNoSpace(err)
	}
	s.index.DeleteRange(low, high)
	s.m.DeleteRanges.Inc()
	return len(ids), nil
}

// List returns every stored lump id in ascending order.
func (s *Storage) List() []lump.LumpId {
	return s.index.List()
}

// ListRange returns the ids with low <= id <= high in ascending order.
func (s *Storage) ListRange(low, high lump.LumpId) []lump.LumpId {
	return s.index.ListRange(low, high)
}

// UsageRange approximates the bytes occupied by the lumps in the range.
func (s *Storage) UsageRange(low, high lump.LumpId) uint64 {
	return s.index.UsageRange(low, high, s.header.BlockSize)
}

// JournalSync forces any deferred journal durability. With the default
// per-record sync policy no record is pending, so it only repeats the
// device sync.
func (s *Storage) JournalSync() error {
	return s.journal.Sync()
}

// JournalGC relocates every live journal record and persists the advanced
// head. Normal operation never needs it; inline GC keeps up on its own.
func (s *Storage) JournalGC() error {
	return s.journal.GCAllEntries(s.index)
}

// JournalSnapshot exposes the journal cursors and entries for inspection.
func (s *Storage) JournalSnapshot() (*journal.Snapshot, error) {
	return s.journal.Snapshot()
}

// RunSideJobOnce performs one unit of maintenance; the device calls it
// while its queue is empty.
func (s *Storage) RunSideJobOnce() error {
	return s.journal.RunSideJobOnce(s.index)
}

// AllocateLumpData returns a value buffer pre-aligned for this storage, so
// a later Put avoids an alignment copy.
func (s *Storage) AllocateLumpData(size int) (*lump.Data, error) {
	return lump.AllocateAligned(size, s.header.BlockSize)
}

// Close syncs the journal and releases the NVM.
func (s *Storage) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.journal.Sync(); err != nil {
		_ = s.nvm.Close()
		return err
	}
	return s.nvm.Close()
}

// Index and DataAllocator are read-only hooks for invariant checks in
// tests and tooling.
func (s *Storage) Index() *index.LumpIndex {
	return s.index
}

func (s *Storage) DataAllocator() *allocator.DataPortionAllocator {
	return s.dataRegion.Allocator()
}

// SetAutomaticGCMode toggles inline journal GC (tests only).
func (s *Storage) SetAutomaticGCMode(enable bool) {
	s.journal.SetAutomaticGCMode(enable)
}

func (s *Storage) shouldEmbed(data *lump.Data) bool {
	return data.Len() <= s.opts.EmbedThreshold
}

func (s *Storage) countNoSpace(err error) error {
	if errors.Is(err, lumpstore.ErrNoSpace) {
		s.m.NoSpaceFailures.Inc()
	}
	return err
}
