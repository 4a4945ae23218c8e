// Package allocator hands out extents of the data region.
//
// Free space is kept in power-of-two size classes, each class ordered by
// start address. An allocation scans classes upward from the first class
// able to satisfy the request and takes the lowest-addressed fitting
// extent, so allocation order is reproducible; the remainder goes back to
// the free lists. Freed extents coalesce with both neighbours.
//
// The allocator is a purely in-memory structure: its state is implied by
// the journal and rebuilt at open time by occupying every extent the
// replayed index references.
package allocator

import (
	"fmt"
	"math/bits"

	"github.com/google/btree"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/storage/portion"
)

const numClasses = 64

type freePortion struct {
	start portion.Address
	len   uint64 // blocks
}

func (f freePortion) end() uint64 {
	return f.start.AsU64() + f.len
}

func startLess(a, b freePortion) bool {
	return a.start < b.start
}

func endLess(a, b freePortion) bool {
	return a.end() < b.end()
}

// DataPortionAllocator tracks the free extents of one data region.
type DataPortionAllocator struct {
	classes   [numClasses]*btree.BTreeG[freePortion]
	endIndex  *btree.BTreeG[freePortion]
	capacity  uint64 // blocks
	freeCount int
	freeBytes uint64 // blocks, despite the name fed to metrics in bytes
	blockSize block.Size
	m         *metrics.AllocatorMetrics
}

// Build returns an allocator covering capacityBlocks of wholly free space.
// Known-live extents are then reserved with Occupy.
func Build(m *metrics.AllocatorMetrics, capacityBlocks uint64, blockSize block.Size) *DataPortionAllocator {
	a := &DataPortionAllocator{
		endIndex:  btree.NewG(32, endLess),
		capacity:  capacityBlocks,
		blockSize: blockSize,
		m:         m,
	}
	for i := range a.classes {
		a.classes[i] = btree.NewG(32, startLess)
	}
	if capacityBlocks > 0 {
		a.insertFree(freePortion{start: 0, len: capacityBlocks})
	}
	m.CapacityBytes.Set(int64(capacityBlocks) * int64(blockSize.AsU32()))
	a.publish()
	return a
}

// Allocate reserves sizeBlocks contiguous blocks. It fails with ErrNoSpace
// when no single free extent is large enough; a lump is never fragmented
// across extents.
func (a *DataPortionAllocator) Allocate(sizeBlocks uint16) (portion.DataPortion, error) {
	if sizeBlocks == 0 {
		return portion.DataPortion{}, fmt.Errorf("zero-length allocation: %w", lumpstore.ErrInvalidInput)
	}
	want := uint64(sizeBlocks)
	for k := classOf(want); k < numClasses; k++ {
		var found freePortion
		ok := false
		a.classes[k].Ascend(func(f freePortion) bool {
			if f.len >= want {
				found, ok = f, true
				return false
			}
			return true
		})
		if !ok {
			continue
		}
		a.deleteFree(found)
		allocated := portion.DataPortion{Start: found.start, Len: sizeBlocks}
		if rest := found.len - want; rest > 0 {
			a.insertFree(freePortion{start: found.start + portion.Address(want), len: rest})
		}
		a.m.AllocatedPortions.Inc()
		a.publish()
		return allocated, nil
	}
	a.m.NoSpaceFailures.Inc()
	return portion.DataPortion{}, fmt.Errorf("no free extent of %d blocks: %w", sizeBlocks, lumpstore.ErrNoSpace)
}

// Release returns an extent to the free lists, coalescing with adjacent
// free extents.
func (a *DataPortionAllocator) Release(p portion.DataPortion) {
	if !a.IsAllocated(p) {
		panic(fmt.Sprintf("release of unallocated portion: %s", p))
	}
	f := freePortion{start: p.Start, len: uint64(p.Len)}

	// merge with the free neighbour ending exactly at f.start
	if prev, ok := a.endIndex.Get(freePortion{start: p.Start, len: 0}); ok {
		a.deleteFree(prev)
		f = freePortion{start: prev.start, len: prev.len + f.len}
	}
	// merge with the free neighbour starting exactly at f.end()
	probe := freePortion{start: portion.Address(f.end() + 1), len: 0}
	if next, ok := a.firstEndAtLeast(probe); ok && next.start.AsU64() == f.end() {
		a.deleteFree(next)
		f = freePortion{start: f.start, len: f.len + next.len}
	}
	a.insertFree(f)
	a.m.ReleasedPortions.Inc()
	a.publish()
}

// Occupy carves a known-live extent out of the free space; replay uses it
// to reconstruct the allocation state implied by the index. Occupying
// space that is not free means two live extents overlap on disk.
func (a *DataPortionAllocator) Occupy(p portion.DataPortion) error {
	probe := freePortion{start: portion.Address(p.End().AsU64()), len: 0}
	f, ok := a.firstEndAtLeast(probe)
	if !ok || f.start > p.Start {
		return fmt.Errorf("overlapping live extents at %s: %w", p, lumpstore.ErrStorageCorrupted)
	}
	a.deleteFree(f)
	if left := p.Start.AsU64() - f.start.AsU64(); left > 0 {
		a.insertFree(freePortion{start: f.start, len: left})
	}
	if right := f.end() - p.End().AsU64(); right > 0 {
		a.insertFree(freePortion{start: p.End(), len: right})
	}
	a.m.AllocatedPortions.Inc()
	a.publish()
	return nil
}

// IsAllocated reports whether p is wholly outside the free lists.
func (a *DataPortionAllocator) IsAllocated(p portion.DataPortion) bool {
	probe := freePortion{start: p.Start + 1, len: 0}
	if f, ok := a.firstEndAtLeast(probe); ok {
		return f.start.AsU64() >= p.End().AsU64()
	}
	return true
}

// FreeListLen returns the number of free extents.
func (a *DataPortionAllocator) FreeListLen() int {
	return a.freeCount
}

// FreeBytes returns the total free space in bytes.
func (a *DataPortionAllocator) FreeBytes() uint64 {
	return a.freeBytes * uint64(a.blockSize.AsU32())
}

// CapacityBytes returns the data region capacity in bytes.
func (a *DataPortionAllocator) CapacityBytes() uint64 {
	return a.capacity * uint64(a.blockSize.AsU32())
}

func (a *DataPortionAllocator) insertFree(f freePortion) {
	if f.len == 0 {
		panic("zero-length free portion")
	}
	a.classes[classOf(f.len)].ReplaceOrInsert(f)
	a.endIndex.ReplaceOrInsert(f)
	a.freeCount++
	a.freeBytes += f.len
}

func (a *DataPortionAllocator) deleteFree(f freePortion) {
	a.classes[classOf(f.len)].Delete(f)
	a.endIndex.Delete(f)
	a.freeCount--
	a.freeBytes -= f.len
}

// firstEndAtLeast returns the free portion with the smallest end >= the
// probe's end.
func (a *DataPortionAllocator) firstEndAtLeast(probe freePortion) (freePortion, bool) {
	var found freePortion
	ok := false
	a.endIndex.AscendGreaterOrEqual(probe, func(f freePortion) bool {
		found, ok = f, true
		return false
	})
	return found, ok
}

func (a *DataPortionAllocator) publish() {
	a.m.FreeListLen.Set(int64(a.freeCount))
	a.m.UsageBytes.Set(int64((a.capacity - a.freeBytes) * uint64(a.blockSize.AsU32())))
}

// classOf buckets a block count: class k holds lengths in [2^k, 2^(k+1)).
func classOf(n uint64) int {
	return bits.Len64(n) - 1
}
