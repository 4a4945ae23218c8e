// Package index holds the in-memory mapping from lump ids to their
// bindings. The index is never persisted; it is rebuilt from the journal
// every time a storage is opened, and during operation it is the sole
// authority for resolving reads.
package index

import (
	"github.com/google/btree"

	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/storage/portion"
)

const treeDegree = 32

// Binding is what a lump id resolves to: either a small value embedded in
// memory (its durable copy lives inside a journal record) or an extent in
// the data region.
type Binding struct {
	embedded []byte
	portion  portion.DataPortion
}

func EmbeddedBinding(data []byte) Binding {
	if data == nil {
		data = []byte{}
	}
	return Binding{embedded: data}
}

func DataBinding(p portion.DataPortion) Binding {
	return Binding{portion: p}
}

func (b Binding) IsEmbedded() bool {
	return b.embedded != nil
}

// EmbeddedData returns the in-memory value of an embedded binding.
func (b Binding) EmbeddedData() []byte {
	return b.embedded
}

// DataPortion returns the extent of a data-region binding.
func (b Binding) DataPortion() portion.DataPortion {
	return b.portion
}

// ApproximateSize is the stored size: exact for embedded values, rounded up
// to whole blocks for data-region extents.
func (b Binding) ApproximateSize(blockSize block.Size) uint32 {
	if b.IsEmbedded() {
		return uint32(len(b.embedded))
	}
	return uint32(b.portion.Len) * blockSize.AsU32()
}

type entry struct {
	id      lump.LumpId
	binding Binding
}

func entryLess(a, b entry) bool {
	return a.id.Less(b.id)
}

// LumpIndex maps lump ids to bindings, ordered by id.
type LumpIndex struct {
	tree *btree.BTreeG[entry]
}

func NewLumpIndex() *LumpIndex {
	return &LumpIndex{tree: btree.NewG(treeDegree, entryLess)}
}

func (x *LumpIndex) Get(id lump.LumpId) (Binding, bool) {
	e, ok := x.tree.Get(entry{id: id})
	if !ok {
		return Binding{}, false
	}
	return e.binding, true
}

// Put inserts or replaces the binding for id and returns the previous one.
func (x *LumpIndex) Put(id lump.LumpId, b Binding) (Binding, bool) {
	old, had := x.tree.ReplaceOrInsert(entry{id: id, binding: b})
	return old.binding, had
}

// Delete removes the binding for id and returns it.
func (x *LumpIndex) Delete(id lump.LumpId) (Binding, bool) {
	old, had := x.tree.Delete(entry{id: id})
	return old.binding, had
}

// DeleteRange removes every binding with low <= id <= high (both bounds
// inclusive) and returns the removed entries in ascending id order.
func (x *LumpIndex) DeleteRange(low, high lump.LumpId) ([]lump.LumpId, []Binding) {
	var ids []lump.LumpId
	var bindings []Binding
	x.ascendRange(low, high, func(e entry) bool {
		ids = append(ids, e.id)
		bindings = append(bindings, e.binding)
		return true
	})
	for _, id := range ids {
		x.tree.Delete(entry{id: id})
	}
	return ids, bindings
}

// List returns every lump id in ascending order.
func (x *LumpIndex) List() []lump.LumpId {
	ids := make([]lump.LumpId, 0, x.tree.Len())
	x.tree.Ascend(func(e entry) bool {
		ids = append(ids, e.id)
		return true
	})
	return ids
}

// ListRange returns the ids with low <= id <= high in ascending order.
func (x *LumpIndex) ListRange(low, high lump.LumpId) []lump.LumpId {
	var ids []lump.LumpId
	x.ascendRange(low, high, func(e entry) bool {
		ids = append(ids, e.id)
		return true
	})
	return ids
}

// UsageRange sums the approximate stored bytes of the lumps with
// low <= id <= high.
func (x *LumpIndex) UsageRange(low, high lump.LumpId, blockSize block.Size) uint64 {
	var total uint64
	x.ascendRange(low, high, func(e entry) bool {
		total += uint64(e.binding.ApproximateSize(blockSize))
		return true
	})
	return total
}

// DataPortions returns the extents referenced by data-region bindings; the
// allocator is rebuilt from them at open time.
func (x *LumpIndex) DataPortions() []portion.DataPortion {
	var portions []portion.DataPortion
	x.tree.Ascend(func(e entry) bool {
		if !e.binding.IsEmbedded() {
			portions = append(portions, e.binding.DataPortion())
		}
		return true
	})
	return portions
}

func (x *LumpIndex) Len() int {
	return x.tree.Len()
}

func (x *LumpIndex) ascendRange(low, high lump.LumpId, fn func(entry) bool) {
	x.tree.AscendGreaterOrEqual(entry{id: low}, func(e entry) bool {
		if high.Less(e.id) {
			return false
		}
		return fn(e)
	})
}
