package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/portion"
)

func newRing(t *testing.T, capacity int, head uint64) *RingBuffer {
	t.Helper()
	n := nvm.NewMemoryNVM(make([]byte, capacity))
	return NewRingBuffer(n, head, metrics.NewJournalMetrics(&metrics.Builder{}))
}

func recPut(id uint64, start uint64, blocks uint16) Record {
	return PutRecord{
		LumpID:      lump.LumpIdFromU64(id),
		DataPortion: portion.DataPortion{Start: portion.Address(start), Len: blocks},
	}
}

func recDelete(id uint64) Record {
	return DeleteRecord{LumpID: lump.LumpIdFromU64(id)}
}

func TestRingAppendAndDequeue(t *testing.T) {
	ring := newRing(t, 1024, 0)

	records := []Record{
		recPut(0, 30, 5),
		recPut(1, 100, 300),
		recDelete(2),
		EmbedRecord{LumpID: lump.LumpIdFromU64(3), Data: []byte("foo")},
		DeleteRangeRecord{Low: lump.LumpIdFromU64(0), High: lump.LumpIdFromU64(9)},
	}
	for _, rec := range records {
		require.NoError(t, ring.Enqueue(rec))
	}

	entries, err := ring.DequeueEntries(100)
	require.NoError(t, err)
	require.Len(t, entries, len(records))
	pos := uint64(0)
	for i, e := range entries {
		assert.Equal(t, records[i], e.Record)
		assert.Equal(t, pos, e.Start)
		pos += uint64(records[i].ExternalSize())
	}
	assert.Equal(t, pos, ring.Head())
	assert.Equal(t, pos, ring.Tail())
	assert.Equal(t, uint64(0), ring.UnreleasedHead())

	// nothing left
	entries, err = ring.DequeueEntries(100)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRingWrapsWithGoToFront(t *testing.T) {
	ring := newRing(t, 1024, 512)

	rec := recDelete(0)
	size := uint64(rec.ExternalSize()) // 23 bytes
	for ring.Tail()+size+EndOfRecordsSize <= 1024 {
		require.NoError(t, ring.Enqueue(rec))
	}
	tailBeforeWrap := ring.Tail()
	assert.Greater(t, tailBeforeWrap, uint64(512))

	// the head must release the front before the wrap may land there
	ring.ReleaseBytesUntil(512)
	entries, err := ring.DequeueEntries(1000)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	require.NoError(t, ring.Enqueue(rec))
	assert.Equal(t, size, ring.Tail(), "tail continued at the front")

	// replay sees the wrap marker and follows it
	restored := newRingOver(t, ring)
	var count int
	_, err = restored.RestoreEntries(func(Entry) error { count++; return nil })
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

// newRingOver reopens a ring over the same memory from head 512.
func newRingOver(t *testing.T, ring *RingBuffer) *RingBuffer {
	t.Helper()
	require.NoError(t, ring.Sync())
	return NewRingBuffer(ring.buf.nvm, 512, metrics.NewJournalMetrics(&metrics.Builder{}))
}

func TestRingFull(t *testing.T) {
	ring := newRing(t, 1024, 0)

	rec := recPut(0, 1, 2)
	for ring.Tail()+uint64(rec.ExternalSize())+EndOfRecordsSize <= 1024 {
		require.NoError(t, ring.Enqueue(rec))
	}

	// wrap would overrun the unreleased head at 0
	err := ring.Enqueue(rec)
	assert.True(t, errors.Is(err, lumpstore.ErrNoSpace))

	// releasing a prefix lets the wrap succeed
	entries, err := ring.DequeueEntries(1000)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	ring.ReleaseBytesUntil(entries[20].End())
	require.NoError(t, ring.Enqueue(rec))
	assert.Equal(t, uint64(rec.ExternalSize()), ring.Tail())
}

func TestRingUsage(t *testing.T) {
	ring := newRing(t, 1024, 0)
	assert.Equal(t, uint64(0), ring.Usage())
	assert.True(t, ring.IsEmpty())

	rec := recDelete(1)
	require.NoError(t, ring.Enqueue(rec))
	assert.Equal(t, uint64(rec.ExternalSize()), ring.Usage())
	assert.False(t, ring.IsEmpty())
}

func TestRingRestoreStopsAtTornRecord(t *testing.T) {
	mem := make([]byte, 1024)
	n := nvm.NewMemoryNVM(mem)
	ring := NewRingBuffer(n, 0, metrics.NewJournalMetrics(&metrics.Builder{}))

	require.NoError(t, ring.Enqueue(recPut(1, 0, 1)))
	require.NoError(t, ring.Enqueue(recPut(2, 1, 1)))
	require.NoError(t, ring.Sync())
	secondStart := uint64(recPut(1, 0, 1).ExternalSize())

	// tear the second record's payload
	mem[secondStart+5] ^= 0xFF

	restored := NewRingBuffer(n, 0, metrics.NewJournalMetrics(&metrics.Builder{}))
	var seen []Record
	torn, err := restored.RestoreEntries(func(e Entry) error {
		seen = append(seen, e.Record)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, torn)
	require.Len(t, seen, 1, "only the intact first record survives")
	assert.Equal(t, secondStart, restored.Tail(), "tail truncated at the torn record")
}
