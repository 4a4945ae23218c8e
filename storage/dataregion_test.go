package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/lump"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage/allocator"
)

func newDataRegion(t *testing.T, capacityBlocks uint64) (*DataRegion, []byte) {
	t.Helper()
	bs := block.MinimumSize()
	mem := make([]byte, capacityBlocks*block.MinSize)
	a := allocator.Build(metrics.NewAllocatorMetrics(&metrics.Builder{}), capacityBlocks, bs)
	return NewDataRegion(a, nvm.NewMemoryNVM(mem), bs), mem
}

func TestDataRegionRoundTrip(t *testing.T) {
	region, _ := newDataRegion(t, 20)

	data, err := lump.NewData([]byte("foo"))
	require.NoError(t, err)
	p, err := region.Put(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.Len)

	got, err := region.Get(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("foo"), got.AsBytes())
}

func TestDataRegionZeroLengthLump(t *testing.T) {
	region, _ := newDataRegion(t, 20)

	data, err := lump.NewData(nil)
	require.NoError(t, err)
	p, err := region.Put(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), p.Len, "even an empty lump occupies its trailer block")

	got, err := region.Get(p)
	require.NoError(t, err)
	assert.Len(t, got.AsBytes(), 0)
}

func TestDataRegionMultiBlockLump(t *testing.T) {
	region, _ := newDataRegion(t, 20)

	payload := make([]byte, 1200) // needs 3 blocks with the trailer
	for i := range payload {
		payload[i] = byte(i)
	}
	data, err := lump.NewData(payload)
	require.NoError(t, err)
	p, err := region.Put(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), p.Len)

	got, err := region.Get(p)
	require.NoError(t, err)
	assert.Equal(t, payload, got.AsBytes())
}

func TestDataRegionChecksumDetectsRot(t *testing.T) {
	region, mem := newDataRegion(t, 20)

	data, err := lump.NewData([]byte("precious"))
	require.NoError(t, err)
	p, err := region.Put(data)
	require.NoError(t, err)

	mem[p.Start.AsU64()*block.MinSize] ^= 0xFF

	_, err = region.Get(p)
	assert.True(t, errors.Is(err, lumpstore.ErrStorageCorrupted))
}

func TestDataRegionNoSpace(t *testing.T) {
	region, _ := newDataRegion(t, 2)

	big := make([]byte, 3*block.MinSize)
	data, err := lump.NewData(big)
	require.NoError(t, err)
	_, err = region.Put(data)
	assert.True(t, errors.Is(err, lumpstore.ErrNoSpace))
}

func TestDataRegionPutKeepsCallerLength(t *testing.T) {
	region, _ := newDataRegion(t, 20)

	data, err := lump.AllocateAligned(100, block.MinimumSize())
	require.NoError(t, err)
	copy(data.AsBytes(), "abc")
	_, err = region.Put(data)
	require.NoError(t, err)
	assert.Equal(t, 100, data.Len(), "padding must not leak into the caller's buffer")
}
