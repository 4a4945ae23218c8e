package nvm

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/metrics"
)

func TestMemoryNVMReadWrite(t *testing.T) {
	m := NewMemoryNVM(make([]byte, 2048))

	buf := make([]byte, 512)
	copy(buf, "hello")
	require.NoError(t, m.WriteAt(buf, 512))

	out := make([]byte, 512)
	require.NoError(t, m.ReadAt(out, 512))
	assert.Equal(t, []byte("hello"), out[:5])
}

func TestMemoryNVMAlignmentErrors(t *testing.T) {
	m := NewMemoryNVM(make([]byte, 2048))

	err := m.WriteAt(make([]byte, 100), 0)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))

	err = m.ReadAt(make([]byte, 512), 100)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))

	err = m.ReadAt(make([]byte, 1024), 1536)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput), "read beyond capacity")
}

func TestMemoryNVMSplit(t *testing.T) {
	m := NewMemoryNVM(make([]byte, 2048))
	left, right, err := m.Split(512)
	require.NoError(t, err)
	assert.Equal(t, uint64(512), left.Capacity())
	assert.Equal(t, uint64(1536), right.Capacity())

	// regions address disjoint bytes of the same buffer
	buf := make([]byte, 512)
	copy(buf, "right0")
	require.NoError(t, right.WriteAt(buf, 0))
	out := make([]byte, 512)
	require.NoError(t, m.ReadAt(out, 512))
	assert.Equal(t, []byte("right0"), out[:6])

	_, _, err = m.Split(100)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))
}

// alignedBuf returns a direct-I/O-compatible one-block buffer holding s.
func alignedBuf(s string) *block.AlignedBytes {
	a := block.NewAlignedBytes(512, block.MinimumSize())
	copy(a.AsBytes(), s)
	return a
}

func TestFileNVMCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lusf")

	f, err := CreateFileNVM(path, 64*1024)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt(alignedBuf("persisted").AsBytes(), 1024))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	// creating over an existing file is refused
	_, err = CreateFileNVM(path, 64*1024)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))

	g, err := OpenFileNVM(path)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, uint64(64*1024), g.Capacity())

	out := alignedBuf("")
	require.NoError(t, g.ReadAt(out.AsBytes(), 1024))
	assert.Equal(t, []byte("persisted"), out.AsBytes()[:9])
}

func TestFileNVMSplitSharesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.lusf")
	f, err := CreateFileNVM(path, 4096)
	require.NoError(t, err)

	left, right, err := f.Split(1024)
	require.NoError(t, err)

	require.NoError(t, right.WriteAt(alignedBuf("tail").AsBytes(), 0))

	out := alignedBuf("")
	require.NoError(t, f.ReadAt(out.AsBytes(), 1024))
	assert.Equal(t, []byte("tail"), out.AsBytes()[:4])

	require.NoError(t, left.Close())
	// shared descriptor: second close is a no-op
	require.NoError(t, right.Close())
}

func TestMeteredNVMCounts(t *testing.T) {
	inner := NewMemoryNVM(make([]byte, 4096))
	m := NewMeteredNVM(inner, metrics.NewBlockIOMetrics(&metrics.Builder{}))

	buf := make([]byte, 1024)
	require.NoError(t, m.WriteAt(buf, 0))
	require.NoError(t, m.ReadAt(buf, 0))
	require.NoError(t, m.ReadAt(buf[:512], 512))

	assert.Equal(t, uint64(1), m.Metrics().Writes.Value())
	assert.Equal(t, uint64(2), m.Metrics().Reads.Value())
	assert.Equal(t, uint64(1024), m.Metrics().BytesWritten.Value())
	assert.Equal(t, uint64(1536), m.Metrics().BytesRead.Value())
}
