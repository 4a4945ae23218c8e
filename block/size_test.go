package block

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	lumpstore "github.com/nilebit/lumpstore"
)

func TestNewSize(t *testing.T) {
	for _, valid := range []uint32{512, 1024, 4096, 65536} {
		s, err := NewSize(valid)
		assert.NoError(t, err)
		assert.Equal(t, valid, s.AsU32())
	}
	for _, invalid := range []uint32{0, 256, 511, 513, 1536, 4097} {
		_, err := NewSize(invalid)
		assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput), "size %d", invalid)
	}
}

func TestSizeAlign(t *testing.T) {
	s, _ := NewSize(512)
	assert.Equal(t, uint64(0), s.CeilAlign(0))
	assert.Equal(t, uint64(512), s.CeilAlign(1))
	assert.Equal(t, uint64(512), s.CeilAlign(512))
	assert.Equal(t, uint64(1024), s.CeilAlign(513))

	assert.Equal(t, uint64(0), s.FloorAlign(0))
	assert.Equal(t, uint64(0), s.FloorAlign(511))
	assert.Equal(t, uint64(512), s.FloorAlign(512))

	assert.True(t, s.IsAligned(0))
	assert.True(t, s.IsAligned(1024))
	assert.False(t, s.IsAligned(511))
}

func TestSizeContains(t *testing.T) {
	big, _ := NewSize(2048)
	small, _ := NewSize(512)
	assert.True(t, big.Contains(small))
	assert.True(t, big.Contains(big))
	assert.False(t, small.Contains(big))
}
