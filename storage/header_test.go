package storage

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
)

func testHeader() *StorageHeader {
	return &StorageHeader{
		MajorVersion:  MajorVersion,
		MinorVersion:  MinorVersion,
		BlockSize:     block.MinimumSize(),
		JournalBlocks: 128,
		DataBlocks:    2048,
		InstanceUUID:  uuid.New(),
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := testHeader()
	decoded, err := DecodeHeaderBlock(h.EncodeBlock().AsBytes())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
	assert.Equal(t, uint64(1+128+2048), h.StorageBlocks())
}

func TestHeaderRejectsBadMagic(t *testing.T) {
	b := testHeader().EncodeBlock().AsBytes()
	b[0] = 'x'
	_, err := DecodeHeaderBlock(b)
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))
}

func TestHeaderRejectsBadCRC(t *testing.T) {
	b := testHeader().EncodeBlock().AsBytes()
	b[20] ^= 0xFF
	_, err := DecodeHeaderBlock(b)
	assert.True(t, errors.Is(err, lumpstore.ErrStorageCorrupted))
}

func TestHeaderVersionCompatibility(t *testing.T) {
	// an older minor version opens fine
	h := testHeader()
	h.MinorVersion = MinorVersion - 1
	_, err := DecodeHeaderBlock(h.EncodeBlock().AsBytes())
	assert.NoError(t, err)

	// a newer minor or different major version does not
	h = testHeader()
	h.MinorVersion = MinorVersion + 1
	_, err = DecodeHeaderBlock(h.EncodeBlock().AsBytes())
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))

	h = testHeader()
	h.MajorVersion = MajorVersion + 1
	_, err = DecodeHeaderBlock(h.EncodeBlock().AsBytes())
	assert.True(t, errors.Is(err, lumpstore.ErrInvalidInput))
}
