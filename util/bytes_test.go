package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteCodecs(t *testing.T) {
	b := make([]byte, 8)

	Uint64toBytes(b, 0x1122334455667788)
	assert.Equal(t, uint64(0x1122334455667788), BytesToUint64(b))
	assert.Equal(t, byte(0x88), b[0], "little-endian")

	Uint40toBytes(b, 0xFF_FFFF_FFFF)
	assert.Equal(t, uint64(0xFF_FFFF_FFFF), BytesToUint40(b[:5]))

	Uint32toBytes(b, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), BytesToUint32(b[:4]))

	Uint16toBytes(b, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), BytesToUint16(b[:2]))
}

func TestBytesPool(t *testing.T) {
	p := NewBytesPool()
	b := p.Get(100)
	assert.Equal(t, 100, len(b))
	p.Put(b)

	huge := p.Get(1 << 26) // above the largest class
	assert.Equal(t, 1<<26, len(huge))
}
