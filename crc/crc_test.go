package crc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRCIncrementalUpdate(t *testing.T) {
	whole := New([]byte("hello world"))
	parts := New([]byte("hello ")).Update([]byte("world"))
	assert.Equal(t, whole.Value(), parts.Value())
}

func TestCRCDetectsChange(t *testing.T) {
	a := New([]byte("data")).Value()
	b := New([]byte("date")).Value()
	assert.NotEqual(t, a, b)
}

func TestCRCEmpty(t *testing.T) {
	assert.Equal(t, uint32(0), New(nil).Value())
}
