package crc

import (
	"github.com/klauspost/crc32"
)

var table = crc32.MakeTable(crc32.Castagnoli)

// CRC is an incrementally updatable CRC-32C checksum. It guards data-region
// lump payloads; the journal and header use Adler-32 as dictated by the
// storage format.
type CRC uint32

func New(b []byte) CRC {
	return CRC(0).Update(b)
}

func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

func (c CRC) Value() uint32 {
	return uint32(c)
}
