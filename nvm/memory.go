package nvm

import "github.com/nilebit/lumpstore/block"

// MemoryNVM is a volatile in-memory backend, mainly for tests. Sync is a
// no-op; the data lives exactly as long as the process.
type MemoryNVM struct {
	buf       []byte
	blockSize block.Size
}

// NewMemoryNVM wraps buf, whose length must be block-aligned, using the
// minimum block size.
func NewMemoryNVM(buf []byte) *MemoryNVM {
	return &MemoryNVM{buf: buf, blockSize: block.MinimumSize()}
}

// NewMemoryNVMWithBlockSize wraps buf using the given block size.
func NewMemoryNVMWithBlockSize(buf []byte, bs block.Size) *MemoryNVM {
	return &MemoryNVM{buf: buf, blockSize: bs}
}

func (m *MemoryNVM) ReadAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(m.blockSize, m.Capacity(), offset, len(buf)); err != nil {
		return err
	}
	copy(buf, m.buf[offset:])
	return nil
}

func (m *MemoryNVM) WriteAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(m.blockSize, m.Capacity(), offset, len(buf)); err != nil {
		return err
	}
	copy(m.buf[offset:], buf)
	return nil
}

func (m *MemoryNVM) Sync() error {
	return nil
}

func (m *MemoryNVM) Capacity() uint64 {
	return uint64(len(m.buf))
}

func (m *MemoryNVM) BlockSize() block.Size {
	return m.blockSize
}

func (m *MemoryNVM) Split(position uint64) (NonVolatileMemory, NonVolatileMemory, error) {
	if err := checkSplitPosition(m.blockSize, m.Capacity(), position); err != nil {
		return nil, nil, err
	}
	left := &MemoryNVM{buf: m.buf[:position], blockSize: m.blockSize}
	right := &MemoryNVM{buf: m.buf[position:], blockSize: m.blockSize}
	return left, right, nil
}

func (m *MemoryNVM) Close() error {
	return nil
}
