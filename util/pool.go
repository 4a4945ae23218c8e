package util

import "sync"

// ChunkSizes are the capacities backing the BytesPool, from one block up to
// the largest lump a single read can surface.
var ChunkSizes = []int{
	1 << 9, 1 << 12, 1 << 14, 1 << 16, 1 << 18, 1 << 20, 1 << 22, 1 << 25,
}

// BytesPool recycles byte slices by capacity class to keep large reads from
// churning the garbage collector.
type BytesPool struct {
	pools []*sync.Pool
}

func NewBytesPool() *BytesPool {
	p := &BytesPool{}
	for _, size := range ChunkSizes {
		size := size
		p.pools = append(p.pools, &sync.Pool{
			New: func() interface{} { return make([]byte, size) },
		})
	}
	return p
}

func (p *BytesPool) Get(size int) []byte {
	for i, chunk := range ChunkSizes {
		if size <= chunk {
			b := p.pools[i].Get().([]byte)
			return b[:size]
		}
	}
	return make([]byte, size)
}

func (p *BytesPool) Put(b []byte) {
	c := cap(b)
	for i, chunk := range ChunkSizes {
		if c == chunk {
			p.pools[i].Put(b[:c]) //nolint:staticcheck
			return
		}
	}
}
