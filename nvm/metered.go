package nvm

import (
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/metrics"
)

// MeteredNVM wraps a backend and counts every block read and write. The
// engine's disk-access budget is asserted against these counters.
type MeteredNVM struct {
	inner NonVolatileMemory
	m     *metrics.BlockIOMetrics
}

func NewMeteredNVM(inner NonVolatileMemory, m *metrics.BlockIOMetrics) *MeteredNVM {
	return &MeteredNVM{inner: inner, m: m}
}

func (n *MeteredNVM) Metrics() *metrics.BlockIOMetrics {
	return n.m
}

func (n *MeteredNVM) ReadAt(buf []byte, offset uint64) error {
	if err := n.inner.ReadAt(buf, offset); err != nil {
		return err
	}
	n.m.Reads.Inc()
	n.m.BytesRead.Add(uint64(len(buf)))
	return nil
}

func (n *MeteredNVM) WriteAt(buf []byte, offset uint64) error {
	if err := n.inner.WriteAt(buf, offset); err != nil {
		return err
	}
	n.m.Writes.Inc()
	n.m.BytesWritten.Add(uint64(len(buf)))
	return nil
}

func (n *MeteredNVM) Sync() error {
	return n.inner.Sync()
}

func (n *MeteredNVM) Capacity() uint64 {
	return n.inner.Capacity()
}

func (n *MeteredNVM) BlockSize() block.Size {
	return n.inner.BlockSize()
}

func (n *MeteredNVM) Split(position uint64) (NonVolatileMemory, NonVolatileMemory, error) {
	left, right, err := n.inner.Split(position)
	if err != nil {
		return nil, nil, err
	}
	return &MeteredNVM{inner: left, m: n.m}, &MeteredNVM{inner: right, m: n.m}, nil
}

func (n *MeteredNVM) Close() error {
	return n.inner.Close()
}
