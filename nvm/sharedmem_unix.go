//go:build unix

package nvm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
)

// SharedMemoryNVM maps a file into memory and serves reads and writes from
// the mapping. Sync issues msync(MS_SYNC), which orders and persists the
// dirtied pages the way a flush-and-fence write path does on persistent
// memory hardware.
type SharedMemoryNVM struct {
	mapping   *sharedMapping
	blockSize block.Size
	start     uint64
	capacity  uint64
}

type sharedMapping struct {
	f    *os.File
	mem  []byte
	done bool
}

// CreateSharedMemoryNVM creates (or truncates) path at the given capacity
// and maps it.
func CreateSharedMemoryNVM(path string, capacity uint64) (*SharedMemoryNVM, error) {
	bs := block.MinimumSize()
	capacity = bs.CeilAlign(capacity)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	if err := f.Truncate(int64(capacity)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	return mapFile(f, capacity, bs)
}

// OpenSharedMemoryNVM maps an existing file.
func OpenSharedMemoryNVM(path string) (*SharedMemoryNVM, error) {
	bs := block.MinimumSize()
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	return mapFile(f, bs.FloorAlign(uint64(info.Size())), bs)
}

func mapFile(f *os.File, capacity uint64, bs block.Size) (*SharedMemoryNVM, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: %w: %v", lumpstore.ErrDeviceError, err)
	}
	return &SharedMemoryNVM{
		mapping:   &sharedMapping{f: f, mem: mem},
		blockSize: bs,
		capacity:  capacity,
	}, nil
}

func (n *SharedMemoryNVM) ReadAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(n.blockSize, n.capacity, offset, len(buf)); err != nil {
		return err
	}
	copy(buf, n.mapping.mem[n.start+offset:])
	return nil
}

func (n *SharedMemoryNVM) WriteAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(n.blockSize, n.capacity, offset, len(buf)); err != nil {
		return err
	}
	copy(n.mapping.mem[n.start+offset:], buf)
	return nil
}

func (n *SharedMemoryNVM) Sync() error {
	if err := unix.Msync(n.mapping.mem, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w: %v", lumpstore.ErrDeviceError, err)
	}
	return nil
}

func (n *SharedMemoryNVM) Capacity() uint64 {
	return n.capacity
}

func (n *SharedMemoryNVM) BlockSize() block.Size {
	return n.blockSize
}

func (n *SharedMemoryNVM) Split(position uint64) (NonVolatileMemory, NonVolatileMemory, error) {
	if err := checkSplitPosition(n.blockSize, n.capacity, position); err != nil {
		return nil, nil, err
	}
	left := &SharedMemoryNVM{mapping: n.mapping, blockSize: n.blockSize, start: n.start, capacity: position}
	right := &SharedMemoryNVM{mapping: n.mapping, blockSize: n.blockSize, start: n.start + position, capacity: n.capacity - position}
	return left, right, nil
}

func (n *SharedMemoryNVM) Close() error {
	if n.mapping.done {
		return nil
	}
	n.mapping.done = true
	if err := unix.Munmap(n.mapping.mem); err != nil {
		_ = n.mapping.f.Close()
		return fmt.Errorf("munmap: %w: %v", lumpstore.ErrDeviceError, err)
	}
	return n.mapping.f.Close()
}
