package nvm

import (
	"fmt"
	"os"
	"sync"

	"github.com/golang/glog"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
)

// FileNVM is a storage file opened for direct I/O where the platform
// provides it (O_DIRECT on Linux, F_NOCACHE on Darwin). Splits share the
// same file descriptor and address disjoint byte ranges of it.
type FileNVM struct {
	file      *sharedFile
	blockSize block.Size
	start     uint64 // absolute byte offset of this region in the file
	capacity  uint64
}

// sharedFile lets the regions produced by Split share one descriptor and
// close it exactly once.
type sharedFile struct {
	f    *os.File
	once sync.Once
}

func (s *sharedFile) close() (err error) {
	s.once.Do(func() { err = s.f.Close() })
	return
}

// CreateFileNVM creates the storage file, reserves capacity bytes (rounded
// up to a block boundary) and opens it for direct I/O. The file must not
// already exist.
func CreateFileNVM(path string, capacity uint64) (*FileNVM, error) {
	bs := block.MinimumSize()
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("storage file %s already exists: %w", path, lumpstore.ErrInvalidInput)
	}
	f, err := openDirect(path, os.O_RDWR|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	capacity = bs.CeilAlign(capacity)
	if err := f.Truncate(int64(capacity)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate %s to %d: %w: %v", path, capacity, lumpstore.ErrDeviceError, err)
	}
	glog.V(1).Infof("created storage file %s capacity=%d", path, capacity)
	return &FileNVM{
		file:      &sharedFile{f: f},
		blockSize: bs,
		capacity:  capacity,
	}, nil
}

// OpenFileNVM opens an existing storage file for direct I/O; its size is
// the capacity.
func OpenFileNVM(path string) (*FileNVM, error) {
	bs := block.MinimumSize()
	f, err := openDirect(path, os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w: %v", path, lumpstore.ErrDeviceError, err)
	}
	capacity := bs.FloorAlign(uint64(info.Size()))
	glog.V(1).Infof("opened storage file %s capacity=%d", path, capacity)
	return &FileNVM{
		file:      &sharedFile{f: f},
		blockSize: bs,
		capacity:  capacity,
	}, nil
}

func (n *FileNVM) ReadAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(n.blockSize, n.capacity, offset, len(buf)); err != nil {
		return err
	}
	read, err := n.file.f.ReadAt(buf, int64(n.start+offset))
	if err != nil {
		return fmt.Errorf("read %d bytes at %d: %w: %v", len(buf), n.start+offset, lumpstore.ErrDeviceError, err)
	}
	if read != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes at %d: %w", read, len(buf), n.start+offset, lumpstore.ErrDeviceError)
	}
	return nil
}

func (n *FileNVM) WriteAt(buf []byte, offset uint64) error {
	if err := checkIOArgs(n.blockSize, n.capacity, offset, len(buf)); err != nil {
		return err
	}
	written, err := n.file.f.WriteAt(buf, int64(n.start+offset))
	if err != nil {
		return fmt.Errorf("write %d bytes at %d: %w: %v", len(buf), n.start+offset, lumpstore.ErrDeviceError, err)
	}
	if written != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes at %d: %w", written, len(buf), n.start+offset, lumpstore.ErrDeviceError)
	}
	return nil
}

func (n *FileNVM) Sync() error {
	if err := n.file.f.Sync(); err != nil {
		return fmt.Errorf("fsync: %w: %v", lumpstore.ErrDeviceError, err)
	}
	return nil
}

func (n *FileNVM) Capacity() uint64 {
	return n.capacity
}

func (n *FileNVM) BlockSize() block.Size {
	return n.blockSize
}

func (n *FileNVM) Split(position uint64) (NonVolatileMemory, NonVolatileMemory, error) {
	if err := checkSplitPosition(n.blockSize, n.capacity, position); err != nil {
		return nil, nil, err
	}
	left := &FileNVM{file: n.file, blockSize: n.blockSize, start: n.start, capacity: position}
	right := &FileNVM{file: n.file, blockSize: n.blockSize, start: n.start + position, capacity: n.capacity - position}
	return left, right, nil
}

func (n *FileNVM) Close() error {
	return n.file.close()
}
