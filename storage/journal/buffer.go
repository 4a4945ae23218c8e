package journal

import (
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/nvm"
)

// rmwBuffer adapts the byte-granular journal to the block-aligned nvm
// layer. Writes accumulate in one aligned span covering the current tail;
// the span's last two blocks are retained after a flush so consecutive
// appends never have to read the partially filled tail block back.
type rmwBuffer struct {
	nvm       nvm.NonVolatileMemory
	blockSize block.Size

	buf      *block.AlignedBytes
	bufStart uint64 // aligned offset of buf inside the region
	valid    bool   // buf mirrors the region at bufStart
	dirty    bool   // buf holds unflushed bytes
}

func newRMWBuffer(n nvm.NonVolatileMemory) *rmwBuffer {
	bs := n.BlockSize()
	b := &rmwBuffer{
		nvm:       n,
		blockSize: bs,
		buf:       block.NewAlignedBytes(int(bs.AsU32()), bs),
	}
	b.buf.Truncate(0)
	return b
}

func (b *rmwBuffer) bufEnd() uint64 {
	return b.bufStart + uint64(b.buf.Len())
}

// Write places data at the byte offset, buffering it until Flush.
func (b *rmwBuffer) Write(offset uint64, data []byte) error {
	spanStart := b.blockSize.FloorAlign(offset)
	spanEnd := b.blockSize.CeilAlign(offset + uint64(len(data)))

	contiguous := b.valid && spanStart >= b.bufStart && spanStart <= b.bufEnd()
	if !contiguous {
		if err := b.Flush(); err != nil {
			return err
		}
		b.buf.Truncate(0)
		b.bufStart = spanStart
		if offset > spanStart {
			// partially overwritten head block: read-modify-write
			b.buf.Resize(int(b.blockSize.AsU32()))
			if err := b.nvm.ReadAt(b.buf.AsBytes(), spanStart); err != nil {
				return err
			}
		}
		b.valid = true
	}
	if spanEnd > b.bufEnd() {
		b.buf.Resize(int(spanEnd - b.bufStart))
	}
	copy(b.buf.AsBytes()[offset-b.bufStart:], data)
	b.dirty = true
	return nil
}

// Read copies bytes at the offset into data, flushing first when the range
// overlaps unflushed writes.
func (b *rmwBuffer) Read(offset uint64, data []byte) error {
	end := offset + uint64(len(data))
	if b.dirty && offset < b.bufEnd() && end > b.bufStart {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	readStart := b.blockSize.FloorAlign(offset)
	readEnd := b.blockSize.CeilAlign(end)
	tmp := block.NewAlignedBytes(int(readEnd-readStart), b.blockSize)
	if err := b.nvm.ReadAt(tmp.AsBytes(), readStart); err != nil {
		return err
	}
	copy(data, tmp.AsBytes()[offset-readStart:])
	return nil
}

// Flush writes the buffered span out and retains its last two blocks so the
// next append continues without a read. Only the EndOfRecords sentinel
// follows the ring tail, so the tail lies in one of those two blocks.
func (b *rmwBuffer) Flush() error {
	if !b.dirty {
		return nil
	}
	if err := b.nvm.WriteAt(b.buf.AsBytes(), b.bufStart); err != nil {
		return err
	}
	b.dirty = false
	if n, keep := b.buf.Len(), 2*int(b.blockSize.AsU32()); n > keep {
		copy(b.buf.AsBytes()[:keep], b.buf.AsBytes()[n-keep:])
		b.buf.Truncate(keep)
		b.bufStart += uint64(n - keep)
	}
	return nil
}

// Sync flushes and makes the region durable.
func (b *rmwBuffer) Sync() error {
	if err := b.Flush(); err != nil {
		return err
	}
	return b.nvm.Sync()
}

// Prime loads the block containing offset so the first append after open
// stays a pure write.
func (b *rmwBuffer) Prime(offset uint64) error {
	start := b.blockSize.FloorAlign(offset)
	if start >= b.nvm.Capacity() {
		return nil
	}
	b.buf.Resize(int(b.blockSize.AsU32()))
	if err := b.nvm.ReadAt(b.buf.AsBytes(), start); err != nil {
		return err
	}
	b.bufStart = start
	b.valid = true
	b.dirty = false
	return nil
}
