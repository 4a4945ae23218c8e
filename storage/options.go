package storage

import (
	"fmt"

	"github.com/google/uuid"

	lumpstore "github.com/nilebit/lumpstore"
	"github.com/nilebit/lumpstore/block"
	"github.com/nilebit/lumpstore/metrics"
	"github.com/nilebit/lumpstore/storage/journal"
)

const (
	// DefaultBlockSize suits 4KiB-sector disks; 512 is accepted for
	// legacy-sector devices.
	DefaultBlockSize = 4096

	// DefaultJournalCapacityBytes sizes the journal region at create time
	// when no explicit block count is given.
	DefaultJournalCapacityBytes = 16 * 1024 * 1024

	// MinJournalCapacityBlocks is the smallest usable journal region.
	MinJournalCapacityBlocks = 16

	// embedRecordOverhead is the journal framing around an embedded value:
	// tag, length, lump id, checksum.
	embedRecordOverhead = 1 + 2 + 16 + 4
)

// Options configure a storage. The zero value selects every default; see
// the field comments for the zero-value meaning.
type Options struct {
	// BlockSize is 512 or 4096 (default 4096). Fixed at create time and
	// read back from the header on open.
	BlockSize uint32

	// JournalCapacityBlocks sizes the journal region (header block
	// included) at create time. Default: 16MiB worth of blocks.
	JournalCapacityBlocks uint64

	// EmbedThreshold is the largest value stored inside its journal
	// record instead of the data region. 0 selects the default (one block
	// minus record overhead); negative disables embedding entirely.
	EmbedThreshold int

	// JournalGCTriggerRatio, JournalGCStepsPerOp, JournalSyncInterval and
	// JournalGCQueueSize tune the journal; see journal.Options.
	JournalGCTriggerRatio float64
	JournalGCStepsPerOp   int
	JournalSyncInterval   int
	JournalGCQueueSize    int

	// InstanceUUID identifies the storage instance; zero means random.
	InstanceUUID uuid.UUID

	// Metrics carries the prometheus registration target; nil metrics
	// still count, they are just not exported.
	Metrics *metrics.Builder
}

func (o *Options) setDefaults() error {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BlockSize != 512 && o.BlockSize != 4096 {
		return fmt.Errorf("block size %d (supported: 512, 4096): %w", o.BlockSize, lumpstore.ErrInvalidInput)
	}
	if o.JournalCapacityBlocks == 0 {
		o.JournalCapacityBlocks = DefaultJournalCapacityBytes / uint64(o.BlockSize)
	}
	if o.JournalCapacityBlocks < MinJournalCapacityBlocks {
		return fmt.Errorf("journal of %d blocks (min %d): %w",
			o.JournalCapacityBlocks, MinJournalCapacityBlocks, lumpstore.ErrInvalidInput)
	}
	maxEmbed := int(o.BlockSize) - embedRecordOverhead
	if o.EmbedThreshold == 0 {
		o.EmbedThreshold = maxEmbed
	}
	if o.EmbedThreshold > maxEmbed {
		return fmt.Errorf("embed threshold %d (max %d for block size %d): %w",
			o.EmbedThreshold, maxEmbed, o.BlockSize, lumpstore.ErrInvalidInput)
	}
	if o.InstanceUUID == uuid.Nil {
		o.InstanceUUID = uuid.New()
	}
	if o.Metrics == nil {
		o.Metrics = &metrics.Builder{}
	}
	return nil
}

func (o *Options) blockSize() (block.Size, error) {
	return block.NewSize(o.BlockSize)
}

func (o *Options) journalOptions(bs block.Size) journal.Options {
	j := journal.Options{
		BlockSize:      bs,
		GCQueueSize:    o.JournalGCQueueSize,
		SyncInterval:   o.JournalSyncInterval,
		GCTriggerRatio: o.JournalGCTriggerRatio,
		GCStepsPerOp:   o.JournalGCStepsPerOp,
	}
	j.SetDefaults()
	return j
}
