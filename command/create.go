package command

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/nilebit/lumpstore/nvm"
	"github.com/nilebit/lumpstore/storage"
)

var Create = &Command{
	Name:  "create",
	Usage: "create -file=lump.lusf -capacity=1073741824",
	Short: "create a new storage file",
	Long:  `create formats a new lump storage file with a header block, a journal region and a data region`,
}

var (
	createFile     *string
	createCapacity *uint64
	createBlock    *uint
	createJournal  *uint64
)

func init() {
	Create.Run = runCreate
	createFile = Create.Flag.String("file", "lump.lusf", "storage file to create")
	createCapacity = Create.Flag.Uint64("capacity", 1<<30, "total capacity in bytes")
	createBlock = Create.Flag.Uint("blockSize", storage.DefaultBlockSize, "block size (512 or 4096)")
	createJournal = Create.Flag.Uint64("journalBlocks", 0, "journal region size in blocks (0 = default)")
}

func runCreate(args []string) bool {
	if len(args) != 0 {
		Create.PrintUsage()
	}
	n, err := nvm.CreateFileNVM(*createFile, *createCapacity)
	if err != nil {
		glog.Errorf("create %s: %v", *createFile, err)
		return false
	}
	s, err := storage.CreateStorage(n, storage.Options{
		BlockSize:             uint32(*createBlock),
		JournalCapacityBlocks: *createJournal,
	})
	if err != nil {
		glog.Errorf("format %s: %v", *createFile, err)
		_ = n.Close()
		return false
	}
	header := s.Header()
	if err := s.Close(); err != nil {
		glog.Errorf("close %s: %v", *createFile, err)
		return false
	}
	fmt.Printf("created %s uuid=%s block_size=%d journal_blocks=%d data_blocks=%d\n",
		*createFile, header.InstanceUUID, header.BlockSize.AsU32(),
		header.JournalBlocks, header.DataBlocks)
	return true
}
