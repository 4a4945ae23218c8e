package command

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"

	"github.com/nilebit/lumpstore/lump"
)

var Put = &Command{
	Name:  "put",
	Usage: "put -file=lump.lusf -id=0011aabb < value.bin",
	Short: "store a lump from stdin",
	Long:  `put reads a value from stdin and stores it under the given 128-bit hexadecimal id`,
}

var (
	putFile       *string
	putID         *string
	putDeadlineMS *int
)

func init() {
	Put.Run = runPut
	putFile = Put.Flag.String("file", "lump.lusf", "storage file")
	putID = Put.Flag.String("id", "", "lump id (hex, up to 32 digits)")
	putDeadlineMS = Put.Flag.Int("deadline", 0, "request deadline in milliseconds (0 = none)")
}

func runPut(args []string) bool {
	if len(args) != 0 || *putID == "" {
		Put.PrintUsage()
	}
	id, err := lump.ParseLumpId(*putID)
	if err != nil {
		glog.Errorf("parse id %q: %v", *putID, err)
		return false
	}
	value, err := io.ReadAll(os.Stdin)
	if err != nil {
		glog.Errorf("read value: %v", err)
		return false
	}
	data, err := lump.NewData(value)
	if err != nil {
		glog.Errorf("value: %v", err)
		return false
	}

	d, ok := openDevice(*putFile)
	if !ok {
		return false
	}
	defer stopDevice(d)

	created, err := d.Put(context.Background(), id, data, deadlineOpt(*putDeadlineMS)...)
	if err != nil {
		glog.Errorf("put %s: %v", id, err)
		return false
	}
	fmt.Printf("put %s (%d bytes, new=%v)\n", id, len(value), created)
	return true
}
