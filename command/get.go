package command

import (
	"context"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/nilebit/lumpstore/lump"
)

var Get = &Command{
	Name:  "get",
	Usage: "get -file=lump.lusf -id=0011aabb > value.bin",
	Short: "read a lump to stdout",
	Long:  `get writes the value stored under the given id to stdout; missing lumps exit with an error`,
}

var (
	getFile       *string
	getID         *string
	getDeadlineMS *int
)

func init() {
	Get.Run = runGet
	getFile = Get.Flag.String("file", "lump.lusf", "storage file")
	getID = Get.Flag.String("id", "", "lump id (hex, up to 32 digits)")
	getDeadlineMS = Get.Flag.Int("deadline", 0, "request deadline in milliseconds (0 = none)")
}

func runGet(args []string) bool {
	if len(args) != 0 || *getID == "" {
		Get.PrintUsage()
	}
	id, err := lump.ParseLumpId(*getID)
	if err != nil {
		glog.Errorf("parse id %q: %v", *getID, err)
		return false
	}

	d, ok := openDevice(*getFile)
	if !ok {
		return false
	}
	defer stopDevice(d)

	data, err := d.Get(context.Background(), id, deadlineOpt(*getDeadlineMS)...)
	if err != nil {
		glog.Errorf("get %s: %v", id, err)
		return false
	}
	if data == nil {
		fmt.Fprintf(os.Stderr, "lump %s not found\n", id)
		return false
	}
	if _, err := os.Stdout.Write(data.AsBytes()); err != nil {
		glog.Errorf("write value: %v", err)
		return false
	}
	return true
}
