package command

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/nilebit/lumpstore/lump"
)

var Delete = &Command{
	Name:  "delete",
	Usage: "delete -file=lump.lusf -id=0011aabb",
	Short: "delete a lump or an id range",
	Long:  `delete removes the lump with the given id, or every lump between -from and -to (inclusive)`,
}

var (
	deleteFile *string
	deleteID   *string
	deleteFrom *string
	deleteTo   *string
)

func init() {
	Delete.Run = runDelete
	deleteFile = Delete.Flag.String("file", "lump.lusf", "storage file")
	deleteID = Delete.Flag.String("id", "", "lump id (hex)")
	deleteFrom = Delete.Flag.String("from", "", "range start id (hex, inclusive)")
	deleteTo = Delete.Flag.String("to", "", "range end id (hex, inclusive)")
}

func runDelete(args []string) bool {
	if len(args) != 0 {
		Delete.PrintUsage()
	}
	ranged := *deleteFrom != "" || *deleteTo != ""
	if ranged == (*deleteID != "") {
		Delete.PrintUsage()
	}

	d, ok := openDevice(*deleteFile)
	if !ok {
		return false
	}
	defer stopDevice(d)

	if ranged {
		low, err := lump.ParseLumpId(*deleteFrom)
		if err != nil {
			glog.Errorf("parse -from %q: %v", *deleteFrom, err)
			return false
		}
		high, err := lump.ParseLumpId(*deleteTo)
		if err != nil {
			glog.Errorf("parse -to %q: %v", *deleteTo, err)
			return false
		}
		count, err := d.DeleteRange(context.Background(), low, high)
		if err != nil {
			glog.Errorf("delete range: %v", err)
			return false
		}
		fmt.Printf("deleted %d lumps\n", count)
		return true
	}

	id, err := lump.ParseLumpId(*deleteID)
	if err != nil {
		glog.Errorf("parse id %q: %v", *deleteID, err)
		return false
	}
	existed, err := d.Delete(context.Background(), id)
	if err != nil {
		glog.Errorf("delete %s: %v", id, err)
		return false
	}
	fmt.Printf("deleted %s (existed=%v)\n", id, existed)
	return true
}
