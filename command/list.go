package command

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

var List = &Command{
	Name:  "list",
	Usage: "list -file=lump.lusf",
	Short: "list stored lump ids",
	Long:  `list prints every stored lump id in ascending order`,
}

var listFile *string

func init() {
	List.Run = runList
	listFile = List.Flag.String("file", "lump.lusf", "storage file")
}

func runList(args []string) bool {
	if len(args) != 0 {
		List.PrintUsage()
	}
	d, ok := openDevice(*listFile)
	if !ok {
		return false
	}
	defer stopDevice(d)

	ids, err := d.List(context.Background())
	if err != nil {
		glog.Errorf("list: %v", err)
		return false
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return true
}
