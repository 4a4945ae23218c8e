package command

import (
	"fmt"
	"runtime"
)

// VERSION is the release string reported by the version subcommand.
const VERSION = "0.1"

var Version = &Command{
	Name:  "version",
	Usage: "version",
	Short: "print version",
	Long:  `version prints the lumpstore release and the platform it was built for`,
}

func init() {
	Version.Run = runVersion
}

func runVersion(args []string) bool {
	if len(args) != 0 {
		Version.PrintUsage()
	}
	fmt.Printf("lumpstore %s %s/%s (%s)\n", VERSION, runtime.GOOS, runtime.GOARCH, runtime.Version())
	return true
}
