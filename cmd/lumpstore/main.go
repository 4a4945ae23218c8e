// lumpstore is the command-line front end to the lump storage engine.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nilebit/lumpstore/command"
	"github.com/nilebit/lumpstore/logs"
)

func printCommands(w io.Writer) {
	fmt.Fprintf(w, "Lumpstore - embedded lump storage\n\nUsage:\n\n\tlumpstore command [arguments]\n\nThe commands are:\n\n")
	for _, c := range command.Commands {
		fmt.Fprintf(w, "    %-11s %s\n", c.Name, c.Short)
	}
	fmt.Fprintf(w, "\nUse \"lumpstore help [command]\" for more information about a command.\n")
}

func usage() {
	printCommands(os.Stderr)
	fmt.Fprintf(os.Stderr, "\nLogging flags:\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func help(args []string) {
	if len(args) == 0 {
		printCommands(os.Stdout)
		return
	}
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: lumpstore help command\n\nToo many arguments given.\n")
		os.Exit(2)
	}
	c := command.Lookup(args[0])
	if c == nil {
		fmt.Fprintf(os.Stderr, "lumpstore: unknown help topic %q. Run 'lumpstore help'.\n", args[0])
		os.Exit(2)
	}
	c.Describe(os.Stdout)
}

func main() {
	logs.InitLogs()
	defer logs.FlushLogs()

	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}
	if args[0] == "help" {
		help(args[1:])
		return
	}

	c := command.Lookup(args[0])
	if c == nil {
		fmt.Fprintf(os.Stderr, "lumpstore: unknown command %q\nRun 'lumpstore help' for usage.\n", args[0])
		os.Exit(2)
	}
	c.Flag.Usage = c.PrintUsage
	c.Flag.Parse(args[1:])
	if !c.Run(c.Flag.Args()) {
		os.Exit(1)
	}
}
