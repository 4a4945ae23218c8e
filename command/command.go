// Package command implements the lumpstore CLI subcommands. The core
// engine takes no flags; everything configurable here maps onto the
// storage and device option structs.
package command

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Command is one lumpstore subcommand. Run receives the arguments left
// after flag parsing and reports success.
type Command struct {
	Name  string
	Usage string // one-line invocation example, starting with Name
	Short string
	Long  string
	Run   func(args []string) bool
	Flag  flag.FlagSet
}

var Commands = []*Command{
	Create,
	Put,
	Get,
	Delete,
	List,
	Version,
}

// Lookup returns the subcommand with the given name, or nil.
func Lookup(name string) *Command {
	for _, c := range Commands {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Describe writes the subcommand's usage, description and flags to w.
func (c *Command) Describe(w io.Writer) {
	fmt.Fprintf(w, "Usage: lumpstore %s\n\n", c.Usage)
	fmt.Fprintf(w, "  %s\n\nFlags:\n", strings.TrimSpace(c.Long))
	c.Flag.SetOutput(w)
	c.Flag.PrintDefaults()
}

// PrintUsage describes the subcommand on stderr and exits.
func (c *Command) PrintUsage() {
	c.Describe(os.Stderr)
	os.Exit(2)
}
