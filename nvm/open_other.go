//go:build !linux && !darwin

package nvm

import "os"

// openDirect falls back to buffered I/O on platforms without an
// uncached-open flag.
func openDirect(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag, 0644)
}
