package nvm

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirect opens path and disables the buffer cache with F_NOCACHE, the
// Darwin equivalent of O_DIRECT.
func openDirect(path string, flag int) (*os.File, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}
