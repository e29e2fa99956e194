package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// this constants should be part of "golang.org/x/sys/unix", but aren't, yet
const (
	DKIOCGETBLOCKSIZE  = 0x40046418
	DKIOCGETBLOCKCOUNT = 0x40086419
)

func deviceSize(f *os.File) (int64, error) {
	fd := int(f.Fd())
	blocksize, err := unix.IoctlGetInt(fd, DKIOCGETBLOCKSIZE)
	if err != nil {
		return 0, fmt.Errorf("unable to get block size of device %s: %v", f.Name(), err)
	}
	count, err := unix.IoctlGetInt(fd, DKIOCGETBLOCKCOUNT)
	if err != nil {
		return 0, fmt.Errorf("unable to get block count of device %s: %v", f.Name(), err)
	}
	return int64(blocksize) * int64(count), nil
}
