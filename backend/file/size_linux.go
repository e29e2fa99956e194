package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BLKGETSIZE64, size of the device in bytes
const blkgetsize64 = 0x80081272

func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), blkgetsize64)
	if err != nil {
		return 0, fmt.Errorf("unable to get size of device %s: %v", f.Name(), err)
	}
	return int64(size), nil
}
