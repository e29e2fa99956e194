//go:build !linux && !darwin

package file

import (
	"errors"
	"os"
)

func deviceSize(f *os.File) (int64, error) {
	return 0, errors.New("block devices not supported on this platform")
}
