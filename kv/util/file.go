package util

import (
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
)

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// DirSize sums the sizes of the regular files under path and counts them.
func DirSize(path string) (size uint64, files int, err error) {
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			size += uint64(info.Size())
			files++
		}
		return nil
	})
	return size, files, errors.WithStack(err)
}
