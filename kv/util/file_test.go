package util

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirSize(t *testing.T) {
	dir, err := ioutil.TempDir("", "util")
	require.Nil(t, err)
	defer os.RemoveAll(dir)
	require.True(t, DirExists(dir))
	require.Nil(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.Nil(t, ioutil.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0644))
	require.Nil(t, ioutil.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 5), 0644))

	size, files, err := DirSize(dir)
	require.Nil(t, err)
	require.Equal(t, uint64(15), size)
	require.Equal(t, 2, files)

	require.False(t, DirExists(filepath.Join(dir, "a")))

	_, _, err = DirSize(filepath.Join(dir, "missing"))
	require.NotNil(t, err)
}
