package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	assert.NoError(t, lfs.MkdirAll(dir, 0755))

	fpath := filepath.Join(dir, "test.txt")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())

	info, err := f.Stat()
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	_, ok := Fd(f)
	assert.True(t, ok)
	assert.NoError(t, f.Close())

	entries, err := lfs.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	newPath := filepath.Join(dir, "renamed.txt")
	assert.NoError(t, lfs.Rename(fpath, newPath))

	info2, err := lfs.Stat(newPath)
	assert.NoError(t, err)
	assert.Equal(t, int64(5), info2.Size())

	assert.NoError(t, lfs.Remove(newPath))
	_, err = lfs.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_Write(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)

	fault := NoFault()
	fault.FailAfterBytes = 4
	ffs.AddRule("bucket", fault)

	f, err := ffs.OpenFile(filepath.Join(tmp, "bucket-0"), os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = f.Write([]byte("de"))
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, f.Close())

	// Unmatched files are untouched and unwrapped.
	g, err := ffs.OpenFile(filepath.Join(tmp, "other"), os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = g.Write([]byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, g.Close())

	assert.Equal(t, 1, ffs.Opens("bucket"))
}

func TestFaultyFS_ReadOpenClose(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "unsorted.spill")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	boom := errors.New("boom")
	ffs := NewFaultyFS(LocalFS{})

	fault := NoFault()
	fault.FailAfterReadBytes = 0
	fault.Err = boom
	ffs.AddRule("unsorted", fault)

	f, err := ffs.OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	_, err = io.ReadAll(f)
	assert.ErrorIs(t, err, boom)
	_, ok := Fd(f)
	assert.True(t, ok)
	require.NoError(t, f.Close())

	open := NoFault()
	open.FailOnOpen = true
	ffs.AddRule("unsorted", open)
	_, err = ffs.OpenFile(path, os.O_RDONLY, 0)
	assert.ErrorIs(t, err, ErrInjected)

	closeFault := NoFault()
	closeFault.FailOnClose = true
	closeFault.FailOnSync = true
	ffs.AddRule("unsorted", closeFault)
	f, err = ffs.OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)
}
