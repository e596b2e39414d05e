package userprog

import (
	"testing"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFDTableInstallBoundary covers spec.md §8's named boundary: opening
// a file 128 times succeeds, and the 129th open returns −1.
func TestFDTableInstallBoundary(t *testing.T) {
	fs := devices.NewFileSystem()
	require.True(t, fs.Create("f", 0))
	base, err := fs.Open("f")
	require.NoError(t, err)
	defer base.Close()

	table := NewFDTable()
	var lastFD int
	for i := 0; i < maxFDs; i++ {
		fd, err := table.Install(base.Duplicate())
		require.NoErrorf(t, err, "install %d should still fit under the %d-entry limit", i, maxFDs)
		lastFD = fd
	}
	assert.Equal(t, 2+maxFDs-1, lastFD, "fds are allocated monotonically starting at 2")

	fd, err := table.Install(base.Duplicate())
	assert.ErrorIs(t, err, kernel.ErrFileDescriptorTableFull)
	assert.Equal(t, -1, fd)
}

func TestFDTableGetAndClose(t *testing.T) {
	fs := devices.NewFileSystem()
	require.True(t, fs.Create("f", 0))
	f, err := fs.Open("f")
	require.NoError(t, err)

	table := NewFDTable()
	fd, err := table.Install(f)
	require.NoError(t, err)
	assert.Equal(t, 2, fd)

	got, ok := table.Get(fd)
	require.True(t, ok)
	assert.Equal(t, f, got)

	_, ok = table.Get(fd + 1)
	assert.False(t, ok)

	require.NoError(t, table.Close(fd))
	_, ok = table.Get(fd)
	assert.False(t, ok)

	assert.ErrorIs(t, table.Close(fd), kernel.ErrBadFileDescriptor)
}

// TestFDTableDuplicateIndependentPositions covers spec.md §4.3's fork
// contract: a duplicated table's entries share data but keep independent
// seek positions.
func TestFDTableDuplicateIndependentPositions(t *testing.T) {
	fs := devices.NewFileSystem()
	require.True(t, fs.Create("f", 8))
	f, err := fs.Open("f")
	require.NoError(t, err)

	table := NewFDTable()
	fd, err := table.Install(f)
	require.NoError(t, err)

	f.Seek(4)
	clone := table.Duplicate()

	orig, _ := table.Get(fd)
	dup, _ := clone.Get(fd)
	assert.Equal(t, int64(4), orig.Tell())
	assert.Equal(t, int64(4), dup.Tell())

	dup.Seek(0)
	assert.Equal(t, int64(0), dup.Tell())
	assert.Equal(t, int64(4), orig.Tell())
}
