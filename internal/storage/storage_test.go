// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "storage.bin")
}

func TestOpenCreatesFile(t *testing.T) {
	path := tempPath(t)

	s, err := Open(path, os.O_CREATE, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	assert.Equal(t, path, s.Path())
	assert.Equal(t, int64(0), s.Size())
	assert.Nil(t, s.Mapped())
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), 0, false)
	assert.Error(t, err)
}

func TestWriteReadAt(t *testing.T) {
	s, err := Open(tempPath(t), os.O_CREATE, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	require.NoError(t, s.WriteAt([]byte("hello world"), 0))
	assert.Equal(t, int64(11), s.Size())

	buf := make([]byte, 5)
	require.NoError(t, s.ReadAt(buf, 6))
	assert.Equal(t, "world", string(buf))

	// overwrite in place does not grow the file
	require.NoError(t, s.WriteAt([]byte("HELLO"), 0))
	assert.Equal(t, int64(11), s.Size())
}

func TestRemapTracksGrowth(t *testing.T) {
	s, err := Open(tempPath(t), os.O_CREATE, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	require.NoError(t, s.WriteAt([]byte("first"), 0))
	require.NoError(t, s.Remap())
	assert.False(t, s.MapStale())
	assert.Equal(t, "first", string(s.Mapped()))

	require.NoError(t, s.WriteAt([]byte("-second"), 5))
	assert.True(t, s.MapStale())
	assert.Equal(t, 5, len(s.Mapped()), "old map keeps its length until remapped")

	require.NoError(t, s.Remap())
	assert.False(t, s.MapStale())
	assert.Equal(t, "first-second", string(s.Mapped()))
}

func TestTruncate(t *testing.T) {
	s, err := Open(tempPath(t), os.O_CREATE, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	require.NoError(t, s.WriteAt([]byte("0123456789"), 0))
	require.NoError(t, s.Truncate(4))
	assert.Equal(t, int64(4), s.Size())

	require.NoError(t, s.Remap())
	assert.Equal(t, "0123", string(s.Mapped()))
}

func TestLockContention(t *testing.T) {
	path := tempPath(t)

	h1, err := Open(path, os.O_CREATE, true)
	require.NoError(t, err)
	defer func() {
		_ = h1.Close()
	}()

	// two shared holders coexist
	h2, err := Open(path, 0, true)
	require.NoError(t, err)

	// upgrading while another shared holder exists would block
	err = h1.LockExclusive()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, h2.Close())
	require.NoError(t, h1.LockExclusive())

	// a new shared claimant is refused while h1 is exclusive
	_, err = Open(path, 0, true)
	assert.ErrorIs(t, err, ErrBusy)

	// demote and the claimant succeeds
	require.NoError(t, h1.LockShared())
	h3, err := Open(path, 0, true)
	require.NoError(t, err)
	require.NoError(t, h3.Close())
}

func TestCloseUnmaps(t *testing.T) {
	s, err := Open(tempPath(t), os.O_CREATE, false)
	require.NoError(t, err)

	require.NoError(t, s.WriteAt([]byte("data"), 0))
	require.NoError(t, s.Remap())
	require.NotNil(t, s.Mapped())

	require.NoError(t, s.Close())
	assert.Nil(t, s.Mapped())
}
