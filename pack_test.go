// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "subdir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "file1.txt"), []byte("Hello World"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "subdir", "file2.txt"), []byte("Compressed Data Content"), 0o644))

	path := testPath(t)
	a, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, a.Pack(srcDir, CompressZstd))
	require.NoError(t, a.Save())
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer a.Close()
	require.Equal(t, 2, a.Len())
	assert.True(t, a.Exists("file1.txt"))
	assert.True(t, a.Exists("subdir/file2.txt"))

	outDir := t.TempDir()
	require.NoError(t, a.Unpack(outDir))

	got, err := os.ReadFile(filepath.Join(outDir, "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(got))
	got, err = os.ReadFile(filepath.Join(outDir, "subdir", "file2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Compressed Data Content", string(got))
}

func TestUnpackRejectsEscapingNames(t *testing.T) {
	a, err := Create(testPath(t))
	require.NoError(t, err)
	defer a.Close()

	// a hostile name can end up in an archive written by another tool;
	// ValidateName alone does not exclude dot-dot segments
	require.NoError(t, a.Add("../escape", []byte("nope"), CompressNone))

	err = a.Unpack(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestAddFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "input.bin")
	data := bytes.Repeat([]byte("file contents "), 1024)
	require.NoError(t, os.WriteFile(src, data, 0o644))

	path := testPath(t)
	a, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, a.AddFile("stored/input.bin", src, CompressZstd))
	require.NoError(t, a.Save())
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.Read("stored/input.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, ok := a.Stat("stored/input.bin")
	require.True(t, ok)
	assert.True(t, info.Compressed)
}

func TestAddFileMissingSource(t *testing.T) {
	a, err := Create(testPath(t))
	require.NoError(t, err)
	defer a.Close()

	err = a.AddFile("x", filepath.Join(t.TempDir(), "missing"), CompressNone)
	require.Error(t, err)
	assert.Equal(t, 0, a.Len())
}
