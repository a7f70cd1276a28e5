// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bindle/internal/codec"
)

func TestUpsertPreservesInsertionOrder(t *testing.T) {
	x := New()

	assert.False(t, x.Upsert("c", codec.Entry{Offset: 8}))
	assert.False(t, x.Upsert("a", codec.Entry{Offset: 16}))
	assert.False(t, x.Upsert("b", codec.Entry{Offset: 24}))

	assert.Equal(t, []string{"c", "a", "b"}, x.Names())
	assert.Equal(t, 3, x.Len())

	// shadowing keeps the slot, replaces the metadata
	assert.True(t, x.Upsert("a", codec.Entry{Offset: 4096}))
	assert.Equal(t, []string{"c", "a", "b"}, x.Names())
	assert.Equal(t, 3, x.Len())

	meta, ok := x.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint64(4096), meta.Offset)
}

func TestLookupMissing(t *testing.T) {
	x := New()
	_, ok := x.Lookup("nope")
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	x := New()
	x.Upsert("a", codec.Entry{Offset: 8})
	x.Upsert("b", codec.Entry{Offset: 16})
	x.Upsert("c", codec.Entry{Offset: 24})

	assert.True(t, x.Remove("b"))
	assert.False(t, x.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, x.Names())
	assert.Equal(t, 2, x.Len())

	// positions must stay coherent after the shift
	meta, ok := x.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, uint64(24), meta.Offset)

	name, _, ok := x.At(1)
	require.True(t, ok)
	assert.Equal(t, "c", name)
}

func TestAtOutOfRange(t *testing.T) {
	x := New()
	x.Upsert("a", codec.Entry{})

	_, _, ok := x.At(-1)
	assert.False(t, ok)
	_, _, ok = x.At(1)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	x := New()
	x.Upsert("a", codec.Entry{})
	x.Upsert("b", codec.Entry{})
	x.Clear()

	assert.Equal(t, 0, x.Len())
	_, ok := x.Lookup("a")
	assert.False(t, ok)

	// reusable after clearing
	x.Upsert("a", codec.Entry{Offset: 8})
	assert.Equal(t, 1, x.Len())
}

func TestSetMetaAt(t *testing.T) {
	x := New()
	x.Upsert("a", codec.Entry{Offset: 1024})
	x.SetMetaAt(0, codec.Entry{Offset: 8})

	meta, ok := x.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint64(8), meta.Offset)
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"a", "file.txt", "dir/nested/file", "ünïcode", strings.Repeat("x", 1<<16-1)} {
		assert.NoError(t, ValidateName(name), "%q should be valid", name)
	}

	for _, name := range []string{"", "has\x00nul", "\xff\xfe", strings.Repeat("x", 1<<16)} {
		err := ValidateName(name)
		require.Error(t, err, "%q should be invalid", name)
		assert.ErrorIs(t, err, ErrInvalidName)
	}
}
