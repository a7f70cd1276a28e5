// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"errors"

	"github.com/bpowers/bindle/internal/index"
	"github.com/bpowers/bindle/internal/storage"
)

var (
	// ErrBadMagic means the file does not start with the bindle header.
	ErrBadMagic = errors.New("bindle: bad magic byte sequence")

	// ErrCorruptFooter means the trailing footer is unreadable, its
	// sentinel is wrong, or its index offset points outside the file.
	// Typically the result of a crash mid-save.
	ErrCorruptFooter = errors.New("bindle: corrupt footer")

	// ErrCorruptIndex means an entry header points outside the data
	// region, carries an invalid name, or duplicates another entry.
	ErrCorruptIndex = errors.New("bindle: corrupt index")

	// ErrCorruptData means stored bytes failed CRC verification, or a
	// zstd payload decompressed to an unexpected length.
	ErrCorruptData = errors.New("bindle: corrupt data")

	// ErrInvalidName rejects names that are empty, not UTF-8, contain
	// an interior NUL, or exceed the 16-bit length field.
	ErrInvalidName = index.ErrInvalidName

	// ErrInvalidArgument rejects unknown compression selectors and
	// similar out-of-range inputs.
	ErrInvalidArgument = errors.New("bindle: invalid argument")

	// ErrCompression wraps failures reported by the zstd codec.
	ErrCompression = errors.New("bindle: compression failed")

	// ErrNotFound is returned when a named entry is absent.
	ErrNotFound = errors.New("bindle: entry not found")

	// ErrLockBusy is returned for contended advisory locks when the
	// archive was opened with WithNonBlockingLock.
	ErrLockBusy = storage.ErrBusy

	// ErrVacuumFailed means compaction could not complete; the archive
	// has been reopened on the original file on a best-effort basis.
	ErrVacuumFailed = errors.New("bindle: vacuum failed")

	// ErrClosed is returned by operations on a closed archive, writer,
	// or reader.
	ErrClosed = errors.New("bindle: closed")

	// ErrWriterOpen means a streaming writer is still open on the
	// archive; close or discard it before other mutations.
	ErrWriterOpen = errors.New("bindle: streaming writer already open")
)
