// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package storage owns the archive's file handle: advisory whole-file
// locking, the read-only memory map used for zero-copy reads, and the
// positioned read/write primitives every mutation goes through.
//
// Mutations never write through the map. They use pwrite-style calls,
// and the map is not re-established automatically when the file grows:
// it stays a read-only snapshot of a prefix of the file until a caller
// runs Remap, and bytes past its end are read with ReadAt.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrBusy is returned for lock acquisitions that would block when the
// file was opened in non-blocking mode.
var ErrBusy = errors.New("bindle: advisory lock held elsewhere")

// File is an open archive file plus its lock and map state.
type File struct {
	f        *os.File
	path     string
	size     int64
	data     []byte
	nonblock bool
}

// Open opens (and with the right flags, creates or truncates) the file
// at path read-write and acquires a shared advisory lock. When nonblock
// is set, every lock acquisition on this handle fails with ErrBusy
// instead of waiting.
func Open(path string, flags int, nonblock bool) (*File, error) {
	f, err := os.OpenFile(path, flags|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	s := &File{f: f, path: path, nonblock: nonblock}
	if err := s.LockShared(); err != nil {
		_ = f.Close()
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	s.size = st.Size()
	return s, nil
}

func (s *File) Path() string {
	return s.path
}

// Size is the current file length as tracked through this handle.
func (s *File) Size() int64 {
	return s.size
}

func (s *File) flock(how int) error {
	if s.nonblock {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(s.f.Fd()), how); err != nil {
		if err == unix.EWOULDBLOCK {
			return fmt.Errorf("%w: %s", ErrBusy, s.path)
		}
		return fmt.Errorf("flock(%s): %w", s.path, err)
	}
	return nil
}

// LockShared acquires (or demotes to) a shared lock.
func (s *File) LockShared() error {
	return s.flock(unix.LOCK_SH)
}

// LockExclusive upgrades to an exclusive lock for the duration of a
// save or vacuum. flock releases the held lock before converting it, so
// a failed upgrade re-takes the shared lock before returning.
func (s *File) LockExclusive() error {
	if err := s.flock(unix.LOCK_EX); err != nil {
		_ = s.flock(unix.LOCK_SH)
		return err
	}
	return nil
}

// Unlock releases the advisory lock entirely.
func (s *File) Unlock() error {
	return s.flock(unix.LOCK_UN)
}

// Mapped returns the current read-only map, which covers the file as of
// the last Remap. It is nil for an empty file.
func (s *File) Mapped() []byte {
	return s.data
}

// MapStale reports whether the file has changed length since the map
// was last established.
func (s *File) MapStale() bool {
	return int64(len(s.data)) != s.size
}

// Remap drops any existing map and maps the file at its current length.
func (s *File) Remap() error {
	s.Unmap()
	if s.size == 0 {
		return nil
	}
	data, err := unix.Mmap(int(s.f.Fd()), 0, int(s.size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap(%s): %w", s.path, err)
	}
	if err := unix.Madvise(data, syscall.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return fmt.Errorf("madvise: %w", err)
	}
	s.data = data
	return nil
}

// Unmap releases the map, invalidating every slice handed out from it.
func (s *File) Unmap() {
	if s.data != nil {
		_ = unix.Munmap(s.data)
		s.data = nil
	}
}

// WriteAt writes all of p at off, extending the tracked size as needed.
func (s *File) WriteAt(p []byte, off int64) error {
	if _, err := s.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("f.WriteAt(%d): %w", off, err)
	}
	if end := off + int64(len(p)); end > s.size {
		s.size = end
	}
	return nil
}

// ReadAt fills p from off, bypassing the map.
func (s *File) ReadAt(p []byte, off int64) error {
	n, err := s.f.ReadAt(p, off)
	if err != nil && !(err == io.EOF && n == len(p)) {
		return fmt.Errorf("f.ReadAt(%d, len: %d): %w", off, len(p), err)
	}
	return nil
}

// Truncate cuts the file to length n.
func (s *File) Truncate(n int64) error {
	if err := s.f.Truncate(n); err != nil {
		return fmt.Errorf("f.Truncate(%d): %w", n, err)
	}
	s.size = n
	return nil
}

// Sync flushes file contents to the OS.
func (s *File) Sync() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("f.Sync: %w", err)
	}
	return nil
}

// Close unmaps, unlocks, and closes the handle. Safe to call once.
func (s *File) Close() error {
	s.Unmap()
	_ = s.Unlock()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	return nil
}
