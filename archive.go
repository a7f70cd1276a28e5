// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	"github.com/bpowers/bindle/internal/codec"
	"github.com/bpowers/bindle/internal/compress"
	"github.com/bpowers/bindle/internal/index"
	"github.com/bpowers/bindle/internal/storage"
)

// Compression selects how an entry's bytes are stored. Only raw and
// zstd exist on disk; Auto compresses and keeps the zstd output only
// when it is meaningfully smaller than the input.
type Compression = compress.Selector

const (
	CompressNone = compress.None
	CompressZstd = compress.Zstd
	CompressAuto = compress.Auto
)

// Info describes a live entry without reading its data.
type Info struct {
	Name       string
	Size       uint64 // uncompressed byte count
	StoredSize uint64 // bytes on disk (post-compression)
	Offset     uint64 // absolute file offset of the stored bytes
	CRC32      uint32 // CRC-32/IEEE of the stored bytes
	Compressed bool
}

// Archive is an open bindle file. A handle is single-threaded: callers
// must not use it from multiple goroutines concurrently. Cross-process
// coordination is by advisory whole-file locks — shared while reading,
// exclusive for the duration of Save and Vacuum.
type Archive struct {
	st      *storage.File
	idx     *index.Index
	dataEnd uint64 // boundary between the data region and the (stale) trailing index
	logger  *slog.Logger
	w       *Writer // open streaming writer, if any
	closed  bool
}

type config struct {
	logger   *slog.Logger
	nonblock bool
}

// Option configures an archive at open time.
type Option func(*config)

// WithLogger attaches a structured logger; open, save, and vacuum emit
// progress records through it. Without it the archive is silent.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithNonBlockingLock makes every advisory lock acquisition on this
// handle fail with ErrLockBusy instead of waiting for the holder. Vacuum
// reopens the file without this setting, so lock acquisitions after a
// Vacuum wait.
func WithNonBlockingLock() Option {
	return func(c *config) {
		c.nonblock = true
	}
}

// Create opens path as a fresh archive, truncating any existing file.
func Create(path string, opts ...Option) (*Archive, error) {
	return newArchive(path, os.O_CREATE|os.O_TRUNC, opts)
}

// Open opens an existing archive, creating an empty one if the file is
// absent.
func Open(path string, opts ...Option) (*Archive, error) {
	return newArchive(path, os.O_CREATE, opts)
}

// Load opens an existing archive; unlike Open it fails if the file does
// not exist.
func Load(path string, opts ...Option) (*Archive, error) {
	return newArchive(path, 0, opts)
}

func newArchive(path string, flags int, opts []Option) (*Archive, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := storage.Open(path, flags, cfg.nonblock)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		st:     st,
		idx:    index.New(),
		logger: cfg.logger,
	}
	if err := a.parse(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.log().Debug("archive opened", "path", path, "entries", a.idx.Len(), "data_end", a.dataEnd)
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// parse validates the header and footer of an existing file and loads
// the index; a zero-length file is initialized with the 8-byte header.
func (a *Archive) parse() error {
	size := a.st.Size()
	if size == 0 {
		if err := a.st.WriteAt([]byte(codec.Magic), 0); err != nil {
			return err
		}
		a.dataEnd = codec.HeaderSize
		return nil
	}

	if size < codec.HeaderSize {
		return fmt.Errorf("%w: file is only %d bytes", ErrBadMagic, size)
	}
	var hdr [codec.HeaderSize]byte
	if err := a.st.ReadAt(hdr[:], 0); err != nil {
		return err
	}
	if string(hdr[:]) != codec.Magic {
		return fmt.Errorf("%w: %q", ErrBadMagic, hdr[:])
	}

	// a created-but-never-saved archive is just the header
	if size == codec.HeaderSize {
		a.dataEnd = codec.HeaderSize
		return nil
	}
	if size < codec.HeaderSize+codec.FooterSize {
		return fmt.Errorf("%w: %d bytes is too small to hold a footer", ErrCorruptFooter, size)
	}
	if err := a.st.Remap(); err != nil {
		return err
	}

	m := a.st.Mapped()
	footer, err := codec.DecodeFooter(m)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptFooter, err)
	}
	indexEnd := uint64(size) - codec.FooterSize
	if footer.IndexOffset < codec.HeaderSize || footer.IndexOffset > indexEnd {
		return fmt.Errorf("%w: index offset %d out of range", ErrCorruptFooter, footer.IndexOffset)
	}

	region := m[footer.IndexOffset:indexEnd]
	for i := 0; i < int(footer.EntryCount); i++ {
		e, name, n, err := codec.DecodeEntry(region)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrCorruptIndex, i, err)
		}
		region = region[n:]

		if err := index.ValidateName(name); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrCorruptIndex, i, err)
		}
		if e.Offset < codec.HeaderSize || e.Offset%codec.Align != 0 {
			return fmt.Errorf("%w: entry %q has misaligned offset %d", ErrCorruptIndex, name, e.Offset)
		}
		if e.Offset+e.CSize > footer.IndexOffset {
			return fmt.Errorf("%w: entry %q extends past data region", ErrCorruptIndex, name)
		}
		if e.CompType > codec.CompressZstd {
			return fmt.Errorf("%w: entry %q has unknown compression type %d", ErrCorruptIndex, name, e.CompType)
		}
		if replaced := a.idx.Upsert(name, e); replaced {
			return fmt.Errorf("%w: duplicate entry %q", ErrCorruptIndex, name)
		}
	}

	a.dataEnd = codec.AlignUp(footer.IndexOffset)
	return nil
}

// stored returns the on-disk bytes of e: a zero-copy slice of the map
// when it covers the range, otherwise a positioned read. Appends made
// since the last remap live past the map's end, so the fallback is what
// lets a handle read its own unsaved writes.
func (a *Archive) stored(e codec.Entry) ([]byte, error) {
	end := e.Offset + e.CSize
	if m := a.st.Mapped(); uint64(len(m)) >= end {
		return m[e.Offset:end], nil
	}
	buf := make([]byte, e.CSize)
	if err := a.st.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Add stores data under name, shadowing any existing entry with that
// name. The new entry is visible to this handle immediately but is not
// durable until Save.
func (a *Archive) Add(name string, data []byte, c Compression) error {
	if a.closed {
		return ErrClosed
	}
	if a.w != nil {
		return ErrWriterOpen
	}
	if err := index.ValidateName(name); err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("%w: compression selector %d", ErrInvalidArgument, uint8(c))
	}

	out, compType, err := compress.Compress(data, c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCompression, err)
	}

	off := a.dataEnd
	if err := a.st.WriteAt(out, int64(off)); err != nil {
		return err
	}
	if pad := codec.Pad(uint64(len(out))); pad > 0 {
		if err := a.st.WriteAt(codec.Zeros(pad), int64(off)+int64(len(out))); err != nil {
			return err
		}
	}

	a.idx.Upsert(name, codec.Entry{
		Offset:   off,
		CSize:    uint64(len(out)),
		USize:    uint64(len(data)),
		CRC32:    crc32.ChecksumIEEE(out),
		CompType: compType,
	})
	a.dataEnd = codec.AlignUp(off + uint64(len(out)))
	return nil
}

// Read returns a copy of the named entry's contents, decompressed if
// necessary. The hot path skips CRC verification; use Verify or the
// streaming Reader when integrity checking matters.
func (a *Archive) Read(name string) ([]byte, error) {
	if a.closed {
		return nil, ErrClosed
	}
	e, ok := a.idx.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	b, err := a.stored(e)
	if err != nil {
		return nil, err
	}
	if e.CompType == codec.CompressZstd {
		out, err := compress.Decompress(b, e.USize)
		if err != nil {
			if errors.Is(err, compress.ErrLength) {
				return nil, fmt.Errorf("%w: %q: %w", ErrCorruptData, name, err)
			}
			return nil, fmt.Errorf("%w: %q: %w", ErrCompression, name, err)
		}
		return out, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadUncompressedDirect returns a zero-copy view of a raw entry's
// bytes inside the memory map. It returns false for compressed or
// missing entries. The slice is valid only until the map changes: Close
// and Vacuum always invalidate it, as does any call that remaps after
// the file has grown (including this one).
func (a *Archive) ReadUncompressedDirect(name string) ([]byte, bool) {
	if a.closed {
		return nil, false
	}
	e, ok := a.idx.Lookup(name)
	if !ok || e.CompType != codec.CompressRaw {
		return nil, false
	}
	if a.st.MapStale() {
		if err := a.st.Remap(); err != nil {
			return nil, false
		}
	}
	m := a.st.Mapped()
	end := e.Offset + e.USize
	if uint64(len(m)) < end {
		return nil, false
	}
	return m[e.Offset:end], true
}

// Verify recomputes the CRC of the named entry's stored bytes and
// compares it against the recorded checksum.
func (a *Archive) Verify(name string) (bool, error) {
	if a.closed {
		return false, ErrClosed
	}
	e, ok := a.idx.Lookup(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	b, err := a.stored(e)
	if err != nil {
		return false, err
	}
	return crc32.ChecksumIEEE(b) == e.CRC32, nil
}

// Exists reports whether an entry with the given name is live.
func (a *Archive) Exists(name string) bool {
	_, ok := a.idx.Lookup(name)
	return ok
}

// Len is the number of live entries.
func (a *Archive) Len() int {
	return a.idx.Len()
}

// EntryName returns the name of the i'th entry in listing order.
func (a *Archive) EntryName(i int) (string, bool) {
	name, _, ok := a.idx.At(i)
	return name, ok
}

// Names returns every live entry name in listing order.
func (a *Archive) Names() []string {
	return a.idx.Names()
}

// Stat returns the metadata of the named entry.
func (a *Archive) Stat(name string) (Info, bool) {
	e, ok := a.idx.Lookup(name)
	if !ok {
		return Info{}, false
	}
	return Info{
		Name:       name,
		Size:       e.USize,
		StoredSize: e.CSize,
		Offset:     e.Offset,
		CRC32:      e.CRC32,
		Compressed: e.CompType == codec.CompressZstd,
	}, true
}

// Remove drops the named entry from the index. Its bytes stay on disk
// until a vacuum; Save is required to persist the removal. Reports
// whether the entry existed.
func (a *Archive) Remove(name string) bool {
	if a.closed {
		return false
	}
	return a.idx.Remove(name)
}

// Clear drops every entry from the index. Save persists the empty
// index; Vacuum reclaims the space.
func (a *Archive) Clear() {
	if a.closed {
		return
	}
	a.idx.Clear()
}

// Save publishes the in-memory index: it writes the entry headers and
// names at the current data boundary, writes the footer, truncates any
// stale trailing bytes, and flushes. Readers in other processes observe
// the new state only after Save completes.
func (a *Archive) Save() error {
	if a.closed {
		return ErrClosed
	}
	if a.w != nil {
		return ErrWriterOpen
	}
	if err := a.st.LockExclusive(); err != nil {
		return err
	}

	err := a.saveLocked()
	if lockErr := a.st.LockShared(); err == nil {
		err = lockErr
	}
	return err
}

func (a *Archive) saveLocked() error {
	buf := a.encodeIndex(a.dataEnd)
	if err := a.st.WriteAt(buf, int64(a.dataEnd)); err != nil {
		return err
	}
	if err := a.st.Truncate(int64(a.dataEnd) + int64(len(buf))); err != nil {
		return err
	}
	if err := a.st.Sync(); err != nil {
		return err
	}
	if err := a.st.Remap(); err != nil {
		return err
	}
	a.log().Debug("archive saved", "entries", a.idx.Len(), "index_offset", a.dataEnd)
	return nil
}

// encodeIndex serializes the live entries in insertion order followed
// by the footer, for an index region starting at indexOffset.
func (a *Archive) encodeIndex(indexOffset uint64) []byte {
	buf := make([]byte, 0, a.idx.Len()*(codec.EntrySize+32)+codec.FooterSize)
	for i := 0; i < a.idx.Len(); i++ {
		name, meta, _ := a.idx.At(i)
		buf = codec.AppendEntry(buf, meta, name)
	}
	return codec.AppendFooter(buf, codec.Footer{
		IndexOffset: indexOffset,
		EntryCount:  uint32(a.idx.Len()),
	})
}

// Vacuum compacts the archive: live entries are copied into a sibling
// temp file which then atomically replaces the original, discarding
// shadowed and removed data. Zero-copy slices from the old map are
// invalidated. If the exclusive lock cannot be taken, that error is
// returned and nothing is written. If the compacted copy cannot be
// written or renamed into place, the original file is left untouched,
// the handle stays on (or is reopened on) it, and ErrVacuumFailed is
// returned.
func (a *Archive) Vacuum() error {
	if a.closed {
		return ErrClosed
	}
	if a.w != nil {
		return ErrWriterOpen
	}
	if err := a.st.LockExclusive(); err != nil {
		return err
	}

	path := a.st.Path()
	tmpPath := path + ".tmp"
	newMeta, indexOffset, err := a.writeCompacted(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		_ = a.st.LockShared()
		return fmt.Errorf("%w: %w", ErrVacuumFailed, err)
	}

	// The original must be unlocked and closed before the rename
	// replaces it; a failed rename leaves it intact on disk.
	_ = a.st.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		renameErr := fmt.Errorf("%w: rename: %w", ErrVacuumFailed, err)
		if a.st, err = storage.Open(path, 0, false); err != nil {
			a.closed = true
			return renameErr
		}
		_ = a.st.Remap()
		return renameErr
	}

	st, err := storage.Open(path, 0, false)
	if err != nil {
		a.closed = true
		return fmt.Errorf("%w: reopen: %w", ErrVacuumFailed, err)
	}
	if err := st.Remap(); err != nil {
		_ = st.Close()
		a.closed = true
		return fmt.Errorf("%w: remap: %w", ErrVacuumFailed, err)
	}

	a.st = st
	for i, meta := range newMeta {
		a.idx.SetMetaAt(i, meta)
	}
	a.dataEnd = indexOffset
	a.log().Info("archive vacuumed", "path", path, "entries", a.idx.Len(), "size", st.Size())
	return nil
}

// writeCompacted writes header, live data, index, and footer into a
// fresh file at tmpPath and returns the relocated entry metadata.
func (a *Archive) writeCompacted(tmpPath string) ([]codec.Entry, uint64, error) {
	tmp, err := storage.Open(tmpPath, os.O_CREATE|os.O_TRUNC, false)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		_ = tmp.Close()
	}()
	if err := tmp.LockExclusive(); err != nil {
		return nil, 0, err
	}

	if err := tmp.WriteAt([]byte(codec.Magic), 0); err != nil {
		return nil, 0, err
	}
	cur := uint64(codec.HeaderSize)

	newMeta := make([]codec.Entry, a.idx.Len())
	for i := 0; i < a.idx.Len(); i++ {
		_, meta, _ := a.idx.At(i)
		b, err := a.stored(meta)
		if err != nil {
			return nil, 0, err
		}
		if err := tmp.WriteAt(b, int64(cur)); err != nil {
			return nil, 0, err
		}
		if pad := codec.Pad(meta.CSize); pad > 0 {
			if err := tmp.WriteAt(codec.Zeros(pad), int64(cur)+int64(meta.CSize)); err != nil {
				return nil, 0, err
			}
		}
		meta.Offset = cur
		newMeta[i] = meta
		cur = codec.AlignUp(cur + meta.CSize)
	}

	indexOffset := cur
	buf := make([]byte, 0, a.idx.Len()*(codec.EntrySize+32)+codec.FooterSize)
	for i := 0; i < a.idx.Len(); i++ {
		name, _, _ := a.idx.At(i)
		buf = codec.AppendEntry(buf, newMeta[i], name)
	}
	buf = codec.AppendFooter(buf, codec.Footer{
		IndexOffset: indexOffset,
		EntryCount:  uint32(a.idx.Len()),
	})
	if err := tmp.WriteAt(buf, int64(indexOffset)); err != nil {
		return nil, 0, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, 0, err
	}
	return newMeta, indexOffset, nil
}

// Close releases the map, the advisory lock, and the file handle.
// Unsaved index changes are discarded. An unsaved Remove or Clear
// reverts on the next open; data appended by an unsaved Add or Writer
// overwrites the previously saved index, so such a file does not
// reopen cleanly.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.st.Close()
}
