// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/bindle/internal/codec"
	"github.com/bpowers/bindle/internal/compress"
	"github.com/bpowers/bindle/internal/index"
	"github.com/bpowers/bindle/internal/storage"
)

// Writer streams an entry of unknown total size into the archive. Bytes
// are appended at the data boundary as they arrive; the entry becomes
// visible only when Close succeeds. A Writer that is discarded (or
// never closed) leaves the index and the data boundary untouched — its
// partial bytes are garbage that the next add overwrites or a vacuum
// reclaims.
//
// At most one Writer may be open on an archive at a time, and no other
// mutation may run while it is open.
type Writer struct {
	a     *Archive
	name  string
	comp  uint8
	start uint64
	usize uint64
	sink  *dataSink
	enc   *zstd.Encoder
	done  bool
}

// dataSink appends stored bytes at a moving file offset while rolling
// the CRC over exactly what lands on disk.
type dataSink struct {
	st  *storage.File
	off uint64
	crc uint32
}

func (s *dataSink) Write(p []byte) (int, error) {
	if err := s.st.WriteAt(p, int64(s.off)); err != nil {
		return 0, err
	}
	s.crc = crc32.Update(s.crc, crc32.IEEETable, p)
	s.off += uint64(len(p))
	return len(p), nil
}

// NewWriter starts a streaming write of the named entry. With
// CompressZstd the chunks pass through a streaming zstd encoder and the
// CRC covers the emitted compressed bytes; CompressAuto cannot measure
// an unknown-length stream and resolves to raw.
func (a *Archive) NewWriter(name string, c Compression) (*Writer, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.w != nil {
		return nil, ErrWriterOpen
	}
	if err := index.ValidateName(name); err != nil {
		return nil, err
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: compression selector %d", ErrInvalidArgument, uint8(c))
	}

	w := &Writer{
		a:     a,
		name:  name,
		comp:  codec.CompressRaw,
		start: a.dataEnd,
		sink:  &dataSink{st: a.st, off: a.dataEnd},
	}
	if c == CompressZstd {
		enc, err := compress.NewStreamEncoder(w.sink)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		w.enc = enc
		w.comp = codec.CompressZstd
	}
	a.w = w
	return w, nil
}

// Write appends chunk to the entry, implementing io.Writer.
func (w *Writer) Write(chunk []byte) (int, error) {
	if w.done {
		return 0, ErrClosed
	}
	w.usize += uint64(len(chunk))
	if w.enc != nil {
		return w.enc.Write(chunk)
	}
	return w.sink.Write(chunk)
}

// Close finishes the stream: it flushes any buffered compressed bytes,
// zero-pads to the 8-byte boundary, and publishes the entry into the
// in-memory index. Save is still required for durability.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.a.w = nil

	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			return fmt.Errorf("%w: %w", ErrCompression, err)
		}
	}

	csize := w.sink.off - w.start
	if pad := codec.Pad(csize); pad > 0 {
		if err := w.sink.st.WriteAt(codec.Zeros(pad), int64(w.sink.off)); err != nil {
			return err
		}
	}

	w.a.idx.Upsert(w.name, codec.Entry{
		Offset:   w.start,
		CSize:    csize,
		USize:    w.usize,
		CRC32:    w.sink.crc,
		CompType: w.comp,
	})
	w.a.dataEnd = codec.AlignUp(w.start + csize)
	return nil
}

// Discard abandons the stream without publishing an entry. Any bytes
// already written stay on disk as reclaimable garbage.
func (w *Writer) Discard() {
	if w.done {
		return
	}
	w.done = true
	w.a.w = nil
	if w.enc != nil {
		_ = w.enc.Close()
	}
}
