// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/bindle/internal/codec"
	"github.com/bpowers/bindle/internal/compress"
)

// Reader streams the contents of one entry. Raw entries are served
// straight from the memory map; zstd entries run through a streaming
// decompressor. The CRC rolls over the stored bytes as they are
// consumed, so after reading to EOF, VerifyCRC32 tells the caller
// whether the on-disk bytes match the recorded checksum.
//
// A Reader borrows from the archive's current map and must be drained
// before anything remaps it: Save, Vacuum, and Close all invalidate an
// open Reader.
type Reader struct {
	expected uint32
	src      *crcReader
	dec      *zstd.Decoder // nil for raw entries
	closed   bool
}

// crcReader rolls a CRC over the stored bytes as they are read.
type crcReader struct {
	r   *bytes.Reader
	crc uint32
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
	}
	return n, err
}

// NewReader opens a streaming reader on the named entry.
func (a *Archive) NewReader(name string) (*Reader, error) {
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

	r := &Reader{
		expected: e.CRC32,
		src:      &crcReader{r: bytes.NewReader(b)},
	}
	if e.CompType == codec.CompressZstd {
		dec, err := compress.NewStreamDecoder(r.src)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCompression, err)
		}
		r.dec = dec
	}
	return r, nil
}

// Read fills buf with the next chunk of (decompressed) entry bytes,
// implementing io.Reader.
func (r *Reader) Read(buf []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if r.dec != nil {
		return r.dec.Read(buf)
	}
	return r.src.Read(buf)
}

// VerifyCRC32 reports whether the CRC accumulated over the stored bytes
// consumed so far equals the entry's recorded checksum. Meaningful only
// after reading to EOF.
func (r *Reader) VerifyCRC32() bool {
	return r.src.crc == r.expected
}

// Close releases decompressor state. The Reader is unusable afterwards.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.dec != nil {
		r.dec.Close()
	}
	return nil
}
