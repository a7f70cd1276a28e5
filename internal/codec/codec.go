// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package codec encodes and decodes the fixed-layout pieces of the
// bindle file format: the 32-byte entry header, the 16-byte footer,
// and the 8-byte alignment arithmetic shared by both.
//
// A bindle file looks like:
//
//	┌───────────────────┐
//	│ "BINDL001"        │
//	├───────────────────┤
//	│ data blobs,       │
//	│ each padded to an │
//	│ 8-byte boundary   │
//	│                   │
//	├───────────────────┤
//	│ entry headers +   │
//	│ names, padded     │
//	├───────────────────┤
//	│ footer (16 bytes) │
//	└───────────────────┘
//
// All multi-byte integers are little-endian, and the entry struct is laid
// out with no implicit padding.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is the 8-byte sequence every bindle file starts with.
	Magic = "BINDL001"

	HeaderSize = 8
	EntrySize  = 32
	FooterSize = 16
	Align      = 8

	// FooterMagic is the trailing sentinel emitted by writers. Readers
	// additionally accept 0 in the sentinel position: an older dialect
	// stored the entry count as a u64, and for any real archive the high
	// half of that word is zero.
	FooterMagic = 0x62626262
)

// Entry is the decoded form of a 32-byte on-disk entry header. The name
// bytes follow the header on disk and are carried separately.
type Entry struct {
	Offset   uint64 // absolute file offset of the data blob
	CSize    uint64 // stored (possibly compressed) byte count
	USize    uint64 // original uncompressed byte count
	CRC32    uint32 // CRC-32/IEEE of the stored CSize bytes
	CompType uint8  // CompressRaw or CompressZstd
}

// Stored compression types.
const (
	CompressRaw  uint8 = 0
	CompressZstd uint8 = 1
)

var (
	errShortEntry  = errors.New("codec: entry header truncated")
	errShortFooter = errors.New("codec: footer truncated")
	errSentinel    = errors.New("codec: footer sentinel mismatch")
)

// AlignUp rounds n up to the next 8-byte boundary.
func AlignUp(n uint64) uint64 {
	return (n + Align - 1) &^ (Align - 1)
}

// Pad returns the number of zero bytes needed after n to reach the next
// 8-byte boundary.
func Pad(n uint64) uint64 {
	return AlignUp(n) - n
}

// zeros is a reusable source of padding bytes.
var zeros [Align]byte

// Zeros returns n bytes of zero padding, n < Align.
func Zeros(n uint64) []byte {
	return zeros[:n]
}

// AppendEntry appends the encoded header for e, the name bytes, and zero
// padding up to the next 8-byte boundary. The caller is responsible for
// having validated the name.
func AppendEntry(dst []byte, e Entry, name string) []byte {
	var buf [EntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], e.CSize)
	binary.LittleEndian.PutUint64(buf[16:24], e.USize)
	binary.LittleEndian.PutUint32(buf[24:28], e.CRC32)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(name)))
	buf[30] = e.CompType
	buf[31] = 0

	dst = append(dst, buf[:]...)
	dst = append(dst, name...)
	return append(dst, Zeros(Pad(uint64(EntrySize+len(name))))...)
}

// DecodeEntry decodes one entry record (header, name, trailing pad) from
// the front of b. It returns the decoded entry, its name, and the total
// number of bytes consumed including padding.
func DecodeEntry(b []byte) (e Entry, name string, consumed int, err error) {
	if len(b) < EntrySize {
		return Entry{}, "", 0, errShortEntry
	}
	e.Offset = binary.LittleEndian.Uint64(b[0:8])
	e.CSize = binary.LittleEndian.Uint64(b[8:16])
	e.USize = binary.LittleEndian.Uint64(b[16:24])
	e.CRC32 = binary.LittleEndian.Uint32(b[24:28])
	nameLen := int(binary.LittleEndian.Uint16(b[28:30]))
	e.CompType = b[30]

	total := int(AlignUp(uint64(EntrySize + nameLen)))
	if len(b) < total {
		return Entry{}, "", 0, fmt.Errorf("%w: need %d bytes, have %d", errShortEntry, total, len(b))
	}
	name = string(b[EntrySize : EntrySize+nameLen])
	return e, name, total, nil
}

// Footer locates the index within the file.
type Footer struct {
	IndexOffset uint64
	EntryCount  uint32
}

// AppendFooter appends the 16-byte footer in the sentinel dialect.
func AppendFooter(dst []byte, f Footer) []byte {
	var buf [FooterSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], f.EntryCount)
	binary.LittleEndian.PutUint32(buf[12:16], FooterMagic)
	return append(dst, buf[:]...)
}

// DecodeFooter decodes the trailing 16 bytes of an archive. Both observed
// dialects are accepted: (u64 offset, u32 count, u32 sentinel) and
// (u64 offset, u64 count), whose high count word reads back as a zero
// sentinel. Anything else in the sentinel position is corruption.
func DecodeFooter(b []byte) (Footer, error) {
	if len(b) < FooterSize {
		return Footer{}, errShortFooter
	}
	b = b[len(b)-FooterSize:]
	f := Footer{
		IndexOffset: binary.LittleEndian.Uint64(b[0:8]),
		EntryCount:  binary.LittleEndian.Uint32(b[8:12]),
	}
	if sentinel := binary.LittleEndian.Uint32(b[12:16]); sentinel != FooterMagic && sentinel != 0 {
		return Footer{}, fmt.Errorf("%w: %#x", errSentinel, sentinel)
	}
	return f, nil
}
