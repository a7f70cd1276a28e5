// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package compress selects between storing entry bytes raw and zstd
// compressing them, and owns the shared zstd coder state.
package compress

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/bpowers/bindle/internal/codec"
)

// Selector is the caller-facing compression request for an entry. Only
// raw and zstd exist on disk; Auto resolves to one of them at add time.
type Selector uint8

const (
	None Selector = 0
	Zstd Selector = 1
	Auto Selector = 2
)

// autoRatio is the fraction of the uncompressed size the zstd output must
// stay under for Auto to keep it; at or above this, raw wins.
const autoRatio = 0.97

// ErrLength is returned when a zstd payload decompresses to a length
// other than the one recorded in its entry header.
var ErrLength = errors.New("compress: unexpected decompressed length")

// Valid reports whether s is a known selector.
func (s Selector) Valid() bool {
	return s <= Auto
}

func (s Selector) String() string {
	switch s {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// The buffered add path runs entirely through EncodeAll/DecodeAll, which
// are safe for concurrent use on a single coder.
var (
	encoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1))
)

// Compress returns the bytes to store for data under selector s, along
// with the on-disk compression type. For Auto the zstd output is kept
// only when it beats the raw size by more than the ratio threshold.
func Compress(data []byte, s Selector) (out []byte, compType uint8, err error) {
	switch s {
	case None:
		return data, codec.CompressRaw, nil
	case Zstd:
		return encoder.EncodeAll(data, make([]byte, 0, len(data)/2+64)), codec.CompressZstd, nil
	case Auto:
		z := encoder.EncodeAll(data, make([]byte, 0, len(data)/2+64))
		if float64(len(z)) >= float64(len(data))*autoRatio {
			return data, codec.CompressRaw, nil
		}
		return z, codec.CompressZstd, nil
	}
	return nil, 0, fmt.Errorf("compress: invalid selector %d", uint8(s))
}

// Decompress inflates a stored zstd payload whose original length is
// known from the entry header. A length mismatch is reported as
// ErrLength so callers can distinguish corruption from decoder failure.
func Decompress(src []byte, usize uint64) ([]byte, error) {
	out, err := decoder.DecodeAll(src, make([]byte, 0, usize))
	if err != nil {
		return nil, fmt.Errorf("zstd.DecodeAll: %w", err)
	}
	if uint64(len(out)) != usize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLength, len(out), usize)
	}
	return out, nil
}

// NewStreamEncoder returns a streaming zstd encoder writing its frames
// to w. Used by the streaming writer, which cannot buffer whole entries.
func NewStreamEncoder(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
		zstd.WithLowerEncoderMem(true))
}

// NewStreamDecoder returns a streaming zstd decoder reading a stored
// frame from r.
func NewStreamDecoder(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
}
