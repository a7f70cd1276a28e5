// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index holds the in-memory table of live archive entries: an
// insertion-ordered sequence (the listing order on disk) plus a
// name-to-position map for constant-time lookup. Both structures move
// together on every mutation.
package index

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bpowers/bindle/internal/codec"
)

// ErrInvalidName is returned for names that cannot be stored: empty,
// not valid UTF-8, containing an interior NUL, or longer than the
// 16-bit name_len field allows.
var ErrInvalidName = errors.New("bindle: invalid entry name")

const maxNameLen = 1<<16 - 1

type record struct {
	meta codec.Entry
	name string
}

// Index is the set of live entries. The zero value is not usable; call New.
type Index struct {
	records []record
	byName  map[string]int
}

func New() *Index {
	return &Index{
		byName: make(map[string]int),
	}
}

// ValidateName checks the constraints every stored name must satisfy.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), maxNameLen)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: contains NUL", ErrInvalidName)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	return nil
}

// Lookup returns the metadata for name.
func (x *Index) Lookup(name string) (codec.Entry, bool) {
	i, ok := x.byName[name]
	if !ok {
		return codec.Entry{}, false
	}
	return x.records[i].meta, true
}

// Upsert records meta under name. An existing entry keeps its position
// in the listing order and has its metadata overwritten (shadowing); a
// new name is appended. Reports whether this replaced an existing entry.
func (x *Index) Upsert(name string, meta codec.Entry) (replaced bool) {
	if i, ok := x.byName[name]; ok {
		x.records[i].meta = meta
		return true
	}
	x.byName[name] = len(x.records)
	x.records = append(x.records, record{meta: meta, name: name})
	return false
}

// Remove drops name from the index. The on-disk data is untouched and
// becomes garbage until a vacuum. Reports whether the name was present.
func (x *Index) Remove(name string) bool {
	i, ok := x.byName[name]
	if !ok {
		return false
	}
	delete(x.byName, name)
	x.records = append(x.records[:i], x.records[i+1:]...)
	for j := i; j < len(x.records); j++ {
		x.byName[x.records[j].name] = j
	}
	return true
}

// Clear drops every entry.
func (x *Index) Clear() {
	x.records = x.records[:0]
	x.byName = make(map[string]int)
}

// Len is the number of live entries.
func (x *Index) Len() int {
	return len(x.records)
}

// At returns the i'th entry in insertion order.
func (x *Index) At(i int) (name string, meta codec.Entry, ok bool) {
	if i < 0 || i >= len(x.records) {
		return "", codec.Entry{}, false
	}
	r := x.records[i]
	return r.name, r.meta, true
}

// SetMetaAt overwrites the metadata of the i'th entry in place. Used by
// vacuum to rewrite offsets without disturbing the listing order.
func (x *Index) SetMetaAt(i int, meta codec.Entry) {
	x.records[i].meta = meta
}

// Names returns the entry names in insertion order.
func (x *Index) Names() []string {
	names := make([]string, len(x.records))
	for i, r := range x.records {
		names[i] = r.name
	}
	return names
}
