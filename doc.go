// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bindle implements a single-file, append-only archive of named
// byte-blobs with optional per-entry zstd compression, CRC-32 integrity
// checking, and memory-mapped zero-copy reads of uncompressed entries.
//
// Updates shadow: adding an existing name appends fresh data and
// repoints the in-memory entry, leaving the old bytes unreferenced until
// Vacuum compacts them away. Save publishes the current index by
// rewriting the trailing index and footer; until then, changes are
// visible only to the handle that made them.
//
//	a, err := bindle.Open("assets.bndl")
//	if err != nil { ... }
//	defer a.Close()
//
//	_ = a.Add("logo.png", logoBytes, bindle.CompressAuto)
//	if err := a.Save(); err != nil { ... }
//
//	data, err := a.Read("logo.png")
package bindle
