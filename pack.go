// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bindle

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// AddFile streams the file at path into the archive under name. Because
// the size is not known up front this goes through the streaming
// writer, so CompressAuto resolves to raw; use Pack or Add when the
// auto heuristic should apply.
func (a *Archive) AddFile(name, path string, c Compression) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w, err := a.NewWriter(name, c)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Discard()
		return err
	}
	return w.Close()
}

// ReadTo streams the named entry into w and verifies its CRC once the
// copy completes. It returns the number of (decompressed) bytes
// written.
func (a *Archive) ReadTo(name string, w io.Writer) (int64, error) {
	r, err := a.NewReader(name)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = r.Close()
	}()

	n, err := io.Copy(w, r)
	if err != nil {
		return n, err
	}
	if !r.VerifyCRC32() {
		return n, fmt.Errorf("%w: %q: crc32 mismatch", ErrCorruptData, name)
	}
	return n, nil
}

// Pack recursively adds every regular file under dir, named by its
// slash-separated path relative to dir. Save is required to persist the
// result.
func (a *Archive) Pack(dir string, c Compression) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return a.Add(filepath.ToSlash(rel), data, c)
	})
}

// Unpack extracts every entry into dest, creating subdirectories to
// match the stored paths. Entry names must be valid relative slash
// paths; anything that could escape dest is rejected.
func (a *Archive) Unpack(dest string) error {
	for _, name := range a.Names() {
		if !fs.ValidPath(name) {
			return fmt.Errorf("%w: %q is not a valid relative path", ErrInvalidName, name)
		}
		data, err := a.Read(name)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
