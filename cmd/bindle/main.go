// Copyright 2024 The bindle Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command bindle is the front end for bindle archives: it lists,
// extracts, adds, packs, unpacks, and vacuums.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bpowers/bindle"
)

const usage = `usage: bindle <command> <archive> [arguments]

commands:
  list   <archive>                 list all entries
  cat    <archive> <name>          write an entry's contents to stdout
  add    <archive> <name> <file>   add a local file as an entry
  remove <archive> <name>          remove an entry
  pack   <archive> <dir>           pack a directory (replaces contents; -append to keep)
  unpack <archive> <dir>           extract all entries into a directory
  vacuum <archive>                 reclaim shadowed and removed data

flags (add, pack):
  -z        zstd compress
  -vacuum   run vacuum afterwards
flags (pack):
  -append   keep existing entries instead of clearing first
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	cmd, path := args[0], args[1]
	rest := args[2:]

	switch cmd {
	case "list":
		return list(path)
	case "cat":
		if len(rest) != 1 {
			return fmt.Errorf("cat: want <name>")
		}
		return cat(path, rest[0])
	case "add":
		return add(path, rest)
	case "remove":
		return remove(path, rest)
	case "pack":
		return pack(path, rest)
	case "unpack":
		if len(rest) != 1 {
			return fmt.Errorf("unpack: want <dir>")
		}
		return unpack(path, rest[0])
	case "vacuum":
		return vacuum(path)
	}
	fmt.Fprint(os.Stderr, usage)
	os.Exit(1)
	return nil
}

func list(path string) error {
	fmt.Printf("%-30s %-12s %-12s %s\n", "NAME", "SIZE", "PACKED", "RATIO")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	a, err := bindle.Load(path)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, name := range a.Names() {
		info, _ := a.Stat(name)
		ratio := 100.0
		if info.Size > 0 {
			ratio = float64(info.StoredSize) / float64(info.Size) * 100.0
		}
		fmt.Printf("%-30s %-12d %-12d %.1f%%\n", name, info.Size, info.StoredSize, ratio)
	}
	return nil
}

func cat(path, name string) error {
	a, err := bindle.Load(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.ReadTo(name, os.Stdout); err != nil {
		return err
	}
	return nil
}

func add(path string, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	compressFlag := fs.Bool("z", false, "zstd compress")
	vacuumFlag := fs.Bool("vacuum", false, "run vacuum afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("add: want <name> <file>")
	}
	name, file := fs.Arg(0), fs.Arg(1)

	a, err := bindle.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := a.Add(name, data, selector(*compressFlag)); err != nil {
		return err
	}
	fmt.Printf("ADD '%s' -> %s (%d bytes)\n", name, path, len(data))
	if err := a.Save(); err != nil {
		return err
	}
	if *vacuumFlag {
		return a.Vacuum()
	}
	return nil
}

func remove(path string, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	vacuumFlag := fs.Bool("vacuum", false, "run vacuum afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("remove: want <name>")
	}
	name := fs.Arg(0)

	a, err := bindle.Load(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Remove(name) {
		return fmt.Errorf("'%s' not found in %s", name, path)
	}
	if err := a.Save(); err != nil {
		return err
	}
	if *vacuumFlag {
		return a.Vacuum()
	}
	return nil
}

func pack(path string, args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	compressFlag := fs.Bool("z", false, "zstd compress")
	appendFlag := fs.Bool("append", false, "keep existing entries")
	vacuumFlag := fs.Bool("vacuum", false, "run vacuum afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("pack: want <dir>")
	}
	dir := fs.Arg(0)

	a, err := bindle.Open(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if !*appendFlag {
		a.Clear()
	}
	fmt.Printf("PACK %s -> %s\n", dir, path)
	if err := a.Pack(dir, selector(*compressFlag)); err != nil {
		return err
	}
	if err := a.Save(); err != nil {
		return err
	}
	if *vacuumFlag {
		return a.Vacuum()
	}
	return nil
}

func unpack(path, dir string) error {
	a, err := bindle.Load(path)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("UNPACK %s -> %s\n", path, dir)
	return a.Unpack(dir)
}

func vacuum(path string) error {
	a, err := bindle.Load(path)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("VACUUM %s\n", path)
	return a.Vacuum()
}

func selector(compress bool) bindle.Compression {
	if compress {
		return bindle.CompressZstd
	}
	return bindle.CompressNone
}
