// Package initramfs parses a newc-format cpio archive embedded as a byte
// slice and populates a ramfs tree (spec §4.11). Malformed input aborts
// boot, mirroring kernel.go's abortBoot path for other unrecoverable
// bring-up failures (its sdhciInit/MMU failure handling) via
// internal/diag.Panic rather than a direct QemuExit call.
package initramfs

import (
	"fmt"
	"strconv"

	"sis/internal/errno"
	"sis/internal/vfs"
)

const (
	magic      = "070701"
	headerSize = 110 // 6-byte magic + 13 8-hex-digit fields
	trailer    = "TRAILER!!!"
)

// Target is the subset of ramfs.FS that Load needs, accepted as an
// interface to keep this package independent of the ramfs
// implementation.
type Target interface {
	MkdirAll(path string) errno.Errno
	WriteFile(path string, data []byte, mode vfs.FileMode) errno.Errno
}

type record struct {
	mode     uint32
	fileSize uint32
	nameSize uint32
	name     string
	data     []byte
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// Load walks blob and writes every non-trailer record into target,
// creating parent directories as needed (spec §4.11). It returns an
// error rather than aborting directly so the caller (cmd/kernel) decides
// how to fail; cmd/kernel is expected to call diag.Panic on a non-OK
// result, per spec "errors ... abort boot".
func Load(blob []byte, target Target) error {
	off := 0
	for {
		rec, next, err := parseRecord(blob, off)
		if err != nil {
			return err
		}
		if rec.name == trailer {
			return nil
		}
		if err := apply(target, rec); err != nil {
			return err
		}
		off = next
	}
}

func parseRecord(blob []byte, off int) (record, int, error) {
	if off+headerSize > len(blob) {
		return record{}, 0, fmt.Errorf("initramfs: truncated header at offset %d", off)
	}
	if string(blob[off:off+6]) != magic {
		return record{}, 0, fmt.Errorf("initramfs: bad magic at offset %d", off)
	}
	hex := func(fieldIdx int) (uint32, error) {
		start := off + 6 + fieldIdx*8
		v, err := strconv.ParseUint(string(blob[start:start+8]), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("initramfs: malformed hex field at offset %d: %w", start, err)
		}
		return uint32(v), nil
	}

	// Field order: ino, mode, uid, gid, nlink, mtime, filesize,
	// devmajor, devminor, rdevmajor, rdevminor, namesize, check.
	mode, err := hex(1)
	if err != nil {
		return record{}, 0, err
	}
	fileSize, err := hex(6)
	if err != nil {
		return record{}, 0, err
	}
	nameSize, err := hex(11)
	if err != nil {
		return record{}, 0, err
	}

	nameStart := off + headerSize
	nameEnd := nameStart + int(nameSize)
	if nameSize == 0 || nameEnd > len(blob) {
		return record{}, 0, fmt.Errorf("initramfs: name too long or zero at offset %d", off)
	}
	name := string(blob[nameStart : nameEnd-1]) // drop trailing NUL

	dataStart := off + align4(headerSize+int(nameSize))
	dataEnd := dataStart + int(fileSize)
	if dataEnd < dataStart || dataEnd > len(blob) {
		return record{}, 0, fmt.Errorf("initramfs: data overflow at offset %d", off)
	}
	data := blob[dataStart:dataEnd]

	next := align4(dataEnd)
	return record{mode: mode, fileSize: fileSize, nameSize: nameSize, name: name, data: data}, next, nil
}

const modeDirBit = 0o040000

func apply(target Target, rec record) error {
	dir := parentDir(rec.name)
	if dir != "" {
		if err := target.MkdirAll("/" + dir); err != errno.OK && err != errno.EEXIST {
			return fmt.Errorf("initramfs: mkdir %q: %v", dir, err)
		}
	}
	if rec.mode&modeDirBit != 0 {
		if err := target.MkdirAll("/" + rec.name); err != errno.OK && err != errno.EEXIST {
			return fmt.Errorf("initramfs: mkdir %q: %v", rec.name, err)
		}
		return nil
	}
	if err := target.WriteFile("/"+rec.name, rec.data, vfs.FileMode(rec.mode)); err != errno.OK {
		return fmt.Errorf("initramfs: write %q: %v", rec.name, err)
	}
	return nil
}

func parentDir(name string) string {
	last := -1
	for i, c := range name {
		if c == '/' {
			last = i
		}
	}
	if last < 0 {
		return ""
	}
	return name[:last]
}
