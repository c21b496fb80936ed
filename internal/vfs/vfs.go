// Package vfs implements a small virtual filesystem: a mount table
// resolving absolute paths to backend filesystems, an inode/file
// abstraction, and directory-entry iteration (spec §4.9, §4.10). No
// single file in the corpus models a VFS; the operation-table shape (a
// filesystem backend is any type satisfying FileSystem, opened files
// any type satisfying File) follows the "accept interfaces, return
// structs" idiom the pack uses throughout for hardware-facing code
// (e.g. the sdhci.go register-level driver exposes read/write block
// operations behind named functions rather than one monolithic switch).
package vfs

import (
	"sort"
	"strings"
	"sync"

	"sis/internal/errno"
)

// FileMode mirrors the subset of POSIX mode bits SIS cares about.
type FileMode uint32

const (
	ModeDir FileMode = 1 << 31
	ModeChr FileMode = 1 << 30 // character device (devfs)
)

// Stat is the subset of struct stat the fstat syscall reports (spec
// §4.13).
type Stat struct {
	Ino     uint64
	Mode    FileMode
	Size    int64
	Nlink   uint32
	UID     uint32
	GID     uint32
}

// DirEntry is one record returned by getdents64.
type DirEntry struct {
	Ino  uint64
	Name string
	Mode FileMode
}

// File is an open file description: a backend-specific cursor/handle
// returned by a FileSystem's Open.
type File interface {
	Read(buf []byte) (int, errno.Errno)
	Write(buf []byte) (int, errno.Errno)
	Seek(offset int64, whence int) (int64, errno.Errno)
	Stat() (Stat, errno.Errno)
	ReadDir() ([]DirEntry, errno.Errno)
	Close() errno.Errno
	Ioctl(req uint64, arg uintptr) (int64, errno.Errno)
}

// OpenFlags mirrors the open(2) flag bits SIS recognizes.
type OpenFlags int

const (
	OReadOnly OpenFlags = 0
	OWriteOnly OpenFlags = 1
	OReadWrite OpenFlags = 2
	OCreate    OpenFlags = 1 << 6
	OTrunc     OpenFlags = 1 << 9
	ODirectory OpenFlags = 1 << 16
)

// FileSystem is a mountable backend (ramfs, devfs, procfs, ...).
type FileSystem interface {
	// Open resolves a path relative to this filesystem's root and
	// returns an open File.
	Open(path string, flags OpenFlags, mode FileMode) (File, errno.Errno)
	// Mkdir/Unlink operate relative to this filesystem's root.
	Mkdir(path string, mode FileMode) errno.Errno
	Unlink(path string) errno.Errno
	Name() string
}

type mount struct {
	prefix string
	fs     FileSystem
}

// VFS is the global mount table and path resolver.
type VFS struct {
	mu     sync.RWMutex
	mounts []mount
}

func New() *VFS {
	return &VFS{}
}

// Mount attaches fs at prefix (an absolute path, "/" for the root
// filesystem). Longest-prefix-match resolution (spec §4.9) means mount
// order doesn't matter; Mount keeps the table sorted by descending
// prefix length.
func (v *VFS) Mount(prefix string, fs FileSystem) {
	v.mu.Lock()
	defer v.mu.Unlock()
	prefix = normalizeMountPrefix(prefix)
	v.mounts = append(v.mounts, mount{prefix: prefix, fs: fs})
	sort.Slice(v.mounts, func(i, j int) bool {
		return len(v.mounts[i].prefix) > len(v.mounts[j].prefix)
	})
}

func normalizeMountPrefix(p string) string {
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// resolve finds the filesystem mounted at the longest prefix matching
// path, and the path remainder relative to that mount.
func (v *VFS) resolve(path string) (FileSystem, string, errno.Errno) {
	path = Clean(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.mounts {
		if m.prefix == "/" {
			continue // root is the fallback, checked last
		}
		if path == m.prefix || strings.HasPrefix(path, m.prefix+"/") {
			rel := strings.TrimPrefix(path, m.prefix)
			if rel == "" {
				rel = "/"
			}
			return m.fs, rel, errno.OK
		}
	}
	for _, m := range v.mounts {
		if m.prefix == "/" {
			return m.fs, path, errno.OK
		}
	}
	return nil, "", errno.ENOENT
}

// Open resolves an absolute path and opens it on the owning backend.
// Relative paths must be joined against a task's cwd by the caller
// (spec §4.13 "openat accepts absolute paths directly; for relative
// paths it resolves against cwd").
func (v *VFS) Open(path string, flags OpenFlags, mode FileMode) (File, errno.Errno) {
	fs, rel, err := v.resolve(path)
	if err != errno.OK {
		return nil, err
	}
	return fs.Open(rel, flags, mode)
}

func (v *VFS) Mkdir(path string, mode FileMode) errno.Errno {
	fs, rel, err := v.resolve(path)
	if err != errno.OK {
		return err
	}
	return fs.Mkdir(rel, mode)
}

func (v *VFS) Unlink(path string) errno.Errno {
	fs, rel, err := v.resolve(path)
	if err != errno.OK {
		return err
	}
	return fs.Unlink(rel)
}

// Clean normalizes an absolute path, resolving "." and ".." components
// without touching the filesystem (spec §4.9 "path normalization with
// './'/'..'"). A path that escapes the root via excess ".." stays
// pinned at "/".
func Clean(path string) string {
	if path == "" {
		return "/"
	}
	abs := strings.HasPrefix(path, "/")
	parts := strings.Split(path, "/")
	var stack []string
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	joined := "/" + strings.Join(stack, "/")
	if !abs {
		// Relative input without a cwd join is still normalized the
		// same way; callers are responsible for prefixing cwd first.
		joined = strings.TrimPrefix(joined, "/")
		if joined == "" {
			joined = "."
		}
	}
	return joined
}

// Join resolves path against cwd the way openat(AT_FDCWD, path) does:
// absolute paths are used as-is, relative paths are joined to cwd, then
// the whole thing is cleaned.
func Join(cwd, path string) string {
	if strings.HasPrefix(path, "/") {
		return Clean(path)
	}
	return Clean(strings.TrimSuffix(cwd, "/") + "/" + path)
}
