// Package ramfs is SIS's root filesystem: an in-memory tree of files
// and directories, created fresh at boot and populated by the initramfs
// loader (spec §4.10, §4.11). Grounded on the same in-memory, no-backing-
// store shape heap.go uses for kmalloc-backed structures (no real
// storage device involved), generalized here into a full tree with
// directories rather than a flat buffer.
package ramfs

import (
	"strings"
	"sync"

	"sis/internal/errno"
	"sis/internal/vfs"
)

type node struct {
	mu       sync.RWMutex
	name     string
	isDir    bool
	mode     vfs.FileMode
	data     []byte
	children map[string]*node
	ino      uint64
}

func newDir(name string, ino uint64) *node {
	return &node{name: name, isDir: true, mode: vfs.ModeDir, children: make(map[string]*node), ino: ino}
}

// FS is a ramfs instance, safe for concurrent use.
type FS struct {
	mu      sync.RWMutex
	root    *node
	nextIno uint64
}

func New() *FS {
	return &FS{root: newDir("/", 1), nextIno: 2}
}

func (f *FS) Name() string { return "ramfs" }

func splitPath(p string) []string {
	p = vfs.Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// walk returns the node at path and its parent, creating intermediate
// directories when create is true.
func (f *FS) walk(path string, createDirs bool) (parent *node, n *node, name string, err errno.Errno) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, f.root, "/", errno.OK
	}
	cur := f.root
	for i, part := range parts {
		last := i == len(parts)-1
		cur.mu.Lock()
		child, ok := cur.children[part]
		if !ok {
			if last || !createDirs {
				cur.mu.Unlock()
				if last {
					return cur, nil, part, errno.ENOENT
				}
				return nil, nil, "", errno.ENOENT
			}
			f.mu.Lock()
			ino := f.nextIno
			f.nextIno++
			f.mu.Unlock()
			child = newDir(part, ino)
			cur.children[part] = child
		}
		if last {
			cur.mu.Unlock()
			return cur, child, part, errno.OK
		}
		if !child.isDir {
			cur.mu.Unlock()
			return nil, nil, "", errno.ENOTDIR
		}
		cur.mu.Unlock()
		cur = child
	}
	return nil, nil, "", errno.ENOENT
}

// Open implements vfs.FileSystem. OCreate creates a missing regular
// file; directories are only openable for ReadDir.
func (f *FS) Open(path string, flags vfs.OpenFlags, mode vfs.FileMode) (vfs.File, errno.Errno) {
	parent, n, name, err := f.walk(path, false)
	if err == errno.ENOENT && flags&vfs.OCreate != 0 && parent != nil {
		f.mu.Lock()
		ino := f.nextIno
		f.nextIno++
		f.mu.Unlock()
		parent.mu.Lock()
		n = &node{name: name, mode: mode, ino: ino}
		parent.children[name] = n
		parent.mu.Unlock()
		err = errno.OK
	}
	if err != errno.OK {
		return nil, err
	}
	if flags&vfs.OTrunc != 0 && !n.isDir {
		n.mu.Lock()
		n.data = nil
		n.mu.Unlock()
	}
	return &handle{n: n}, errno.OK
}

func (f *FS) Mkdir(path string, mode vfs.FileMode) errno.Errno {
	parent, n, name, err := f.walk(path, true)
	if err == errno.OK && n != nil {
		return errno.EEXIST
	}
	if parent == nil {
		return errno.ENOENT
	}
	f.mu.Lock()
	ino := f.nextIno
	f.nextIno++
	f.mu.Unlock()
	parent.mu.Lock()
	parent.children[name] = newDir(name, ino)
	parent.mu.Unlock()
	return errno.OK
}

func (f *FS) Unlink(path string) errno.Errno {
	parent, n, name, err := f.walk(path, false)
	if err != errno.OK {
		return err
	}
	if n.isDir {
		return errno.EISDIR
	}
	parent.mu.Lock()
	delete(parent.children, name)
	parent.mu.Unlock()
	return errno.OK
}

// handle is an open file description over a ramfs node.
type handle struct {
	n      *node
	offset int64
}

func (h *handle) Read(buf []byte) (int, errno.Errno) {
	h.n.mu.RLock()
	defer h.n.mu.RUnlock()
	if h.n.isDir {
		return 0, errno.EISDIR
	}
	if h.offset >= int64(len(h.n.data)) {
		return 0, errno.OK
	}
	n := copy(buf, h.n.data[h.offset:])
	h.offset += int64(n)
	return n, errno.OK
}

func (h *handle) Write(buf []byte) (int, errno.Errno) {
	h.n.mu.Lock()
	defer h.n.mu.Unlock()
	if h.n.isDir {
		return 0, errno.EISDIR
	}
	end := h.offset + int64(len(buf))
	if end > int64(len(h.n.data)) {
		grown := make([]byte, end)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	n := copy(h.n.data[h.offset:end], buf)
	h.offset += int64(n)
	return n, errno.OK
}

func (h *handle) Seek(offset int64, whence int) (int64, errno.Errno) {
	switch whence {
	case 0:
		h.offset = offset
	case 1:
		h.offset += offset
	case 2:
		h.n.mu.RLock()
		h.offset = int64(len(h.n.data)) + offset
		h.n.mu.RUnlock()
	default:
		return 0, errno.EINVAL
	}
	if h.offset < 0 {
		h.offset = 0
		return 0, errno.EINVAL
	}
	return h.offset, errno.OK
}

func (h *handle) Stat() (vfs.Stat, errno.Errno) {
	h.n.mu.RLock()
	defer h.n.mu.RUnlock()
	mode := h.n.mode
	if h.n.isDir {
		mode |= vfs.ModeDir
	}
	return vfs.Stat{Ino: h.n.ino, Mode: mode, Size: int64(len(h.n.data)), Nlink: 1}, errno.OK
}

func (h *handle) ReadDir() ([]vfs.DirEntry, errno.Errno) {
	h.n.mu.RLock()
	defer h.n.mu.RUnlock()
	if !h.n.isDir {
		return nil, errno.ENOTDIR
	}
	out := make([]vfs.DirEntry, 0, len(h.n.children))
	for name, c := range h.n.children {
		mode := c.mode
		if c.isDir {
			mode |= vfs.ModeDir
		}
		out = append(out, vfs.DirEntry{Ino: c.ino, Name: name, Mode: mode})
	}
	return out, errno.OK
}

func (h *handle) Close() errno.Errno { return errno.OK }

func (h *handle) Ioctl(req uint64, arg uintptr) (int64, errno.Errno) {
	return 0, errno.ENOTSUP
}

// MkdirAll creates every missing component of path, used by the
// initramfs loader (spec §4.11 "create parent directories as needed").
func (f *FS) MkdirAll(path string) errno.Errno {
	err := f.Mkdir(path, vfs.ModeDir)
	if err == errno.OK || err == errno.EEXIST {
		return errno.OK
	}
	return err
}

// WriteFile creates (or truncates) path and writes data in one step,
// used by the initramfs loader for each non-trailer cpio record.
func (f *FS) WriteFile(path string, data []byte, mode vfs.FileMode) errno.Errno {
	file, err := f.Open(path, vfs.OCreate|vfs.OTrunc|vfs.OWriteOnly, mode)
	if err != errno.OK {
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != errno.OK {
		return err
	}
	return errno.OK
}
