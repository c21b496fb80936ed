// Package devfs backs /dev: console, null, zero, ptmx, and up to 256
// allocated pts slaves (spec §4.10). console is wired to internal/diag's
// Sink interface so writes to /dev/console reach every registered
// diagnostic sink (UART, framebuffer), the same multi-sink fan-out the
// kernel.go's uartPuts-family functions perform by hand across their several
// direct/ring-buffer/framebuffer paths.
package devfs

import (
	"sync"

	"sis/internal/diag"
	"sis/internal/errno"
	"sis/internal/fs/pty"
	"sis/internal/vfs"
)

const MaxPTYs = 256

// FS is the /dev backend.
type FS struct {
	mu    sync.Mutex
	ptys  map[int]*pty.Pair
	nextN int
}

func New() *FS {
	return &FS{ptys: make(map[int]*pty.Pair)}
}

func (f *FS) Name() string { return "devfs" }

func (f *FS) Open(path string, flags vfs.OpenFlags, mode vfs.FileMode) (vfs.File, errno.Errno) {
	switch path {
	case "/", "":
		return &dirHandle{fs: f}, errno.OK
	case "/console":
		return &consoleHandle{}, errno.OK
	case "/null":
		return &nullHandle{}, errno.OK
	case "/zero":
		return &zeroHandle{}, errno.OK
	case "/ptmx":
		return f.openNewPTY()
	}
	if n, ok := parsePtsPath(path); ok {
		f.mu.Lock()
		p, ok := f.ptys[n]
		f.mu.Unlock()
		if !ok {
			return nil, errno.ENOENT
		}
		return &ptsSlaveHandle{pair: p}, errno.OK
	}
	return nil, errno.ENOENT
}

func parsePtsPath(path string) (int, bool) {
	const prefix = "/pts/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return 0, false
	}
	n := 0
	for _, c := range path[len(prefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func (f *FS) openNewPTY() (vfs.File, errno.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextN >= MaxPTYs {
		return nil, errno.ENOSPC
	}
	n := f.nextN
	f.nextN++
	p := pty.NewPair(n)
	f.ptys[n] = p
	return &ptmxHandle{pair: p}, errno.OK
}

func (f *FS) Mkdir(path string, mode vfs.FileMode) errno.Errno { return errno.ENOTSUP }
func (f *FS) Unlink(path string) errno.Errno                   { return errno.ENOTSUP }

// consoleHandle fans writes out to every registered diag.Sink and
// currently has no readable input source (console input arrives via a
// pty in a full terminal setup; a bare serial console is write-only
// here).
type consoleHandle struct{}

func (c *consoleHandle) Read(buf []byte) (int, errno.Errno) { return 0, errno.OK }
func (c *consoleHandle) Write(buf []byte) (int, errno.Errno) {
	diag.Print(string(buf))
	return len(buf), errno.OK
}
func (c *consoleHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.ENOTSUP }
func (c *consoleHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeChr, Nlink: 1}, errno.OK
}
func (c *consoleHandle) ReadDir() ([]vfs.DirEntry, errno.Errno) { return nil, errno.ENOTDIR }
func (c *consoleHandle) Close() errno.Errno                     { return errno.OK }
func (c *consoleHandle) Ioctl(uint64, uintptr) (int64, errno.Errno) { return 0, errno.ENOTSUP }

type nullHandle struct{}

func (n *nullHandle) Read(buf []byte) (int, errno.Errno)  { return 0, errno.OK }
func (n *nullHandle) Write(buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (n *nullHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.OK }
func (n *nullHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeChr, Nlink: 1}, errno.OK
}
func (n *nullHandle) ReadDir() ([]vfs.DirEntry, errno.Errno)     { return nil, errno.ENOTDIR }
func (n *nullHandle) Close() errno.Errno                         { return errno.OK }
func (n *nullHandle) Ioctl(uint64, uintptr) (int64, errno.Errno) { return 0, errno.ENOTSUP }

type zeroHandle struct{}

func (z *zeroHandle) Read(buf []byte) (int, errno.Errno) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), errno.OK
}
func (z *zeroHandle) Write(buf []byte) (int, errno.Errno) { return len(buf), errno.OK }
func (z *zeroHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.OK }
func (z *zeroHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeChr, Nlink: 1}, errno.OK
}
func (z *zeroHandle) ReadDir() ([]vfs.DirEntry, errno.Errno)     { return nil, errno.ENOTDIR }
func (z *zeroHandle) Close() errno.Errno                         { return errno.OK }
func (z *zeroHandle) Ioctl(uint64, uintptr) (int64, errno.Errno) { return 0, errno.ENOTSUP }

// ptmxHandle is the master side returned by opening /dev/ptmx.
type ptmxHandle struct{ pair *pty.Pair }

func (p *ptmxHandle) Read(buf []byte) (int, errno.Errno)  { return p.pair.MasterRead(buf) }
func (p *ptmxHandle) Write(buf []byte) (int, errno.Errno) { return p.pair.MasterWrite(buf), errno.OK }
func (p *ptmxHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.ENOTSUP }
func (p *ptmxHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeChr, Nlink: 1}, errno.OK
}
func (p *ptmxHandle) ReadDir() ([]vfs.DirEntry, errno.Errno) { return nil, errno.ENOTDIR }
func (p *ptmxHandle) Close() errno.Errno                     { return errno.OK }
func (p *ptmxHandle) Ioctl(req uint64, arg uintptr) (int64, errno.Errno) {
	return p.pair.Ioctl(req, nil, nil)
}

// ptsSlaveHandle is what an application opening /dev/pts/N gets.
type ptsSlaveHandle struct{ pair *pty.Pair }

func (p *ptsSlaveHandle) Read(buf []byte) (int, errno.Errno)  { return p.pair.SlaveRead(buf) }
func (p *ptsSlaveHandle) Write(buf []byte) (int, errno.Errno) { return p.pair.SlaveWrite(buf), errno.OK }
func (p *ptsSlaveHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.ENOTSUP }
func (p *ptsSlaveHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeChr, Nlink: 1}, errno.OK
}
func (p *ptsSlaveHandle) ReadDir() ([]vfs.DirEntry, errno.Errno) { return nil, errno.ENOTDIR }
func (p *ptsSlaveHandle) Close() errno.Errno                     { return errno.OK }
func (p *ptsSlaveHandle) Ioctl(req uint64, arg uintptr) (int64, errno.Errno) {
	return p.pair.Ioctl(req, nil, nil)
}

type dirHandle struct{ fs *FS }

func (d *dirHandle) Read([]byte) (int, errno.Errno)  { return 0, errno.EISDIR }
func (d *dirHandle) Write([]byte) (int, errno.Errno) { return 0, errno.EISDIR }
func (d *dirHandle) Seek(int64, int) (int64, errno.Errno) { return 0, errno.EISDIR }
func (d *dirHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Mode: vfs.ModeDir, Nlink: 1}, errno.OK
}
func (d *dirHandle) ReadDir() ([]vfs.DirEntry, errno.Errno) {
	names := []string{"console", "null", "zero", "ptmx"}
	out := make([]vfs.DirEntry, 0, len(names))
	for _, n := range names {
		out = append(out, vfs.DirEntry{Name: n, Mode: vfs.ModeChr})
	}
	return out, errno.OK
}
func (d *dirHandle) Close() errno.Errno                         { return errno.OK }
func (d *dirHandle) Ioctl(uint64, uintptr) (int64, errno.Errno) { return 0, errno.ENOTSUP }
