// Package procfs synthesizes read-only text entries from live kernel
// counters: cpuinfo, meminfo, uptime, mounts, self, and per-PID
// cmdline/stat/status/maps (spec §4.10). No file in the corpus models this; it
// follows the same "format a fixed string from live state, no
// allocation-heavy templating" idiom as internal/diag's hand-rolled
// sprintf, generalized to whole-file snapshots instead of one log line.
package procfs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"sis/internal/errno"
	"sis/internal/vfs"
)

// Source supplies the live counters procfs renders. The kernel wires a
// concrete implementation backed by buddy/sched/vfs; tests use a fake.
type Source interface {
	CPUCount() int
	MemTotalBytes() uint64
	MemFreeBytes() uint64
	UptimeSeconds() float64
	Mounts() []string // one "path fstype" string per mount
	CurrentPID() int
	TaskCmdline(pid int) (string, bool)
	TaskStat(pid int) (string, bool)
	TaskStatus(pid int) (string, bool)
	TaskMaps(pid int) ([]string, bool) // one "start-end perms offset 00:00 0 [label]" per VMA
}

type FS struct {
	mu  sync.Mutex
	src Source
}

func New(src Source) *FS {
	return &FS{src: src}
}

func (f *FS) Name() string { return "procfs" }

func (f *FS) Open(path string, flags vfs.OpenFlags, mode vfs.FileMode) (vfs.File, errno.Errno) {
	path = vfs.Clean(path)
	switch path {
	case "/cpuinfo":
		return staticFile(f.cpuinfo()), errno.OK
	case "/meminfo":
		return staticFile(f.meminfo()), errno.OK
	case "/uptime":
		return staticFile(f.uptime()), errno.OK
	case "/mounts":
		return staticFile(strings.Join(f.src.Mounts(), "\n") + "\n"), errno.OK
	case "/self":
		return staticFile(strconv.Itoa(f.src.CurrentPID())), errno.OK
	}
	if pid, field, ok := parsePidPath(path); ok {
		return f.openPidField(pid, field)
	}
	return nil, errno.ENOENT
}

func parsePidPath(path string) (pid int, field string, ok bool) {
	if !strings.HasPrefix(path, "/") {
		return 0, "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return n, parts[1], true
}

func (f *FS) openPidField(pid int, field string) (vfs.File, errno.Errno) {
	switch field {
	case "cmdline":
		s, ok := f.src.TaskCmdline(pid)
		if !ok {
			return nil, errno.ESRCH
		}
		return staticFile(s), errno.OK
	case "stat":
		s, ok := f.src.TaskStat(pid)
		if !ok {
			return nil, errno.ESRCH
		}
		return staticFile(s), errno.OK
	case "status":
		s, ok := f.src.TaskStatus(pid)
		if !ok {
			return nil, errno.ESRCH
		}
		return staticFile(s), errno.OK
	case "maps":
		lines, ok := f.src.TaskMaps(pid)
		if !ok {
			return nil, errno.ESRCH
		}
		return staticFile(strings.Join(lines, "\n") + "\n"), errno.OK
	}
	return nil, errno.ENOENT
}

func (f *FS) cpuinfo() string {
	var b strings.Builder
	for i := 0; i < f.src.CPUCount(); i++ {
		fmt.Fprintf(&b, "processor\t: %d\n", i)
	}
	return b.String()
}

func (f *FS) meminfo() string {
	total := f.src.MemTotalBytes() / 1024
	free := f.src.MemFreeBytes() / 1024
	return fmt.Sprintf("MemTotal:       %d kB\nMemFree:        %d kB\n", total, free)
}

func (f *FS) uptime() string {
	return fmt.Sprintf("%.2f 0.00\n", f.src.UptimeSeconds())
}

func (f *FS) Mkdir(path string, mode vfs.FileMode) errno.Errno { return errno.ENOTSUP }
func (f *FS) Unlink(path string) errno.Errno                   { return errno.ENOTSUP }

// staticFile wraps a pre-rendered string as a read-only vfs.File
// snapshot; procfs entries are regenerated on each Open, never mutated
// in place.
type staticHandle struct {
	data   string
	offset int
}

func staticFile(s string) vfs.File { return &staticHandle{data: s} }

func (s *staticHandle) Read(buf []byte) (int, errno.Errno) {
	if s.offset >= len(s.data) {
		return 0, errno.OK
	}
	n := copy(buf, s.data[s.offset:])
	s.offset += n
	return n, errno.OK
}
func (s *staticHandle) Write([]byte) (int, errno.Errno) { return 0, errno.EACCES }
func (s *staticHandle) Seek(offset int64, whence int) (int64, errno.Errno) {
	switch whence {
	case 0:
		s.offset = int(offset)
	case 1:
		s.offset += int(offset)
	case 2:
		s.offset = len(s.data) + int(offset)
	}
	return int64(s.offset), errno.OK
}
func (s *staticHandle) Stat() (vfs.Stat, errno.Errno) {
	return vfs.Stat{Size: int64(len(s.data)), Nlink: 1}, errno.OK
}
func (s *staticHandle) ReadDir() ([]vfs.DirEntry, errno.Errno)     { return nil, errno.ENOTDIR }
func (s *staticHandle) Close() errno.Errno                         { return errno.OK }
func (s *staticHandle) Ioctl(uint64, uintptr) (int64, errno.Errno) { return 0, errno.ENOTSUP }
