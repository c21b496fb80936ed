// Package syscall implements the minimum syscall set SIS serves to user
// tasks (spec §4.13), tying together internal/task, internal/sched,
// internal/vfs, internal/vmm, and internal/elf. The number-to-handler
// switch mirrors the shape of exceptions.go's HandleSyscall,
// but where that function fabricates fixed responses for
// an emulated Go runtime (write always "succeeds", openat always
// ENOENT), every case here does the real, stateful operation against a
// process table and a mounted VFS.
package syscall

import (
	"sync"
	"sync/atomic"

	"sis/internal/elf"
	"sis/internal/errno"
	"sis/internal/sched"
	"sis/internal/task"
	"sis/internal/vfs"
	"sis/internal/vmm"
)

// Syscall numbers, aarch64 Linux convention (spec §4.13 "Syscall
// numbers").
const (
	SysIoctl      = 29
	SysChdir      = 49
	SysOpenat     = 56
	SysClose      = 57
	SysLseek      = 62
	SysRead       = 63
	SysWrite      = 64
	SysGetdents64 = 61
	SysGetcwd     = 79
	SysFstat      = 80
	SysExit       = 93
	SysGetpid     = 172
	SysBrk        = 214
	SysMunmap     = 215
	SysFork       = 220
	SysExecve     = 221
	SysMmap       = 222
	SysWait4      = 260
)

// AtFDCWD is the dirfd sentinel meaning "relative to the caller's cwd".
// openat with any other dirfd is unimplemented (spec §4.13 edge case).
const AtFDCWD = -100

// MaxOpenFiles bounds one task's open-file table (spec §4.13 "dense
// fixed bound (default 256)").
const MaxOpenFiles = 256

// MaxProcs bounds total live tasks, approximating RLIMIT_NPROC (spec
// §4.13 "Resource limits").
const MaxProcs = 4096

const heapBase = 0x10000000
const heapMax = heapBase + 64*1024*1024
const mmapHint = 0x40000000
const stackTop = uintptr(0x7FFFFFFF0000)

// FrameAllocator is the subset of *buddy.Allocator execve needs to build
// a fresh address space for the replaced image.
type FrameAllocator interface {
	AllocPages(order int) (uintptr, errno.Errno)
	FreePages(addr uintptr, order int)
}

type openFile struct {
	file     vfs.File
	refcount int32
}

// Table is the syscall dispatcher: the global open-file table plus
// references to the subsystems syscalls operate on. One Table is shared
// by every CPU; per-task state lives on the task.Task itself.
type Table struct {
	mu    sync.Mutex
	files map[int64]*openFile
	nextH int64

	VFS    *vfs.VFS
	Sched  *sched.Scheduler
	Frames FrameAllocator

	nextPID int32
	nProcs  int32
}

// New builds a dispatcher. firstFreePID seeds PID allocation for fork
// (PID 1, "init", is expected to already exist by the time any fork
// happens).
func New(v *vfs.VFS, s *sched.Scheduler, frames FrameAllocator, firstFreePID int32) *Table {
	return &Table{
		files:   make(map[int64]*openFile),
		VFS:     v,
		Sched:   s,
		Frames:  frames,
		nextPID: firstFreePID,
	}
}

// Dispatch executes one syscall, matching trap.SyscallFunc's signature.
func (t *Table) Dispatch(cpuID int, cur *task.Task, num uint64, args [6]uint64) int64 {
	switch num {
	case SysGetpid:
		return int64(cur.PID)
	case SysExit:
		return t.sysExit(cpuID, cur, int32(args[0]))
	case SysBrk:
		return t.sysBrk(cur, uintptr(args[0]))
	case SysMmap:
		return t.sysMmap(cur, args)
	case SysMunmap:
		return t.sysMunmap(cur, args)
	case SysOpenat:
		return t.sysOpenat(cur, args)
	case SysClose:
		return t.sysClose(cur, int(args[0]))
	case SysRead:
		return t.sysRead(cur, args)
	case SysWrite:
		return t.sysWrite(cur, args)
	case SysLseek:
		return t.sysLseek(cur, args)
	case SysFstat:
		return t.sysFstat(cur, args)
	case SysGetdents64:
		return t.sysGetdents64(cur, args)
	case SysGetcwd:
		return t.sysGetcwd(cur, args)
	case SysChdir:
		return t.sysChdir(cur, args)
	case SysIoctl:
		return t.sysIoctl(cur, args)
	case SysFork:
		return t.sysFork(cur)
	case SysWait4:
		return t.sysWait4(cpuID, cur, args)
	case SysExecve:
		return t.sysExecve(cur, args)
	default:
		return errno.SyscallResult(0, errno.ENOSYS)
	}
}

func (t *Table) sysExit(cpuID int, cur *task.Task, code int32) int64 {
	cur.MarkExit(int(code))
	t.Sched.BlockCurrent(cpuID)
	atomic.AddInt32(&t.nProcs, -1)
	if parent, ok := t.Sched.Lookup(cur.PPID); ok && parent.State == task.Sleeping {
		parent.Wake()
		t.Sched.Requeue(parent)
	}
	return 0
}

// sysBrk models the heap as one large VMA reserved lazily on first call
// and demand-paged by the VMM; addresses below the current break are
// tracked but not unmapped, a simplification over a real incremental
// brk.
func (t *Table) sysBrk(cur *task.Task, addr uintptr) int64 {
	if cur.Brk == 0 {
		cur.Brk = heapBase
		cur.AddressSpace.MapVMA(vmm.VMA{Start: heapBase, End: heapMax, Perm: vmm.PermRead | vmm.PermWrite, Backing: vmm.BackingAnonymous})
	}
	if addr == 0 {
		return int64(cur.Brk)
	}
	if addr < heapBase || addr > heapMax {
		return errno.SyscallResult(0, errno.ENOMEM)
	}
	cur.Brk = addr
	return int64(addr)
}

func permFromProt(prot uint32) vmm.Perm {
	var p vmm.Perm
	if prot&0x1 != 0 {
		p |= vmm.PermRead
	}
	if prot&0x2 != 0 {
		p |= vmm.PermWrite
	}
	if prot&0x4 != 0 {
		p |= vmm.PermExec
	}
	return p
}

func pageFloor(v uintptr) uintptr { return v &^ (vmm.PageSize - 1) }
func pageCeil(v uintptr) uintptr  { return (v + vmm.PageSize - 1) &^ (vmm.PageSize - 1) }

func (t *Table) sysMmap(cur *task.Task, args [6]uint64) int64 {
	addr := uintptr(args[0])
	length := pageCeil(uintptr(args[1]))
	if length == 0 {
		return errno.SyscallResult(0, errno.EINVAL)
	}
	perm := permFromProt(uint32(args[2]))
	if perm.Has(vmm.PermWrite) && perm.Has(vmm.PermExec) {
		return errno.SyscallResult(0, errno.EINVAL)
	}
	var start uintptr
	if addr != 0 {
		start = pageFloor(addr)
	} else {
		start = cur.AddressSpace.FindFreeRange(mmapHint, length)
	}
	if e := cur.AddressSpace.MapVMA(vmm.VMA{Start: start, End: start + length, Perm: perm, Backing: vmm.BackingAnonymous}); e != errno.OK {
		return errno.SyscallResult(0, errno.ENOMEM)
	}
	return int64(start)
}

func (t *Table) sysMunmap(cur *task.Task, args [6]uint64) int64 {
	start := pageFloor(uintptr(args[0]))
	length := pageCeil(uintptr(args[1]))
	cur.AddressSpace.UnmapRange(start, start+length)
	return 0
}

func (t *Table) lowestFreeFD(cur *task.Task) int {
	for fd := 0; fd < MaxOpenFiles; fd++ {
		if _, ok := cur.Files[fd]; !ok {
			return fd
		}
	}
	return -1
}

// BindFD opens path and installs it at fd in cur's file table, used by
// cmd/kernel to bind a freshly spawned task's fds 0-2 to /dev/console
// before it is first dispatched (spec §4.12, §3 "FD 0/1/2 default to the
// console device").
func (t *Table) BindFD(cur *task.Task, fd int, path string) errno.Errno {
	f, e := t.VFS.Open(path, vfs.OReadWrite, 0)
	if e != errno.OK {
		return e
	}
	cur.Files[fd] = &task.FD{Handle: t.newHandle(f)}
	return errno.OK
}

func (t *Table) newHandle(f vfs.File) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.nextH
	t.nextH++
	t.files[h] = &openFile{file: f, refcount: 1}
	return h
}

func (t *Table) lookupHandle(h int64) (*openFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[h]
	return of, ok
}

func (t *Table) releaseHandle(h int64) {
	t.mu.Lock()
	of, ok := t.files[h]
	if !ok {
		t.mu.Unlock()
		return
	}
	of.refcount--
	closeIt := of.refcount <= 0
	if closeIt {
		delete(t.files, h)
	}
	t.mu.Unlock()
	if closeIt {
		of.file.Close()
	}
}

func (t *Table) fdFile(cur *task.Task, fd int) (*openFile, errno.Errno) {
	entry, ok := cur.Files[fd]
	if !ok {
		return nil, errno.EBADF
	}
	of, ok := t.lookupHandle(entry.Handle)
	if !ok {
		return nil, errno.EBADF
	}
	return of, errno.OK
}

func (t *Table) sysOpenat(cur *task.Task, args [6]uint64) int64 {
	dirfd := int64(int32(args[0]))
	if dirfd != AtFDCWD {
		return errno.SyscallResult(0, errno.ENOTSUP)
	}
	path, e := copyInString(cur.AddressSpace, uintptr(args[1]), maxPathLen)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	fd := t.lowestFreeFD(cur)
	if fd < 0 {
		return errno.SyscallResult(0, errno.EMFILE)
	}
	full := vfs.Join(cur.Cwd, path)
	f, e := t.VFS.Open(full, vfs.OpenFlags(args[2]), vfs.FileMode(args[3]))
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	handle := t.newHandle(f)
	cur.Files[fd] = &task.FD{Handle: handle}
	return int64(fd)
}

func (t *Table) sysClose(cur *task.Task, fd int) int64 {
	entry, ok := cur.Files[fd]
	if !ok {
		return errno.SyscallResult(0, errno.EBADF)
	}
	delete(cur.Files, fd)
	t.releaseHandle(entry.Handle)
	return 0
}

func (t *Table) sysRead(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	count := int(args[2])
	buf := make([]byte, count)
	n, e := of.file.Read(buf)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	if e := copyOutBytes(cur.AddressSpace, uintptr(args[1]), buf[:n]); e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return int64(n)
}

func (t *Table) sysWrite(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	count := int(args[2])
	buf, e := copyInBytes(cur.AddressSpace, uintptr(args[1]), count)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	n, e := of.file.Write(buf)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return int64(n)
}

func (t *Table) sysLseek(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	off, e := of.file.Seek(int64(args[1]), int(args[2]))
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return off
}

// statSize is the byte length of the simplified stat layout sysFstat
// writes: ino, mode, size, nlink, uid, gid as fixed-width little-endian
// fields. It is not struct stat's real ABI layout (spec carries no libc
// compatibility requirement); a real libc would need a translation shim
// on top of this.
const statSize = 8 + 4 + 8 + 4 + 4 + 4

func encodeStat(st vfs.Stat) []byte {
	buf := make([]byte, statSize)
	putLeUint64(buf[0:], st.Ino)
	putLeUint32(buf[8:], uint32(st.Mode))
	putLeUint64(buf[12:], uint64(st.Size))
	putLeUint32(buf[20:], st.Nlink)
	putLeUint32(buf[24:], st.UID)
	putLeUint32(buf[28:], st.GID)
	return buf
}

func (t *Table) sysFstat(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	st, e := of.file.Stat()
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	if e := copyOutBytes(cur.AddressSpace, uintptr(args[1]), encodeStat(st)); e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return 0
}

// encodeDirents lays out entries as Linux dirent64 records (d_ino,
// d_off, d_reclen, d_type, NUL-terminated d_name padded to 8 bytes),
// truncating to fit within capacity bytes the way getdents64 does when
// the caller's buffer is too small for every entry.
func encodeDirents(entries []vfs.DirEntry, capacity int) []byte {
	var out []byte
	for i, ent := range entries {
		nameBytes := append([]byte(ent.Name), 0)
		recLen := (19 + len(nameBytes) + 7) &^ 7
		if len(out)+recLen > capacity {
			break
		}
		rec := make([]byte, recLen)
		putLeUint64(rec[0:], ent.Ino)
		putLeUint64(rec[8:], uint64(i+1))
		rec[16] = byte(recLen)
		rec[17] = byte(recLen >> 8)
		rec[18] = direntType(ent.Mode)
		copy(rec[19:], nameBytes)
		out = append(out, rec...)
	}
	return out
}

func direntType(mode vfs.FileMode) byte {
	if mode&vfs.ModeDir != 0 {
		return 4 // DT_DIR
	}
	if mode&vfs.ModeChr != 0 {
		return 2 // DT_CHR
	}
	return 8 // DT_REG
}

func (t *Table) sysGetdents64(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	entries, e := of.file.ReadDir()
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	buf := encodeDirents(entries, int(args[2]))
	if e := copyOutBytes(cur.AddressSpace, uintptr(args[1]), buf); e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return int64(len(buf))
}

func (t *Table) sysGetcwd(cur *task.Task, args [6]uint64) int64 {
	size := int(args[1])
	b := append([]byte(cur.Cwd), 0)
	if len(b) > size {
		return errno.SyscallResult(0, errno.E2BIG)
	}
	if e := copyOutBytes(cur.AddressSpace, uintptr(args[0]), b); e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return int64(len(b))
}

func (t *Table) sysChdir(cur *task.Task, args [6]uint64) int64 {
	path, e := copyInString(cur.AddressSpace, uintptr(args[0]), maxPathLen)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	full := vfs.Join(cur.Cwd, path)
	f, e := t.VFS.Open(full, vfs.ODirectory, 0)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	f.Close()
	cur.Cwd = full
	return 0
}

func (t *Table) sysIoctl(cur *task.Task, args [6]uint64) int64 {
	fd := int(args[0])
	of, e := t.fdFile(cur, fd)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	res, e := of.file.Ioctl(args[1], uintptr(args[2]))
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	return res
}

// maxPageRefcount bounds COW sharing depth; Fork refuses rather than risk
// wrapping the refcount (spec §4.13 "refuses on page-refcount overflow
// risk").
const maxPageRefcount = 1 << 20

func (t *Table) sysFork(cur *task.Task) int64 {
	if atomic.AddInt32(&t.nProcs, 1) > MaxProcs {
		atomic.AddInt32(&t.nProcs, -1)
		return errno.SyscallResult(0, errno.EAGAIN)
	}
	childAS, e := cur.AddressSpace.Fork(maxPageRefcount)
	if e != errno.OK {
		atomic.AddInt32(&t.nProcs, -1)
		return errno.SyscallResult(0, e)
	}
	pid := atomic.AddInt32(&t.nextPID, 1) - 1
	child := task.New(int(pid), cur.PID, childAS)
	child.Cwd = cur.Cwd
	child.UID = cur.UID
	child.GID = cur.GID
	child.Frame = cur.Frame
	child.Brk = cur.Brk

	t.mu.Lock()
	for fd, entry := range cur.Files {
		if of, ok := t.files[entry.Handle]; ok {
			of.refcount++
		}
		child.Files[fd] = &task.FD{Handle: entry.Handle, Offset: entry.Offset}
	}
	t.mu.Unlock()

	cur.AddChild(child.PID)
	t.Sched.Add(child)
	return int64(child.PID)
}

func (t *Table) findZombieChild(cur *task.Task, pid int64) *task.Task {
	for _, cpid := range cur.Children {
		if pid > 0 && int64(cpid) != pid {
			continue
		}
		if c, ok := t.Sched.Lookup(cpid); ok && c.State == task.Zombie {
			return c
		}
	}
	return nil
}

func (t *Table) hasMatchingChild(cur *task.Task, pid int64) bool {
	for _, cpid := range cur.Children {
		if pid <= 0 || int64(cpid) == pid {
			return true
		}
	}
	return false
}

func (t *Table) sysWait4(cpuID int, cur *task.Task, args [6]uint64) int64 {
	pid := int64(int32(args[0]))
	child := t.findZombieChild(cur, pid)
	if child == nil {
		if !t.hasMatchingChild(cur, pid) {
			return errno.SyscallResult(0, errno.ESRCH)
		}
		// No exited child yet: block (spec §4.7 suspension point). The
		// outer dispatch loop re-dispatches a different task once
		// BlockCurrent drops this one from cpuID's current slot; a
		// future exit wakes this task back onto the run queue.
		cur.Sleep()
		t.Sched.BlockCurrent(cpuID)
		return 0
	}
	if args[1] != 0 {
		status := uint32(child.Exit&0xFF) << 8
		buf := make([]byte, 4)
		putLeUint32(buf, status)
		copyOutBytes(cur.AddressSpace, uintptr(args[1]), buf)
	}
	cur.RemoveChild(child.PID)
	t.Sched.Remove(child.PID)
	child.Reap()
	return int64(child.PID)
}

func (t *Table) sysExecve(cur *task.Task, args [6]uint64) int64 {
	path, e := copyInString(cur.AddressSpace, uintptr(args[0]), maxPathLen)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	argv, e := readStringArray(cur.AddressSpace, uintptr(args[1]))
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	envp, e := readStringArray(cur.AddressSpace, uintptr(args[2]))
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}

	full := vfs.Join(cur.Cwd, path)
	f, e := t.VFS.Open(full, vfs.OReadOnly, 0)
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	defer f.Close()
	st, e := f.Stat()
	if e != errno.OK {
		return errno.SyscallResult(0, e)
	}
	data := make([]byte, st.Size)
	total := 0
	for total < len(data) {
		n, e := f.Read(data[total:])
		if e != errno.OK || n == 0 {
			break
		}
		total += n
	}
	data = data[:total]

	img, err := elf.Parse(data)
	if err != nil {
		return errno.SyscallResult(0, errno.EINVAL)
	}
	newAS := vmm.NewAddressSpace(t.Frames)
	if _, err := elf.Load(img, newAS); err != nil {
		return errno.SyscallResult(0, errno.EINVAL)
	}
	sp, err := elf.BuildUserStack(newAS, stackTop, img, argv, envp)
	if err != nil {
		return errno.SyscallResult(0, errno.ENOMEM)
	}

	cur.AddressSpace = newAS
	cur.Brk = 0
	cur.Frame = task.TrapFrame{}
	cur.Frame.SP = uint64(sp)
	cur.Frame.ELR = img.Entry
	return 0
}
