package syscall

import (
	"encoding/binary"
	"testing"

	"sis/internal/buddy"
	"sis/internal/fs/ramfs"
	"sis/internal/sched"
	"sis/internal/task"
	"sis/internal/vfs"
	"sis/internal/vmm"
)

func newTestFixture(t *testing.T) (*Table, *task.Task, *buddy.Allocator) {
	t.Helper()
	b := buddy.New(0x60000000, 16*1024*1024)
	as := vmm.NewAddressSpace(b)
	// User memory for the buffers the tests place at 0x20000-0x3FFFF.
	as.MapVMA(vmm.VMA{Start: 0x20000, End: 0x40000, Perm: vmm.PermRead | vmm.PermWrite, Backing: vmm.BackingAnonymous})
	v := vfs.New()
	v.Mount("/", ramfs.New())
	s := sched.New(4)
	tbl := New(v, s, b, 2)

	cur := task.New(1, 0, as)
	s.Add(cur)
	s.Dispatch(0)
	return tbl, cur, b
}

func writeUserString(t *testing.T, cur *task.Task, va uintptr, s string) {
	t.Helper()
	b := append([]byte(s), 0)
	end := va + uintptr(len(b))
	for p := pageFloor(va); p < end; p += vmm.PageSize {
		res := cur.AddressSpace.HandleFault(p, true)
		if res.Terminate {
			t.Fatalf("fault installing user string at 0x%x: %v", p, res.Err)
		}
	}
	if e := copyOutBytes(cur.AddressSpace, va, b); e != 0 {
		t.Fatalf("copyOutBytes: %v", e)
	}
}

func TestGetpidReturnsTaskPID(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	got := tbl.Dispatch(0, cur, SysGetpid, [6]uint64{})
	if got != int64(cur.PID) {
		t.Fatalf("expected pid %d, got %d", cur.PID, got)
	}
}

func TestOpenWriteReadCloseRoundTrip(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	const pathVA = 0x20000
	writeUserString(t, cur, pathVA, "/greeting.txt")

	dirfd := int64(AtFDCWD)
	fd := tbl.Dispatch(0, cur, SysOpenat, [6]uint64{uint64(dirfd), pathVA, uint64(vfs.OCreate | vfs.OReadWrite), 0644})
	if fd < 0 {
		t.Fatalf("openat failed: %d", fd)
	}

	const bufVA = 0x21000
	writeUserString(t, cur, bufVA, "hello")

	n := tbl.Dispatch(0, cur, SysWrite, [6]uint64{uint64(fd), bufVA, 5, 0, 0, 0})
	if n != 5 {
		t.Fatalf("expected write of 5 bytes, got %d", n)
	}

	tbl.Dispatch(0, cur, SysLseek, [6]uint64{uint64(fd), 0, 0, 0, 0, 0}) // SEEK_SET 0

	const readVA = 0x22000
	for p := pageFloor(readVA); p < readVA+0x1000; p += vmm.PageSize {
		cur.AddressSpace.HandleFault(p, true)
	}
	rn := tbl.Dispatch(0, cur, SysRead, [6]uint64{uint64(fd), readVA, 5, 0, 0, 0})
	if rn != 5 {
		t.Fatalf("expected read of 5 bytes, got %d", rn)
	}
	got, e := copyInBytes(cur.AddressSpace, readVA, 5)
	if e != 0 || string(got) != "hello" {
		t.Fatalf("expected to read back %q, got %q err=%v", "hello", got, e)
	}

	if rc := tbl.Dispatch(0, cur, SysClose, [6]uint64{uint64(fd), 0, 0, 0, 0, 0}); rc != 0 {
		t.Fatalf("close failed: %d", rc)
	}
}

func TestBrkGrowsThenReturnsCurrentBreak(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	first := tbl.Dispatch(0, cur, SysBrk, [6]uint64{0})
	if first != heapBase {
		t.Fatalf("expected initial brk at heap base, got 0x%x", first)
	}
	grown := tbl.Dispatch(0, cur, SysBrk, [6]uint64{heapBase + 0x10000})
	if grown != heapBase+0x10000 {
		t.Fatalf("expected brk to grow, got 0x%x", grown)
	}
	again := tbl.Dispatch(0, cur, SysBrk, [6]uint64{0})
	if again != grown {
		t.Fatalf("expected brk query to return the grown value, got 0x%x", again)
	}
}

func TestMmapThenMunmapRoundTrip(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	addr := tbl.Dispatch(0, cur, SysMmap, [6]uint64{0, 4096, 0x3, 0, 0, 0}) // PROT_READ|PROT_WRITE
	if addr == 0 || addr < 0 {
		t.Fatalf("expected a valid mmap address, got %d", addr)
	}
	if _, ok := cur.AddressSpace.Lookup(uintptr(addr)); !ok {
		t.Fatalf("expected a VMA to be installed at the mmap address")
	}
	rc := tbl.Dispatch(0, cur, SysMunmap, [6]uint64{uint64(addr), 4096, 0, 0, 0, 0})
	if rc != 0 {
		t.Fatalf("munmap failed: %d", rc)
	}
	if _, ok := cur.AddressSpace.Lookup(uintptr(addr)); ok {
		t.Fatalf("expected the VMA to be gone after munmap")
	}
}

func TestMmapRejectsWriteExecProt(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	rc := tbl.Dispatch(0, cur, SysMmap, [6]uint64{0, 4096, 0x6, 0, 0, 0}) // PROT_WRITE|PROT_EXEC
	if rc >= 0 {
		t.Fatalf("expected mmap to reject a writable+executable mapping")
	}
}

func TestForkThenWait4Reaps(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	childPID := tbl.Dispatch(0, cur, SysFork, [6]uint64{})
	if childPID <= 0 {
		t.Fatalf("fork failed: %d", childPID)
	}
	child, ok := tbl.Sched.Lookup(int(childPID))
	if !ok {
		t.Fatalf("expected the child to be registered with the scheduler")
	}
	child.MarkExit(7)

	const statusVA = 0x30000
	for p := pageFloor(statusVA); p < statusVA+0x1000; p += vmm.PageSize {
		cur.AddressSpace.HandleFault(p, true)
	}
	got := tbl.Dispatch(0, cur, SysWait4, [6]uint64{uint64(childPID), statusVA, 0, 0, 0, 0})
	if got != childPID {
		t.Fatalf("expected wait4 to return child pid %d, got %d", childPID, got)
	}
	statusBytes, _ := copyInBytes(cur.AddressSpace, statusVA, 4)
	status := binary.LittleEndian.Uint32(statusBytes)
	if (status>>8)&0xFF != 7 {
		t.Fatalf("expected exit code 7 encoded in status, got %d", status)
	}
	if _, ok := tbl.Sched.Lookup(int(childPID)); ok {
		t.Fatalf("expected the reaped child to be removed from the scheduler")
	}
}

func TestWait4WithNoExitedChildBlocksCaller(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	childPID := tbl.Dispatch(0, cur, SysFork, [6]uint64{})
	if childPID <= 0 {
		t.Fatalf("fork failed: %d", childPID)
	}
	tbl.Dispatch(0, cur, SysWait4, [6]uint64{uint64(childPID), 0, 0, 0, 0, 0})
	if cur.State != task.Sleeping {
		t.Fatalf("expected the waiting parent to be Sleeping, got %v", cur.State)
	}
	if _, ok := tbl.Sched.Current(0); ok {
		t.Fatalf("expected cpu 0's current task to be cleared while the parent sleeps")
	}
}

func TestWait4UnknownChildReturnsESRCH(t *testing.T) {
	tbl, cur, _ := newTestFixture(t)
	rc := tbl.Dispatch(0, cur, SysWait4, [6]uint64{999, 0, 0, 0, 0, 0})
	if rc >= 0 {
		t.Fatalf("expected an error for an unrelated pid, got %d", rc)
	}
}
