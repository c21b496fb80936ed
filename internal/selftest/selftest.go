// Package selftest runs a battery of smoke checks during boot, the same
// shape as kernel.go's own pre-scheduler sanity pass
// (sched_getaffinity / openat / runtime.args probes before declaring the
// scheduler live), generalized into named, independently reportable
// checks instead of inline one-off prints. A failure here means the
// kernel should not proceed to spawn PID 1.
package selftest

import (
	"fmt"

	"sis/internal/buddy"
	"sis/internal/diag"
	"sis/internal/fs/ramfs"
	"sis/internal/vfs"
	"sis/internal/vmm"
)

// Check is one named self-test. Fn returns a non-nil error to fail it.
type Check struct {
	Name string
	Fn   func() error
}

// Result is a Check's outcome, reported to diag regardless of pass/fail
// so a failure is visible on the console the moment it happens.
type Result struct {
	Name string
	Err  error
}

func (r Result) Passed() bool { return r.Err == nil }

// Default returns the standard boot-time battery: buddy allocator
// round-trip, VMM lazy-fault + fork/COW, and a VFS open/write/read round
// trip against ramfs, covering the three round-trip laws a corrupted
// bring-up is most likely to violate.
func Default(frames *buddy.Allocator) []Check {
	return []Check{
		{Name: "buddy.alloc-free-roundtrip", Fn: checkBuddyRoundTrip(frames)},
		{Name: "vmm.lazy-fault-and-cow", Fn: checkVMMFaultAndCOW(frames)},
		{Name: "vfs.ramfs-roundtrip", Fn: checkVFSRoundTrip()},
	}
}

// RunAll executes every check in order, reporting each one through diag
// as it completes, and returns the full result set so the caller can
// decide whether to continue booting.
func RunAll(checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		err := c.Fn()
		results = append(results, Result{Name: c.Name, Err: err})
		if err != nil {
			diag.Printf("selftest FAIL %s: %v\n", c.Name, err)
		} else {
			diag.Printf("selftest ok   %s\n", c.Name)
		}
	}
	return results
}

// AllPassed reports whether every result in results succeeded.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed() {
			return false
		}
	}
	return true
}

func checkBuddyRoundTrip(frames *buddy.Allocator) func() error {
	return func() error {
		before := frames.FreePageCount()
		addr, e := frames.AllocPages(2) // 4 pages
		if e != 0 {
			return fmt.Errorf("AllocPages(2): errno %d", e)
		}
		if addr == 0 {
			return fmt.Errorf("AllocPages(2) returned a zero address")
		}
		frames.FreePages(addr, 2)
		if after := frames.FreePageCount(); after != before {
			return fmt.Errorf("free page count drifted: before=%d after=%d", before, after)
		}
		return nil
	}
}

func checkVMMFaultAndCOW(frames *buddy.Allocator) func() error {
	return func() error {
		as := vmm.NewAddressSpace(frames)
		vma := vmm.VMA{Start: 0x500000, End: 0x501000, Perm: vmm.PermRead | vmm.PermWrite, Backing: vmm.BackingAnonymous}
		if e := as.MapVMA(vma); e != 0 {
			return fmt.Errorf("MapVMA: errno %d", e)
		}
		res := as.HandleFault(0x500000, true)
		if res.Terminate {
			return fmt.Errorf("lazy fault unexpectedly terminated: %v", res.Err)
		}
		page := as.PageDataAt(0x500000)
		if page == nil {
			return fmt.Errorf("expected a backing page after the fault")
		}
		page[0] = 0x42

		child, e := as.Fork(64)
		if e != 0 {
			return fmt.Errorf("Fork: errno %d", e)
		}
		childPage := child.PageDataAt(0x500000)
		if childPage == nil || childPage[0] != 0x42 {
			return fmt.Errorf("forked child did not inherit parent page contents")
		}
		return nil
	}
}

func checkVFSRoundTrip() func() error {
	return func() error {
		v := vfs.New()
		v.Mount("/", ramfs.New())
		f, e := v.Open("/selftest.tmp", vfs.OCreate|vfs.OReadWrite, 0644)
		if e != 0 {
			return fmt.Errorf("open: errno %d", e)
		}
		const payload = "selftest"
		n, e := f.Write([]byte(payload))
		if e != 0 || n != len(payload) {
			return fmt.Errorf("write: n=%d errno=%d", n, e)
		}
		if _, e := f.Seek(0, 0); e != 0 {
			return fmt.Errorf("seek: errno %d", e)
		}
		buf := make([]byte, len(payload))
		n, e = f.Read(buf)
		if e != 0 || n != len(payload) || string(buf) != payload {
			return fmt.Errorf("read back %q, want %q (errno %d)", buf[:n], payload, e)
		}
		if e := f.Close(); e != 0 {
			return fmt.Errorf("close: errno %d", e)
		}
		return nil
	}
}
