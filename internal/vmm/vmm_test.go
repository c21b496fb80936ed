package vmm

import (
	"testing"

	"sis/internal/buddy"
)

func newTestAS(t *testing.T) (*AddressSpace, *buddy.Allocator) {
	t.Helper()
	b := buddy.New(0x50000000, 4*1024*1024)
	return NewAddressSpace(b), b
}

func TestLazyAnonymousFault(t *testing.T) {
	as, b := newTestAS(t)
	before := b.FreePageCount()

	vma := VMA{Start: 0x10000, End: 0x11000, Perm: PermRead | PermWrite, Backing: BackingAnonymous}
	if err := as.MapVMA(vma); err != 0 {
		t.Fatalf("MapVMA: %v", err)
	}
	if got := b.FreePageCount(); got != before {
		t.Fatalf("free count should be unchanged before first access, got %d want %d", got, before)
	}

	res := as.HandleFault(0x10000, false)
	if !res.Resolved || res.Kind != FaultLazyAnonymous {
		t.Fatalf("expected resolved lazy anon fault, got %+v", res)
	}
	if got := b.FreePageCount(); got != before-1 {
		t.Fatalf("free count should drop by 1 on first access, got %d want %d", got, before-1)
	}

	pte := as.pteSlot(0x10000)
	if pte.Page.Data()[0] != 0 {
		t.Fatalf("first read should observe zero byte")
	}
	pte.Page.Data()[0] = 0xAB
	if pte.Page.Data()[0] != 0xAB {
		t.Fatalf("write then read should observe written byte")
	}
}

func TestForkThenCOW(t *testing.T) {
	as, _ := newTestAS(t)
	vma := VMA{Start: 0x10000, End: 0x11000, Perm: PermRead | PermWrite, Backing: BackingAnonymous}
	as.MapVMA(vma)
	as.HandleFault(0x10000, true)
	parentSlot := as.pteSlot(0x10000)
	copy(parentSlot.Page.Data(), []byte{1, 2, 3, 4})

	child, err := as.Fork(1000)
	if err != 0 {
		t.Fatalf("fork: %v", err)
	}

	parentSlot = as.pteSlot(0x10000)
	childSlot := child.pteSlot(0x10000)
	if parentSlot.Page != childSlot.Page {
		t.Fatalf("parent and child should share the same physical frame right after fork")
	}
	if parentSlot.Page.RefCount() != 2 {
		t.Fatalf("refcount should be 2 after fork, got %d", parentSlot.Page.RefCount())
	}
	if !parentSlot.COW || !childSlot.COW || parentSlot.Perm.Has(PermWrite) {
		t.Fatalf("writable VMA should become COW+read-only in both parent and child")
	}

	// Child writes [5,6,7,8]; parent must still observe [1,2,3,4].
	childRes := child.HandleFault(0x10000, true)
	if !childRes.Resolved || childRes.Kind != FaultCOW {
		t.Fatalf("expected resolved COW fault in child, got %+v", childRes)
	}
	copy(child.pteSlot(0x10000).Page.Data(), []byte{5, 6, 7, 8})

	if got := parentSlot.Page.Data()[0]; got != 1 {
		t.Fatalf("parent page mutated by child write: got %d want 1", got)
	}
	if got := child.pteSlot(0x10000).Page.Data()[0]; got != 5 {
		t.Fatalf("child page not updated: got %d want 5", got)
	}
	if parentSlot.Page.RefCount() != 1 {
		t.Fatalf("parent page refcount should drop to 1 after child COW copy, got %d", parentSlot.Page.RefCount())
	}
	if child.pteSlot(0x10000).Page.RefCount() != 1 {
		t.Fatalf("child's new page should have refcount 1")
	}
}

func TestCOWSoleOwnerAvoidsCopy(t *testing.T) {
	as, _ := newTestAS(t)
	vma := VMA{Start: 0x20000, End: 0x21000, Perm: PermRead | PermWrite, Backing: BackingAnonymous}
	as.MapVMA(vma)
	as.HandleFault(0x20000, true)
	slot := as.pteSlot(0x20000)
	slot.COW = true
	slot.Perm = PermRead
	original := slot.Page

	res := as.HandleFault(0x20000, true)
	if !res.Resolved || res.Kind != FaultCOW {
		t.Fatalf("expected resolved COW fault, got %+v", res)
	}
	if as.pteSlot(0x20000).Page != original {
		t.Fatalf("sole-owner COW should not allocate a new page")
	}
	if as.pteSlot(0x20000).COW {
		t.Fatalf("COW flag should be cleared after sole-owner resolution")
	}
}

func TestIllegalFaultTerminates(t *testing.T) {
	as, _ := newTestAS(t)
	res := as.HandleFault(0xDEADB000, false)
	if !res.Terminate {
		t.Fatalf("fault on unmapped VA should terminate the task")
	}
}

func TestMmapMunmapRestoresFreeCount(t *testing.T) {
	as, b := newTestAS(t)
	before := b.FreePageCount()

	vma := VMA{Start: 0x30000, End: 0x33000, Perm: PermRead | PermWrite}
	as.MapVMA(vma)
	as.HandleFault(0x30000, false)
	as.HandleFault(0x31000, false)
	as.HandleFault(0x32000, false)

	as.UnmapRange(0x30000, 0x33000)
	if got := b.FreePageCount(); got != before {
		t.Fatalf("munmap should restore free-page count: got %d want %d", got, before)
	}
	if _, ok := as.Lookup(0x30000); ok {
		t.Fatalf("VMA should be gone after munmap")
	}
}

func TestWXInvariantRejectsWriteExec(t *testing.T) {
	pte := PTE{Valid: true, Perm: PermWrite | PermExec}
	if pte.WXInvariantHolds() {
		t.Fatalf("W+X PTE should violate the invariant")
	}
	encoded := pte.Encode(0x1000)
	if encoded&(1<<54) == 0 || encoded&(1<<53) == 0 {
		t.Fatalf("Encode must force both XN bits when writable, even if caller also set Exec")
	}
}

func TestVMAOverlapRejected(t *testing.T) {
	as, _ := newTestAS(t)
	as.MapVMA(VMA{Start: 0x1000, End: 0x2000, Perm: PermRead})
	if err := as.MapVMA(VMA{Start: 0x1800, End: 0x2800, Perm: PermRead}); err == 0 {
		t.Fatalf("overlapping VMA should be rejected")
	}
}

func TestForkRefusesOnRefcountOverflow(t *testing.T) {
	as, _ := newTestAS(t)
	vma := VMA{Start: 0x40000, End: 0x41000, Perm: PermRead}
	as.MapVMA(vma)
	as.HandleFault(0x40000, false)

	if _, err := as.Fork(1); err == 0 {
		t.Fatalf("fork should refuse when refcount would exceed the cap")
	}
}
