package buddy

import "testing"

func TestAllocFreeRoundTrip(t *testing.T) {
	a := New(0x40000000, 16*1024*1024) // 16 MiB -> 4096 pages
	before := a.FreePageCount()

	addr, err := a.AllocPages(0)
	if err != 0 {
		t.Fatalf("alloc order0: %v", err)
	}
	if addr%PageSize != 0 {
		t.Fatalf("addr %x not page aligned", addr)
	}
	if got := a.FreePageCount(); got != before-1 {
		t.Fatalf("free count after alloc = %d, want %d", got, before-1)
	}

	a.FreePages(addr, 0)
	if got := a.FreePageCount(); got != before {
		t.Fatalf("free count after free = %d, want %d", got, before)
	}
}

func TestCoalescingMergesBuddies(t *testing.T) {
	a := New(0x40000000, 4096*PageSize) // exactly one order-12-ish region, capped at MaxOrder
	stats := a.Stats()
	if stats.CurrentAllocated != 0 {
		t.Fatalf("expected nothing allocated initially")
	}

	p0, _ := a.AllocPages(0)
	p1, _ := a.AllocPages(0)
	a.FreePages(p0, 0)
	a.FreePages(p1, 0)

	// After freeing both order-0 halves of the same buddy pair, they
	// should have coalesced back up rather than sitting as two order-0
	// entries (spec: "no two adjacent buddies are both free").
	after := a.Stats()
	if after.FreeByOrder[0] != 0 {
		t.Fatalf("order-0 free list not empty after coalescing: %+v", after.FreeByOrder)
	}
}

func TestOutOfMemoryNeverPanics(t *testing.T) {
	a := New(0x40000000, PageSize) // exactly one page
	_, err := a.AllocPages(0)
	if err != 0 {
		t.Fatalf("first alloc should succeed: %v", err)
	}
	_, err2 := a.AllocPages(0)
	if err2 == 0 {
		t.Fatalf("second alloc should fail with ENOMEM")
	}
}

func TestMaxOrderAllocationSucceedsIffContiguousBlockExists(t *testing.T) {
	a := New(0x40000000, blockSizeBytes(MaxOrder))
	if _, err := a.AllocPages(MaxOrder); err != 0 {
		t.Fatalf("max-order alloc should succeed on a fresh full-size region: %v", err)
	}
	if _, err := a.AllocPages(MaxOrder); err == 0 {
		t.Fatalf("second max-order alloc should fail: no contiguous block left")
	}
}

func blockSizeBytes(order int) uintptr { return uintptr(blockSize(order)) }

func TestAllocatedPagesAreZeroed(t *testing.T) {
	var zeroed bool
	orig := zeroPage
	zeroPage = func(addr uintptr, size uintptr) { zeroed = true }
	defer func() { zeroPage = orig }()

	a := New(0x40000000, 16*PageSize)
	if _, err := a.AllocPages(0); err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if !zeroed {
		t.Fatalf("expected zeroPage to be called on allocation")
	}
}

func TestPeakTracksHighWaterMark(t *testing.T) {
	a := New(0x40000000, 16*PageSize)
	p0, _ := a.AllocPages(0)
	p1, _ := a.AllocPages(0)
	a.FreePages(p0, 0)
	a.FreePages(p1, 0)
	if a.Stats().Peak < 2 {
		t.Fatalf("peak should record the high-water mark of 2, got %d", a.Stats().Peak)
	}
}
