package vmm

import (
	"sync"

	"sis/internal/arch"
	"sis/internal/buddy"
	"sis/internal/errno"
)

const PageSize = buddy.PageSize

// FrameAllocator is the subset of *buddy.Allocator the VMM needs,
// accepted as an interface so address-space tests don't need a real
// buddy allocator (pack idiom: "accept interfaces, return structs").
type FrameAllocator interface {
	AllocPages(order int) (uintptr, errno.Errno)
	FreePages(addr uintptr, order int)
}

// AddressSpace is one process's virtual memory (spec §3 "Address space").
// TTBR1/kernel space is shared and not modeled per-process here; only the
// user half (TTBR0) is represented.
type AddressSpace struct {
	mu     sync.Mutex
	root   *PageTable
	region Region
	frames FrameAllocator
}

func NewAddressSpace(frames FrameAllocator) *AddressSpace {
	return &AddressSpace{root: &PageTable{}, frames: frames}
}

// walk returns the level-3 table for va, allocating intermediate tables
// as needed when create is true.
func (as *AddressSpace) walk(va uintptr, create bool) *PageTable {
	t := as.root
	for _, shift := range [...]uint{L0Shift, L1Shift, L2Shift} {
		idx := indexFor(va, shift)
		if t.Next[idx] == nil {
			if !create {
				return nil
			}
			t.Next[idx] = &PageTable{}
		}
		t = t.Next[idx]
	}
	return t
}

// MapVMA installs a VMA into the address space's region set without
// populating any PTEs (spec §4.3 demand paging: pages appear lazily on
// first fault, per the Lazy anonymous fault rule).
func (as *AddressSpace) MapVMA(v VMA) errno.Errno {
	as.mu.Lock()
	defer as.mu.Unlock()
	if v.Start >= v.End {
		return errno.EINVAL
	}
	if !as.region.Insert(v) {
		return errno.EEXIST
	}
	return errno.OK
}

// UnmapRange removes VMAs (splitting as needed) and releases every
// backing page whose refcount drops to zero, restoring the free-page
// count (spec §8 "mmap; munmap restores the free-page count").
func (as *AddressSpace) UnmapRange(start, end uintptr) errno.Errno {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va := start; va < end; va += PageSize {
		as.unmapPageLocked(va)
	}
	as.region.Remove(start, end)
	return errno.OK
}

func (as *AddressSpace) unmapPageLocked(va uintptr) {
	t := as.walk(va, false)
	if t == nil {
		return
	}
	idx := indexFor(va, L3Shift)
	pte := &t.Entries[idx]
	if !pte.Valid {
		return
	}
	if pte.Page != nil && pte.Page.Release() == 0 {
		as.frames.FreePages(pte.Page.Addr, 0)
	}
	*pte = PTE{}
	arch.InvalidateTLBVA(va)
}

// Protect changes the permission bits of every installed PTE within
// [start,end), invalidating the TLB for each (spec §5 "Ordering
// guarantees"). The covering VMAs keep their permissions, so a page
// faulted in later gets the VMA's permissions, not perm.
func (as *AddressSpace) Protect(start, end uintptr, perm Perm) errno.Errno {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va := start; va < end; va += PageSize {
		t := as.walk(va, false)
		if t == nil {
			continue
		}
		idx := indexFor(va, L3Shift)
		if t.Entries[idx].Valid {
			t.Entries[idx].Perm = perm
			arch.InvalidateTLBVA(va)
		}
	}
	return errno.OK
}

// Lookup finds the VMA covering va, if any.
func (as *AddressSpace) Lookup(va uintptr) (VMA, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.region.Lookup(va)
}

// VMAs returns a snapshot of every VMA (spec §4.10 procfs "maps").
func (as *AddressSpace) VMAs() []VMA {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.region.All()
}

// pteSlot returns the PTE slot for va, creating intermediate tables.
func (as *AddressSpace) pteSlot(va uintptr) *PTE {
	t := as.walk(va, true)
	idx := indexFor(va, L3Shift)
	return &t.Entries[idx]
}

// FindFreeRange scans the VMA set for length contiguous bytes at or
// above hint, returning the first gap that fits (spec §4.13 mmap with
// addr==0: the kernel picks the address). VMAs are kept sorted by start
// in Region.All, so a single linear scan suffices.
func (as *AddressSpace) FindFreeRange(hint uintptr, length uintptr) uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	areas := as.region.All()
	candidate := hint
	for _, v := range areas {
		if candidate+length <= v.Start {
			return candidate
		}
		if candidate < v.End {
			candidate = v.End
		}
	}
	return candidate
}

// PageDataAt returns the backing page's byte slice for va, or nil if no
// valid page is installed there. Used by internal/elf to copy segment
// contents directly rather than through a syscall-facing read/write
// path (spec §4.12 execve loads file contents straight into memory).
func (as *AddressSpace) PageDataAt(va uintptr) []byte {
	as.mu.Lock()
	defer as.mu.Unlock()
	t := as.walk(va, false)
	if t == nil {
		return nil
	}
	idx := indexFor(va, L3Shift)
	pte := &t.Entries[idx]
	if !pte.Valid || pte.Page == nil {
		return nil
	}
	return pte.Page.Data()
}

// installAnonymousPage allocates a zeroed frame and installs a PTE for
// va with vma's permissions (spec §4.3 "Lazy anonymous fault").
func (as *AddressSpace) installAnonymousPage(va uintptr, vma VMA) errno.Errno {
	phys, err := as.frames.AllocPages(0)
	if err != errno.OK {
		return err
	}
	page := NewPage(phys, PageSize)
	slot := as.pteSlot(va)
	*slot = PTE{Valid: true, User: true, Perm: vma.Perm, Page: page}
	return errno.OK
}
