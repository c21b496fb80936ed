package vmm

import (
	"sis/internal/arch"
	"sis/internal/errno"
)

// FaultKind classifies a page/data abort per spec §4.3's "Fault taxonomy".
type FaultKind int

const (
	FaultLazyAnonymous FaultKind = iota
	FaultCOW
	FaultIllegal // VMA absent, or access violates VMA permissions
)

// FaultResult reports what HandleFault did, consumed by the trap
// dispatcher to decide whether to resume the task or terminate it.
type FaultResult struct {
	Kind      FaultKind
	Resolved  bool  // true: safe to return to faulting instruction
	Terminate bool  // true: illegal access, task must be killed (SIGSEGV semantics)
	Err       errno.Errno
}

// HandleFault resolves a data/instruction abort at va for the given
// access kind, implementing the three-way taxonomy in spec §4.3 exactly:
//
//   - Lazy anonymous fault: VMA exists, PTE absent -> allocate zeroed
//     page, install PTE with VMA permissions.
//   - COW fault: PTE present, W clear, COW set -> drop the copy if
//     refcount==1, otherwise copy-and-replace.
//   - Permission/illegal: VMA absent or access violates VMA permissions
//     -> terminate (signals are reserved, spec §4.3/§9).
func (as *AddressSpace) HandleFault(va uintptr, write bool) FaultResult {
	as.mu.Lock()
	defer as.mu.Unlock()

	vma, ok := as.region.Lookup(va)
	if !ok {
		return FaultResult{Kind: FaultIllegal, Terminate: true, Err: errno.EFAULT}
	}
	if write && !vma.Perm.Has(PermWrite) && !vma.COW {
		return FaultResult{Kind: FaultIllegal, Terminate: true, Err: errno.EACCES}
	}

	page := indexFor(va, L3Shift)
	t := as.walk(va, true)
	pte := &t.Entries[page]

	if !pte.Valid {
		if err := as.installAnonymousPage(va, vma); err != errno.OK {
			return FaultResult{Kind: FaultLazyAnonymous, Err: err}
		}
		return FaultResult{Kind: FaultLazyAnonymous, Resolved: true}
	}

	if write && pte.COW {
		return as.resolveCOWLocked(va, pte, vma)
	}

	// Valid PTE, write permitted, not COW: nothing to do (shouldn't
	// normally fault, but resolve idempotently rather than terminate).
	return FaultResult{Kind: FaultIllegal, Resolved: true}
}

func (as *AddressSpace) resolveCOWLocked(va uintptr, pte *PTE, vma VMA) FaultResult {
	if pte.Page.RefCount() == 1 {
		// Sole owner: drop COW and make writable in place, no copy
		// needed (spec §4.3).
		pte.COW = false
		pte.Perm = vma.Perm
		arch.InvalidateTLBVA(va)
		return FaultResult{Kind: FaultCOW, Resolved: true}
	}

	newPhys, err := as.frames.AllocPages(0)
	if err != errno.OK {
		return FaultResult{Kind: FaultCOW, Err: err}
	}
	newPage := pte.Page.Copy(newPhys)
	pte.Page.Release()
	pte.Page = newPage
	pte.COW = false
	pte.Perm = vma.Perm
	arch.InvalidateTLBVA(va)
	return FaultResult{Kind: FaultCOW, Resolved: true}
}

// Fork builds a child address space by walking every VMA in the parent:
// readable VMAs are shared with incremented page refcounts; writable
// VMAs have both parent and child PTEs marked read-only with COW set
// (spec §4.3 "A freshly forked child address space...").
//
// maxRefcount bounds the per-page refcount (spec §4.3: "Fork must refuse
// if it would cause ... physical-page refcount overflow").
func (as *AddressSpace) Fork(maxRefcount int32) (*AddressSpace, errno.Errno) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := NewAddressSpace(as.frames)
	for _, vma := range as.region.All() {
		if !child.region.Insert(vma) {
			return nil, errno.EINVAL
		}
		for va := vma.Start; va < vma.End; va += PageSize {
			t := as.walk(va, false)
			if t == nil {
				continue
			}
			idx := indexFor(va, L3Shift)
			parentPTE := &t.Entries[idx]
			if !parentPTE.Valid {
				continue
			}
			if parentPTE.Page.RefCount() >= maxRefcount {
				return nil, errno.ENOMEM
			}

			childPerm := parentPTE.Perm
			childCOW := parentPTE.COW
			if vma.Perm.Has(PermWrite) {
				// Writable VMA: both sides become read-only + COW.
				parentPTE.Perm = parentPTE.Perm &^ PermWrite
				parentPTE.COW = true
				childPerm = parentPTE.Perm
				childCOW = true
				arch.InvalidateTLBVA(va)
			}
			parentPTE.Page.Retain()

			childSlot := child.pteSlot(va)
			*childSlot = PTE{
				Valid: true,
				User:  parentPTE.User,
				Perm:  childPerm,
				COW:   childCOW,
				Page:  parentPTE.Page,
			}
		}
	}
	return child, errno.OK
}

// SwitchTo installs this address space's root table as TTBR0 and flushes
// the TLB for the ASID scope (spec §4.7 "Address-space switch is
// performed by writing TTBR0 and issuing a TLB flush").
func (as *AddressSpace) SwitchTo() {
	arch.WriteTTBR0(as.root.PhysPlaceholder())
	arch.InvalidateTLBAll()
}

// PhysPlaceholder returns a stand-in "physical address" for the root
// table. Because this package keeps the table tree as Go pointers rather
// than raw physical memory (see package doc), there is no real physical
// address to report; a hardware MMU backend would replace PageTable with
// a physically-backed allocation and return its true address here.
func (t *PageTable) PhysPlaceholder() uintptr {
	return uintptr(0)
}
