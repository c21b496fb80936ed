// Package vmm implements the virtual memory manager: page tables, VMAs,
// demand paging, copy-on-write, and W⊕X enforcement (spec §4.3).
//
// Grounded on mmu.go for the ARM64 PTE bit layout (PTE_VALID,
// PTE_AP_*, PTE_UXN/PXN, the MAIR attribute indices) and on
// biscuit-src-vm-as.go for the idiomatic Go shape of an address space
// (Vmregion_t + Pmap_t behind a mutex, Userdmap8_inner's fault-path
// structure). Unlike mmu.go, which pokes fixed physical addresses
// directly because it only ever runs on real hardware, this package keeps
// the actual translation-table tree as address-independent Go structures
// (*PageTable) and only packs the ARM64 hardware bit encoding on request
// (PTE.Encode), so the fault handler and COW logic are unit-testable
// without an MMU.
package vmm

// Encode bit positions, matching mmu.go's PTE_* constants exactly so a
// real MMU backend can consume PTE.Encode() unchanged.
const (
	bitValid = 1 << 0
	bitTable = 1 << 1

	bitAF = 1 << 10
	bitNG = 1 << 11

	bitUXN = 1 << 54
	bitPXN = 1 << 53

	attrShift = 2
	attrNormal = 0 << attrShift
	attrDevice = 1 << attrShift

	apShift   = 6
	apRWEL1   = 1 << apShift // R/W at EL1 and EL0 (user-accessible)
	apRWKOnly = 0 << apShift // R/W at EL1 only
	apROEL1   = 3 << apShift // R/O at EL1 and EL0
	apROKOnly = 2 << apShift // R/O at EL1 only
)

// Perm is the VMA/PTE permission set (spec §3 "VMA": "permission bits (R/W/X)").
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) Has(bit Perm) bool { return p&bit != 0 }

// PTE is a translation-table entry. It always refers to a *Page so the
// refcount invariants in spec §3/§8 live on one object instead of being
// re-derived from a raw physical address at every call site.
type PTE struct {
	Valid   bool
	User    bool // accessible at EL0
	Perm    Perm
	COW     bool // software-reserved copy-on-write flag (spec §3 PTE invariant)
	Page    *Page
	Device  bool
}

// Encode packs the PTE into the real ARM64 hardware bit layout (spec §3:
// "encodes physical address, attributes ... and a software-reserved COW
// flag"). W⊕X is enforced here unconditionally: a writable encoding
// always carries both execute-never bits, regardless of what Perm says,
// so a caller cannot accidentally produce a writable+executable entry.
func (p PTE) Encode(phys uintptr) uint64 {
	if !p.Valid {
		return 0
	}
	v := uint64(phys&^0xFFF) | bitValid | bitTable | bitAF
	if p.Device {
		v |= attrDevice
	} else {
		v |= attrNormal
	}
	writable := p.Perm.Has(PermWrite)
	executable := p.Perm.Has(PermExec) && !writable // W⊕X: writable never executable
	switch {
	case p.User && writable:
		v |= apRWEL1
	case p.User && !writable:
		v |= apROEL1
	case !p.User && writable:
		v |= apRWKOnly
	default:
		v |= apROKOnly
	}
	if !executable {
		v |= bitUXN | bitPXN
	}
	if writable {
		v |= bitUXN | bitPXN // W bit set => both XN bits set (spec §3 invariant)
	}
	if p.User {
		v |= bitNG
	}
	return v
}

// WXInvariantHolds reports whether this PTE honors spec §3/§8: "every
// writable PTE has both execute-never bits set."
func (p PTE) WXInvariantHolds() bool {
	if !p.Valid {
		return true
	}
	if p.Perm.Has(PermWrite) && p.Perm.Has(PermExec) {
		return false
	}
	return true
}

// PageTable is one level of the 4-level, 4 KiB-granule translation
// structure (spec §4.3: "Four translation levels on a 4 KiB granule").
// Levels 0-2 hold pointers to the next table; level 3 holds leaf PTEs.
type PageTable struct {
	Entries [512]PTE
	Next    [512]*PageTable // populated only at levels 0-2
}

const (
	L0Shift = 39
	L1Shift = 30
	L2Shift = 21
	L3Shift = 12
	levelMask = 0x1FF // 9 bits per level
)

func indexFor(va uintptr, shift uint) int {
	return int((va >> shift) & levelMask)
}
