package vmm

import "sync/atomic"

// Page is a physical page frame (spec §3 "Physical page"). Its refcount
// is the single source of truth COW consults: a PTE may only carry
// W clear + COW set while the page's refcount is > 1 (spec §8 invariant).
type Page struct {
	Addr     uintptr
	refcount int32
	data     []byte // simulated frame contents, PageSize bytes
}

// NewPage wraps a freshly allocated, zeroed physical frame with an
// initial refcount of 1.
func NewPage(addr uintptr, size int) *Page {
	return &Page{Addr: addr, refcount: 1, data: make([]byte, size)}
}

// Data exposes the frame's backing bytes for read/write/copy paths (COW
// copy, VFS-backed file demand paging).
func (p *Page) Data() []byte { return p.data }

// RefCount returns the current atomic refcount.
func (p *Page) RefCount() int32 { return atomic.LoadInt32(&p.refcount) }

// Retain increments the refcount when a new PTE starts referencing this
// page (fork sharing a readable VMA, spec §4.3).
func (p *Page) Retain() int32 { return atomic.AddInt32(&p.refcount, 1) }

// Release decrements the refcount; callers free the frame back to the
// buddy allocator once it reaches zero.
func (p *Page) Release() int32 { return atomic.AddInt32(&p.refcount, -1) }

// Copy allocates a fresh page and duplicates this page's contents into
// it, used by the COW fault path when refcount > 1 (spec §4.3).
func (p *Page) Copy(newAddr uintptr) *Page {
	np := NewPage(newAddr, len(p.data))
	copy(np.data, p.data)
	return np
}
