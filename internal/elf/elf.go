// Package elf validates and loads ELF64 aarch64 executables, grounded
// on kernel.go's hand-rolled byte-offset ELF parsing in its
// parseEmbeddedKmazarin/loadAndRunKmazarin (manual magic/class/machine
// checks, manual little-endian field decoding), generalized here from
// "display info about one embedded binary" into "build VMAs for any
// PT_LOAD segment and construct a user stack" (spec §4.12).
package elf

import (
	"encoding/binary"
	"fmt"

	"sis/internal/vmm"
)

const (
	ptLoad = 1

	machineAArch64 = 0xB7

	classELF64   = 2
	dataLittle   = 1
)

// ProgramHeader is the decoded subset of an Elf64_Phdr this loader
// needs.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	VAddr  uint64
	FileSz uint64
	MemSz  uint64
}

// Image is a validated, parsed ELF64 executable.
type Image struct {
	Entry   uint64
	Headers []ProgramHeader
	data    []byte
}

// Parse validates the ELF64/aarch64 header and decodes every program
// header (spec §4.12 "Validates ELF64 magic, class, endianness, and
// aarch64 machine").
func Parse(data []byte) (*Image, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("elf: file too small")
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, fmt.Errorf("elf: bad magic")
	}
	if data[4] != classELF64 {
		return nil, fmt.Errorf("elf: not ELF64")
	}
	if data[5] != dataLittle {
		return nil, fmt.Errorf("elf: not little-endian")
	}
	machine := binary.LittleEndian.Uint16(data[0x12:])
	if machine != machineAArch64 {
		return nil, fmt.Errorf("elf: not aarch64 (machine=0x%x)", machine)
	}

	entry := binary.LittleEndian.Uint64(data[0x18:])
	phoff := binary.LittleEndian.Uint64(data[0x20:])
	phentsize := binary.LittleEndian.Uint16(data[0x36:])
	phnum := binary.LittleEndian.Uint16(data[0x38:])

	img := &Image{Entry: entry, data: data}
	for i := uint16(0); i < phnum; i++ {
		off := phoff + uint64(i)*uint64(phentsize)
		if off+56 > uint64(len(data)) {
			return nil, fmt.Errorf("elf: program header %d out of bounds", i)
		}
		ph := ProgramHeader{
			Type:   binary.LittleEndian.Uint32(data[off:]),
			Flags:  binary.LittleEndian.Uint32(data[off+4:]),
			Offset: binary.LittleEndian.Uint64(data[off+8:]),
			VAddr:  binary.LittleEndian.Uint64(data[off+16:]),
			FileSz: binary.LittleEndian.Uint64(data[off+32:]),
			MemSz:  binary.LittleEndian.Uint64(data[off+40:]),
		}
		img.Headers = append(img.Headers, ph)
	}
	return img, nil
}

// elf program header flag bits.
const (
	pfX uint32 = 1 << 0
	pfW uint32 = 1 << 1
	pfR uint32 = 1 << 2
)

func permFromFlags(flags uint32) vmm.Perm {
	var p vmm.Perm
	if flags&pfR != 0 {
		p |= vmm.PermRead
	}
	if flags&pfW != 0 {
		p |= vmm.PermWrite
	}
	if flags&pfX != 0 {
		p |= vmm.PermExec
	}
	return p
}

// LoadedSegment is one PT_LOAD segment's virtual placement, returned so
// the caller can invalidate the icache over exactly the ranges that
// received new code (spec §4.12 "an icache invalidation is issued for
// the covered ranges").
type LoadedSegment struct {
	Start uintptr
	End   uintptr
}

// Load maps every PT_LOAD segment into as, copying file contents and
// zeroing the .bss remainder, rejecting W+X segments per the W⊕X
// invariant (spec §4.12). Segment data is written directly rather than
// demand-paged: execve's segments are not lazily faulted in, unlike
// mmap'd anonymous memory.
func Load(img *Image, as *vmm.AddressSpace) ([]LoadedSegment, error) {
	var segments []LoadedSegment
	for _, ph := range img.Headers {
		if ph.Type != ptLoad {
			continue
		}
		perm := permFromFlags(ph.Flags)
		if perm.Has(vmm.PermWrite) && perm.Has(vmm.PermExec) {
			return nil, fmt.Errorf("elf: segment at 0x%x is both writable and executable", ph.VAddr)
		}

		start := pageFloor(uintptr(ph.VAddr))
		end := pageCeil(uintptr(ph.VAddr) + uintptr(ph.MemSz))
		vma := vmm.VMA{Start: start, End: end, Perm: perm, Backing: vmm.BackingFile}
		if errn := as.MapVMA(vma); errn != 0 {
			return nil, fmt.Errorf("elf: MapVMA failed for segment at 0x%x: %v", ph.VAddr, errn)
		}

		if ph.Offset+ph.FileSz > uint64(len(img.data)) {
			return nil, fmt.Errorf("elf: segment file range out of bounds")
		}
		if err := writeSegment(as, uintptr(ph.VAddr), img.data[ph.Offset:ph.Offset+ph.FileSz], int(ph.MemSz)); err != nil {
			return nil, err
		}
		segments = append(segments, LoadedSegment{Start: start, End: end})
	}
	return segments, nil
}

// writeSegment faults in every page covering [vaddr, vaddr+memSz) and
// copies fileData into the start of the range, leaving the remainder
// (the .bss tail) zeroed by the allocator.
func writeSegment(as *vmm.AddressSpace, vaddr uintptr, fileData []byte, memSz int) error {
	end := vaddr + uintptr(memSz)
	for va := pageFloor(vaddr); va < end; va += vmm.PageSize {
		res := as.HandleFault(va, false)
		if res.Terminate {
			return fmt.Errorf("elf: fault while loading segment at 0x%x: %v", va, res.Err)
		}
	}
	written := 0
	for written < len(fileData) {
		va := vaddr + uintptr(written)
		n, err := copyToVA(as, va, fileData[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		written += n
	}
	return nil
}

// copyToVA writes up to one page's worth of data starting at va.
func copyToVA(as *vmm.AddressSpace, va uintptr, data []byte) (int, error) {
	pageOff := int(va % vmm.PageSize)
	room := int(vmm.PageSize) - pageOff
	n := len(data)
	if n > room {
		n = room
	}
	dst := as.PageDataAt(va)
	if dst == nil {
		return 0, fmt.Errorf("elf: no page installed at 0x%x", va)
	}
	copy(dst[pageOff:pageOff+n], data[:n])
	return n, nil
}

func pageFloor(v uintptr) uintptr { return v &^ (vmm.PageSize - 1) }
func pageCeil(v uintptr) uintptr  { return (v + vmm.PageSize - 1) &^ (vmm.PageSize - 1) }

// Auxv tag values SIS populates (spec §4.12).
const (
	atNull  = 0
	atPhdr  = 3
	atPagesz = 6
	atEntry = 9
)

// DefaultStackSize is the user stack's default extent (spec §4.12
// "default 8 MiB").
const DefaultStackSize = 8 * 1024 * 1024

// BuildUserStack maps the user stack VMA at [top-DefaultStackSize, top)
// and writes argc/argv/envp/auxv top-down per spec §4.12, returning the
// initial SP to install in the task's trap frame.
func BuildUserStack(as *vmm.AddressSpace, top uintptr, img *Image, argv, envp []string) (uintptr, error) {
	start := top - DefaultStackSize
	vma := vmm.VMA{Start: start, End: top, Perm: vmm.PermRead | vmm.PermWrite, Backing: vmm.BackingStack}
	if errn := as.MapVMA(vma); errn != 0 {
		return 0, fmt.Errorf("elf: stack MapVMA failed: %v", errn)
	}

	// Write the argv/envp string pool first, from the top down, so we
	// know each string's final address before laying out the pointer
	// arrays beneath it.
	sp := top
	writeString := func(s string) (uintptr, error) {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		if err := writeAt(as, sp, b); err != nil {
			return 0, err
		}
		return sp, nil
	}

	argvAddrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		addr, err := writeString(argv[i])
		if err != nil {
			return 0, err
		}
		argvAddrs[i] = addr
	}
	envpAddrs := make([]uintptr, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		addr, err := writeString(envp[i])
		if err != nil {
			return 0, err
		}
		envpAddrs[i] = addr
	}

	// Bottom of stack (lowest address, what SP points to) up to the
	// string pool: argc, argv pointers, NUL, envp pointers, NUL, auxv
	// entries, AT_NULL (spec §4.12 "argc, argv pointers, NUL, envp
	// pointers, NUL, auxv entries").
	var words []uint64
	words = append(words, uint64(len(argv)))
	for _, a := range argvAddrs {
		words = append(words, uint64(a))
	}
	words = append(words, 0)
	for _, e := range envpAddrs {
		words = append(words, uint64(e))
	}
	words = append(words, 0)
	words = append(words, atPhdr, uint64(phdrAddr(img)))
	words = append(words, atEntry, img.Entry)
	words = append(words, atPagesz, uint64(vmm.PageSize))
	words = append(words, atNull, 0)

	totalBytes := uintptr(len(words)) * 8
	sp -= totalBytes
	sp &^= 15 // 16-byte align

	buf := make([]byte, len(words)*8)
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	if err := writeAt(as, sp, buf); err != nil {
		return 0, err
	}
	return sp, nil
}

// phdrAddr reports where the program headers would land in the loaded
// image, approximated as the first PT_LOAD segment's start (the ELF
// header and phdrs conventionally precede .text within that segment).
func phdrAddr(img *Image) uintptr {
	for _, ph := range img.Headers {
		if ph.Type == ptLoad {
			return uintptr(ph.VAddr)
		}
	}
	return 0
}

// writeAt faults in and copies data starting at va, spanning however
// many pages it needs.
func writeAt(as *vmm.AddressSpace, va uintptr, data []byte) error {
	end := va + uintptr(len(data))
	for p := pageFloor(va); p < end; p += vmm.PageSize {
		res := as.HandleFault(p, true)
		if res.Terminate {
			return fmt.Errorf("elf: fault while building stack at 0x%x: %v", p, res.Err)
		}
	}
	written := 0
	for written < len(data) {
		n, err := copyToVA(as, va+uintptr(written), data[written:])
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		written += n
	}
	return nil
}
