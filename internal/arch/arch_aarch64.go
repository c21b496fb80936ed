//go:build aarch64

// Package arch declares the small set of aarch64 intrinsics the kernel
// needs that cannot be expressed in Go: system-register access, barriers,
// and raw MMIO. Each is backed by a hand-written assembly stub (not
// among this module's sources) and exposed here through
// go:linkname, the same pattern the "asm" package uses
// (see gic_qemu.go, timer_qemu.go, mmu.go). The non-aarch64 build
// (arch_host.go) provides a portable, heap-backed simulation of the same
// API so the rest of the kernel's logic is unit-testable on the host
// toolchain without an MMU, GIC, or PSCI firmware present.
package arch

import _ "unsafe" // for go:linkname

// MmioRead reads a 32-bit MMIO register at a physical address.
//
//go:linkname MmioRead sis_mmio_read32
//go:nosplit
func MmioRead(addr uintptr) uint32

// MmioWrite writes a 32-bit MMIO register at a physical address.
//
//go:linkname MmioWrite sis_mmio_write32
//go:nosplit
func MmioWrite(addr uintptr, val uint32)

// MmioRead64/MmioWrite64 are the 64-bit counterparts, used by GICv3
// system-register-mapped redistributor fields and TTBR manipulation.
//
//go:linkname MmioRead64 sis_mmio_read64
//go:nosplit
func MmioRead64(addr uintptr) uint64

//go:linkname MmioWrite64 sis_mmio_write64
//go:nosplit
func MmioWrite64(addr uintptr, val uint64)

// Dsb issues a full data synchronization barrier (DSB SY).
//
//go:linkname Dsb sis_dsb
//go:nosplit
func Dsb()

// Isb issues an instruction synchronization barrier.
//
//go:linkname Isb sis_isb
//go:nosplit
func Isb()

// InvalidateTLBVA invalidates the TLB entry for a single virtual address
// in the current ASID (TLBI VAE1IS-style), used after COW/unmap (§4.3,
// §5 "Ordering guarantees").
//
//go:linkname InvalidateTLBVA sis_tlbi_va
//go:nosplit
func InvalidateTLBVA(va uintptr)

// InvalidateTLBAll invalidates the whole TLB, used on TTBR0 switch when
// ASID tagging is unavailable.
//
//go:linkname InvalidateTLBAll sis_tlbi_all
//go:nosplit
func InvalidateTLBAll()

// WriteTTBR0 installs a new user translation table base, switching
// address spaces (§4.7 dispatch contract).
//
//go:linkname WriteTTBR0 sis_write_ttbr0
//go:nosplit
func WriteTTBR0(pa uintptr)

// DisableIRQs / EnableIRQs mask/unmask the I bit in PSTATE/DAIF.
//
//go:linkname DisableIRQs sis_disable_irqs
//go:nosplit
func DisableIRQs() (wasEnabled bool)

//go:linkname EnableIRQs sis_enable_irqs
//go:nosplit
func EnableIRQs()

// WFI issues a wait-for-interrupt, used by the SMP idle loop (§4.6).
//
//go:linkname WFI sis_wfi
//go:nosplit
func WFI()

// ICacheInvalidateRange invalidates the instruction cache for a virtual
// range, used after execve loads code (§4.12).
//
//go:linkname ICacheInvalidateRange sis_ic_ivau_range
//go:nosplit
func ICacheInvalidateRange(va uintptr, length uintptr)

// ReadMPIDR returns the affinity register identifying the current CPU
// (§3 "Task", MPIDR/affinity field).
//
//go:linkname ReadMPIDR sis_read_mpidr_el1
//go:nosplit
func ReadMPIDR() uint64

// PSCICall issues an HVC or SMC conduit call, used by internal/psci.
//
//go:linkname PSCICall sis_psci_call
//go:nosplit
func PSCICall(function uint64, arg0, arg1, arg2 uint64) int64

// ReadCNTFRQ returns the ARM generic timer's counter frequency in Hz,
// read once at boot (§4.5 "Timer").
//
//go:linkname ReadCNTFRQ sis_read_cntfrq_el0
//go:nosplit
func ReadCNTFRQ() uint64

// ReadCNTVCT returns the free-running virtual counter value.
//
//go:linkname ReadCNTVCT sis_read_cntvct_el0
//go:nosplit
func ReadCNTVCT() uint64

// WriteTimerTval sets CNTV_TVAL_EL0, the countdown to the next tick.
//
//go:linkname WriteTimerTval sis_write_cntv_tval_el0
//go:nosplit
func WriteTimerTval(ticks uint32)

// WriteTimerCtl sets CNTV_CTL_EL0 (enable/mask bits).
//
//go:linkname WriteTimerCtl sis_write_cntv_ctl_el0
//go:nosplit
func WriteTimerCtl(val uint32)

// Linker-provided boot parameters. Each is backed by a linker-script
// symbol resolved at link time (linker.ld) and fetched through the same
// assembly-helper indirection kernel.go's getLinkerSymbol uses, so cmd/kernel
// never hardcodes a memory address.

//go:linkname BootDTBAddr sis_boot_dtb_addr
//go:nosplit
func BootDTBAddr() uintptr

//go:linkname BootDTBSize sis_boot_dtb_size
//go:nosplit
func BootDTBSize() uintptr

//go:linkname BootRAMStart sis_boot_ram_start
//go:nosplit
func BootRAMStart() uintptr

//go:linkname BootRAMSize sis_boot_ram_size
//go:nosplit
func BootRAMSize() uintptr

//go:linkname BootInitramfsAddr sis_boot_initramfs_addr
//go:nosplit
func BootInitramfsAddr() uintptr

//go:linkname BootInitramfsSize sis_boot_initramfs_size
//go:nosplit
func BootInitramfsSize() uintptr

//go:linkname BootFramebufferBase sis_boot_fb_base
//go:nosplit
func BootFramebufferBase() uintptr

//go:linkname BootFramebufferWidth sis_boot_fb_width
//go:nosplit
func BootFramebufferWidth() uint32

//go:linkname BootFramebufferHeight sis_boot_fb_height
//go:nosplit
func BootFramebufferHeight() uint32

//go:linkname BootFramebufferPitch sis_boot_fb_pitch
//go:nosplit
func BootFramebufferPitch() uint32

// BootCPUCount returns the number of CPUs the DTB's /cpus node
// enumerates, read by the platform layer before SMP bring-up (§4.6).
//
//go:linkname BootCPUCount sis_boot_cpu_count
//go:nosplit
func BootCPUCount() uint32
