//go:build !aarch64

// Package arch, host build: a portable simulation of the aarch64
// intrinsics declared in arch_aarch64.go, backing a 32-bit "MMIO" address
// space with an ordinary Go map. This is what every `go test ./...` run
// actually exercises; it has no hardware fidelity and exists purely so
// internal/gic, internal/timer, internal/platform, and internal/vmm can
// be unit-tested on a development machine.
package arch

import "sync"

var (
	mmioMu    sync.Mutex
	mmio32    = map[uintptr]uint32{}
	mmio64    = map[uintptr]uint64{}
	irqsOn    = true
	tlbFlushN int
)

func MmioRead(addr uintptr) uint32 {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	return mmio32[addr]
}

func MmioWrite(addr uintptr, val uint32) {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	mmio32[addr] = val
}

func MmioRead64(addr uintptr) uint64 {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	return mmio64[addr]
}

func MmioWrite64(addr uintptr, val uint64) {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	mmio64[addr] = val
}

func Dsb() {}
func Isb() {}

func InvalidateTLBVA(va uintptr) { tlbFlushN++ }
func InvalidateTLBAll()          { tlbFlushN++ }

func WriteTTBR0(pa uintptr) {}

func DisableIRQs() bool {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	was := irqsOn
	irqsOn = false
	return was
}

func EnableIRQs() {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	irqsOn = true
}

func WFI() {}

func ICacheInvalidateRange(va uintptr, length uintptr) {}

func ReadMPIDR() uint64 { return 0 }

// PSCICall simulates a firmware that honors every call, so packages
// built on top (internal/psci, internal/smp) can be exercised on the
// host without a real PSCI conduit.
func PSCICall(function uint64, arg0, arg1, arg2 uint64) int64 { return 0 }

var (
	simFreqHz   uint64 = 62500000
	simCounter  uint64
	simTimerCtl uint32
)

func ReadCNTFRQ() uint64 { return simFreqHz }

// ReadCNTVCT advances a simulated free-running counter by one tick per
// call, enough for tests to observe monotonic progress without a real
// clock (which arch must not call per the no-Date.Now() rule upstream).
func ReadCNTVCT() uint64 {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	simCounter++
	return simCounter
}

func WriteTimerTval(ticks uint32) {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	mmio32[0xFFFFF000] = ticks
}

func WriteTimerCtl(val uint32) {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	simTimerCtl = val
}

// TLBFlushCount lets tests assert that a TLB invalidation occurred
// (spec §5 "page-table mutations ... are followed by a TLB invalidation").
func TLBFlushCount() int {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	return tlbFlushN
}

// ResetForTest clears all simulated state between test cases.
func ResetForTest() {
	mmioMu.Lock()
	defer mmioMu.Unlock()
	mmio32 = map[uintptr]uint32{}
	mmio64 = map[uintptr]uint64{}
	irqsOn = true
	tlbFlushN = 0
}

// Boot-parameter stand-ins. On real hardware these come from linker
// symbols (see arch_aarch64.go); on host builds there is no linker
// script, so cmd/kernel's host harness gets a small fixed RAM region and
// no DTB/initramfs/framebuffer instead.
func BootDTBAddr() uintptr          { return 0 }
func BootDTBSize() uintptr          { return 0 }
func BootRAMStart() uintptr         { return 0x4000_0000 }
func BootRAMSize() uintptr          { return 128 * 1024 * 1024 }
func BootInitramfsAddr() uintptr    { return 0 }
func BootInitramfsSize() uintptr    { return 0 }
func BootFramebufferBase() uintptr  { return 0 }
func BootFramebufferWidth() uint32  { return 0 }
func BootFramebufferHeight() uint32 { return 0 }
func BootFramebufferPitch() uint32  { return 0 }
func BootCPUCount() uint32          { return 1 }
