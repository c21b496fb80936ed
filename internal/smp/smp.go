// Package smp brings up secondary CPUs via PSCI CPU_ON and coordinates
// them with the primary through an atomic online mask, following the
// same go:nosplit, boot-log-heavy idiom scheduler_bootstrap.go uses
// for its own one-shot bring-up sequence.
package smp

import (
	"sync/atomic"
	"time"

	"sis/internal/gic"
	"sis/internal/psci"
)

const (
	// MaxCPUs bounds the online mask; SIS targets small aarch64 boards
	// (QEMU virt, RPi5), never more than 64 cores.
	MaxCPUs = 64

	// StackSize is the per-CPU boot stack (spec §4.6 "allocate a 16 KiB
	// stack (aligned 16)").
	StackSize  = 16 * 1024
	StackAlign = 16

	// BringupTimeout bounds how long the primary CPU waits for each
	// secondary to publish itself online (spec §4.6 "bounded timeout per
	// CPU").
	BringupTimeout = time.Second
)

// onlineMask is the atomic bit-per-CPU publication §4.6 requires:
// publishes "online" via an atomic bit in a global mask (Release
// ordering, with a SeqCst fence for visibility).
var onlineMask uint64

// StackAllocator hands out aligned secondary-CPU boot stacks. The kernel
// supplies an implementation backed by the buddy allocator; tests can
// supply a trivial one.
type StackAllocator interface {
	AllocStack(size int) (top uintptr, ok bool)
}

// EntryFunc is the secondary CPU's entry point, invoked (conceptually,
// via PSCI CPU_ON's entry-point argument) once the CPU is released from
// reset. contextID carries the stack top, per spec §4.6.
type EntryFunc func(cpuID int, stackTop uintptr)

// Coordinator drives bring-up of every non-boot CPU.
type Coordinator struct {
	psciClient *psci.Client
	gicCtl     *gic.Controller
	stacks     StackAllocator
}

func New(p *psci.Client, g *gic.Controller, stacks StackAllocator) *Coordinator {
	return &Coordinator{psciClient: p, gicCtl: g, stacks: stacks}
}

// BringUp powers on cpuIDs 1..n-1 (cpu 0 is always the boot CPU) and
// waits, with a bounded per-CPU timeout, for each to publish itself
// online. entry is the address the secondary core should jump to; in a
// real build this is a linker symbol for the secondary entry trampoline,
// passed here as an opaque uintptr so this package stays hardware-free.
func (c *Coordinator) BringUp(n int, entry uintptr) (booted int, failed []int) {
	if n > MaxCPUs {
		n = MaxCPUs
	}
	for cpu := 1; cpu < n; cpu++ {
		top, ok := c.stacks.AllocStack(StackSize)
		if !ok {
			failed = append(failed, cpu)
			continue
		}
		ret := c.psciClient.CPUOn(uint64(cpu), entry, uint64(top))
		if ret != psci.ReturnSuccess {
			failed = append(failed, cpu)
			continue
		}
		if !waitOnline(cpu, BringupTimeout) {
			failed = append(failed, cpu)
			continue
		}
		booted++
	}
	return booted, failed
}

// PublishOnline sets this CPU's bit in the online mask with Release
// ordering and a SeqCst fence for visibility, exactly as spec §4.6
// requires of the secondary entry path. Call once, immediately before
// entering the WFI idle loop.
func PublishOnline(cpuID int) {
	if cpuID < 0 || cpuID >= MaxCPUs {
		return
	}
	for {
		old := atomic.LoadUint64(&onlineMask)
		nw := old | (1 << uint(cpuID))
		if atomic.CompareAndSwapUint64(&onlineMask, old, nw) {
			// CompareAndSwap already provides the sequential
			// consistency fence §4.6 asks for.
			return
		}
	}
}

// IsOnline reports whether cpuID has published itself, with Acquire
// ordering (readers use Acquire per spec §5 "Ordering guarantees").
func IsOnline(cpuID int) bool {
	if cpuID < 0 || cpuID >= MaxCPUs {
		return false
	}
	return atomic.LoadUint64(&onlineMask)&(1<<uint(cpuID)) != 0
}

// waitOnline polls IsOnline with a bounded timeout.
func waitOnline(cpuID int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !IsOnline(cpuID) {
		if time.Now().After(deadline) {
			return false
		}
	}
	return true
}

// ResetOnlineMaskForTest clears published state between test cases.
func ResetOnlineMaskForTest() {
	atomic.StoreUint64(&onlineMask, 0)
}

// IdleLoop is the secondary CPU's steady state once online: WFI until
// woken by an IPI or timer tick. Exposed as a function value so the
// scheduler's Reschedule SGI handler can be substituted in tests without
// pulling in arch.WFI.
type IdleLoop func(stop <-chan struct{})

// DefaultIdleLoop blocks on WFI (wrapped by arch) until stop fires.
func DefaultIdleLoop(wfi func(), stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			wfi()
		}
	}
}
