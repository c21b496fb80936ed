// Package trap decodes synchronous exceptions and IRQs and routes them
// to the syscall dispatcher, the VMM fault handler, or the scheduler
// (spec §4.8). It generalizes exceptions.go's handleException/ESR-EC
// switch, replacing "print and hang" with structured
// outcomes the caller (the assembly trampoline, stood in for here by
// whatever calls HandleSync/HandleIRQ) uses to decide whether to resume,
// reschedule, or kill the task.
package trap

import (
	"sis/internal/errno"
	"sis/internal/gic"
	"sis/internal/sched"
	"sis/internal/task"
)

// Exception classes from ESR_EL1 bits 31:26 (spec §4.8), named and
// valued exactly as exceptions.go's EC_* constants.
const (
	ecUnknown       = 0b000000
	ecTrapWFx       = 0b000001
	ecDataAbortEL0  = 0b100100
	ecDataAbortELx  = 0b100101
	ecSVCEL0A64     = 0b010101
	ecInstrAbortEL0 = 0b100000
	ecInstrAbortELx = 0b100001
	ecIllegal       = 0b011110
)

// issWnR is the ESR_EL1.ISS "write not read" bit for data aborts.
const issWnR = 1 << 6

// Outcome tells the caller what to do after a synchronous exception.
type Outcome struct {
	Resume    bool // same ELR, same task: transparently handled (e.g. demand-paged fault)
	Terminate bool // kill the task (spec §4.8 unrecoverable fault -> Zombie)
	ExitCode  int
}

// SyscallFunc executes one syscall and returns the x0 result (negative
// errno on failure), per the syscall ABI (spec §4.8, §4.13). cpuID is
// passed through so handlers that touch scheduler run-queue state
// (fork, wait4, exit) can address the right CPU's current-task slot.
type SyscallFunc func(cpuID int, cur *task.Task, num uint64, args [6]uint64) int64

// Dispatcher ties exception decoding to the scheduler, the GIC, and the
// syscall table. One Dispatcher per CPU's private interrupt context; the
// GIC and Sched pointers are typically shared across CPUs.
type Dispatcher struct {
	GIC     *gic.Controller
	Sched   *sched.Scheduler
	Timer   TimerDevice
	Syscall SyscallFunc

	// TimerIRQID is the SPI/PPI id the GIC reports for the ARM generic
	// timer (spec §4.6 "Timer").
	TimerIRQID uint32
	// RescheduleSGI is the SGI id used to ping other cores after a
	// cross-CPU wake (spec §4.7 SMP run queue).
	RescheduleSGI uint8
}

// TimerDevice is the subset of *timer.Timer the trap dispatcher needs,
// accepted as an interface to avoid a direct package dependency cycle
// risk and to keep HandleIRQ host-testable with a fake.
type TimerDevice interface {
	Rearm()
}

// HandleSync decodes one synchronous exception (SVC or a Data/Instruction
// abort) for the current task on cpuID and reports how to proceed.
func (d *Dispatcher) HandleSync(cpuID int, cur *task.Task, esr uint64, far uintptr) Outcome {
	ec := uint8((esr >> 26) & 0x3F)
	switch ec {
	case ecSVCEL0A64:
		return d.handleSVC(cpuID, cur)
	case ecDataAbortEL0, ecDataAbortELx, ecInstrAbortEL0, ecInstrAbortELx:
		write := ec != ecInstrAbortEL0 && ec != ecInstrAbortELx && esr&issWnR != 0
		res := cur.AddressSpace.HandleFault(far, write)
		if res.Terminate {
			return Outcome{Terminate: true, ExitCode: terminationCode(res.Err)}
		}
		return Outcome{Resume: true}
	default:
		// Undefined instruction, WFx trap, SVE trap, etc: no recovery
		// path defined (spec Non-goals exclude signal delivery), so the
		// task is killed rather than the kernel hanging.
		return Outcome{Terminate: true, ExitCode: 128 + int(ec)}
	}
}

// handleSVC reads the syscall number and up to six arguments out of the
// trap frame per the aarch64 convention (x8=number, x0-x5=args) and
// writes the result back into x0 (spec §4.8 "Syscall ABI").
func (d *Dispatcher) handleSVC(cpuID int, cur *task.Task) Outcome {
	num := cur.Frame.X[8]
	var args [6]uint64
	copy(args[:], cur.Frame.X[0:6])
	result := d.Syscall(cpuID, cur, num, args)
	cur.Frame.X[0] = uint64(result)
	return Outcome{Resume: true}
}

func terminationCode(e errno.Errno) int {
	if e == errno.OK {
		return 139 // SIGSEGV-equivalent, no errno set
	}
	return 128 + int(e)
}

// IRQOutcome reports what an IRQ handler should do once control returns
// to the trampoline.
type IRQOutcome struct {
	Reschedule bool
}

// HandleIRQ acks the pending interrupt, dispatches it, and EOIs it (spec
// §4.6 "Timer", §4.7 SMP). Unknown device IRQs are acked and EOI'd but
// otherwise ignored; SIS has no device driver interrupt consumers beyond
// the timer and inter-processor SGIs.
func (d *Dispatcher) HandleIRQ(cpuID int) IRQOutcome {
	id := d.GIC.Ack()
	defer func() {
		if !gic.IsSpurious(id) {
			d.GIC.EOI(id)
		}
	}()
	if gic.IsSpurious(id) {
		return IRQOutcome{}
	}
	switch {
	case id == d.TimerIRQID:
		if d.Timer != nil {
			d.Timer.Rearm()
		}
		return IRQOutcome{Reschedule: d.Sched.Tick(cpuID)}
	case id == uint32(d.RescheduleSGI):
		return IRQOutcome{Reschedule: true}
	default:
		return IRQOutcome{}
	}
}
