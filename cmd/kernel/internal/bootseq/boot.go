// Package bootseq assembles every internal subsystem into the boot
// sequence spec.md §2 describes: platform detection, physical+virtual
// memory, GICv3+timer, (optional) secondary CPUs, the task table and
// scheduler, the VFS with its backends, the initramfs, and finally PID 1.
//
// It plays the role of kernel.go's KernelMain/kernelMainBody: a single
// staged function with UART breadcrumbs before the framebuffer comes
// up, console status lines after. Bring-up here is plain constructor
// calls into internal/ packages instead of hand-patched Go-runtime
// internals, because SIS schedules its own task model rather than
// commandeering goroutines to do it.
package bootseq

import (
	"sis/internal/blockdev"
	"sis/internal/buddy"
	"sis/internal/diag"
	"sis/internal/elf"
	"sis/internal/fbconsole"
	"sis/internal/fs/devfs"
	"sis/internal/fs/procfs"
	"sis/internal/fs/ramfs"
	"sis/internal/gic"
	"sis/internal/initramfs"
	"sis/internal/platform"
	"sis/internal/psci"
	"sis/internal/sched"
	"sis/internal/selftest"
	"sis/internal/smp"
	"sis/internal/syscall"
	"sis/internal/task"
	"sis/internal/timer"
	"sis/internal/trap"
	"sis/internal/vfs"
	"sis/internal/vmm"
)

// QuantumMillis is the scheduler's fixed timer quantum (spec §4.5
// "default 10 ms quantum").
const QuantumMillis = 10

// DefaultUARTBaud is the PL011 baud rate used on every supported board.
const DefaultUARTBaud = 115200

// Kernel holds every live subsystem handle produced by Boot, in the same
// dependency order as spec §2's component table.
type Kernel struct {
	Platform platform.Descriptor
	Frames   *buddy.Allocator
	GIC      *gic.Controller
	Timer    *timer.Timer
	PSCI     psci.Client
	SMP      *smp.Coordinator

	Sched    *sched.Scheduler
	Syscalls *syscall.Table
	Trap     *trap.Dispatcher
	VFS      *vfs.VFS
	Blocks   *blockdev.Registry

	UART *platform.UARTDriver
	FB   *fbconsole.Console
}

// stackAllocator adapts the buddy allocator to smp.StackAllocator,
// matching spec §4.6's "allocate a 16 KiB stack (aligned 16)" out of the
// same physical-page pool everything else uses.
type stackAllocator struct{ frames *buddy.Allocator }

func (s stackAllocator) AllocStack(size int) (uintptr, bool) {
	order := 0
	for (buddy.PageSize << uint(order)) < size {
		order++
	}
	addr, errn := s.frames.AllocPages(order)
	if errn != 0 {
		return 0, false
	}
	return addr + uintptr(size), true
}

// Boot performs the full bring-up sequence through a live scheduler and
// returns the assembled Kernel, the root ("/init") task, and any boot
// error. dtbBlob may be nil (QEMU virt fallback constants apply); fb may
// be nil (serial-only diagnostics). fb is a pre-constructed FrameBuffer
// rather than a raw base address so that the platform-specific choice
// between a mapped-memory surface (aarch64) and a host-testable one
// lives in cmd/kernel's build-tagged files, not here.
func Boot(dtbBlob []byte, fb fbconsole.FrameBuffer, ramBase, ramSize uintptr, initramfsBlob []byte, nCPUs int) (*Kernel, *task.Task, error) {
	k := &Kernel{}

	// Stage 0: platform detection (spec §4.1).
	k.Platform = platform.Detect(dtbBlob)
	k.UART = platform.NewUART(k.Platform.UART, DefaultUARTBaud)
	diag.AddSink(k.UART)
	diag.Printf("sis: platform=%s uart=0x%x\r\n", k.Platform.Board.String(), uint64(k.Platform.UART.Base))

	// Stage 1: physical memory (spec §4.2). RAM below the kernel's own
	// load image is reserved by the caller before ramBase is handed here,
	// matching kernel.go's "everything in RAM starting after .bss" idiom
	// in its section pre-mapping.
	k.Frames = buddy.New(ramBase, ramSize)
	diag.Printf("sis: buddy allocator over %d pages\r\n", int(ramSize/buddy.PageSize))

	// Stage 2: GICv3 + timer (spec §4.4, §4.5).
	k.GIC = gic.New(k.Platform.GIC, k.Platform.GIC.RedistributorBase)
	k.GIC.Init()
	k.Timer = timer.New(k.Platform.Timer, QuantumMillis)
	k.Timer.Arm()
	diag.Print("sis: GICv3 + timer online\r\n")

	// Stage 3: PSCI + optional SMP bring-up (spec §4.6).
	k.PSCI = psci.Client{Available: k.Platform.PSCIPresent}
	diag.ResetFunc = k.PSCI.SystemReset
	k.SMP = smp.New(&k.PSCI, k.GIC, stackAllocator{k.Frames})
	if nCPUs > 1 {
		booted, failed := k.SMP.BringUp(nCPUs, 0)
		diag.Printf("sis: SMP bring-up: %d booted, %d failed\r\n", booted, len(failed))
	}

	// Stage 4: framebuffer diagnostic console (supplemented; spec §6 "GOP
	// framebuffer descriptor"), best-effort, never fatal.
	if fb != nil {
		if console, err := fbconsole.New(fb); err == nil {
			k.FB = console
			diag.AddSink(console)
			diag.Print("sis: framebuffer console online\r\n")
		} else {
			diag.Printf("sis: framebuffer console unavailable: %s\r\n", err.Error())
		}
	}

	// Stage 5: block device registry (spec §6), SDHCI when the platform
	// descriptor found one.
	k.Blocks = blockdev.NewRegistry()
	if k.Platform.HasSDHCI {
		k.Blocks.Register(blockdev.NewSDHCI("mmcblk0", k.Platform.SDHCIBase, 0))
		diag.Print("sis: SDHCI block device registered\r\n")
	}

	// Stage 6: scheduler + VFS (spec §4.7, §4.9, §4.10).
	k.Sched = sched.New(QuantumMillis)
	k.VFS = vfs.New()
	root := ramfs.New()
	k.VFS.Mount("/", root)
	k.VFS.Mount("/dev", devfs.New())
	k.VFS.Mount("/proc", procfs.New(newProcSource(k)))
	diag.Print("sis: VFS mounted (/, /dev, /proc)\r\n")

	// Stage 7: initramfs (spec §4.11). A malformed archive aborts boot.
	if initramfsBlob != nil {
		if err := initramfs.Load(initramfsBlob, root); err != nil {
			diag.Panic("initramfs load failed: " + err.Error())
			return nil, nil, err
		}
		diag.Print("sis: initramfs materialized\r\n")
	}

	// Stage 8: self-tests (supplemented; spec §8 round-trip laws).
	results := selftest.RunAll(selftest.Default(k.Frames))
	if !selftest.AllPassed(results) {
		diag.Panic("boot self-tests failed")
		return nil, nil, errBootSelfTest
	}

	// Stage 9: syscall table + trap dispatcher, wired to the live
	// scheduler and VFS (spec §4.8, §4.13).
	k.Syscalls = syscall.New(k.VFS, k.Sched, k.Frames, 2)
	k.Trap = &trap.Dispatcher{
		GIC:           k.GIC,
		Sched:         k.Sched,
		Timer:         k.Timer,
		Syscall:       k.Syscalls.Dispatch,
		TimerIRQID:    timerPPIID,
		RescheduleSGI: smpRescheduleSGI,
	}

	// Stage 10: spawn PID 1 from /sbin/init or /init (spec §4.12, §4.13).
	initTask, err := spawnInit(k, k.Syscalls)
	if err != nil {
		diag.Panic("spawning PID 1 failed: " + err.Error())
		return nil, nil, err
	}
	diag.Print("sis: PID 1 spawned, boot complete\r\n")

	return k, initTask, nil
}

// timerPPIID is the ARM generic timer's standard PPI id (spec glossary
// "PPI"): EL1 physical timer, INTID 30.
const timerPPIID = 30

// smpRescheduleSGI is the SGI id reserved for the Reschedule IPI role
// (spec §4.6 "IPIs use SGI IDs with named roles").
const smpRescheduleSGI = 0

// spawnInit loads /sbin/init (falling back to /init), builds its address
// space and user stack, and enqueues it as PID 1 with fds 0-2 bound to
// /dev/console (spec §4.12).
func spawnInit(k *Kernel, calls *syscall.Table) (*task.Task, error) {
	data, err := readWholeFile(k.VFS, "/sbin/init")
	if err != nil {
		data, err = readWholeFile(k.VFS, "/init")
	}
	if err != nil {
		return nil, err
	}

	img, err := elf.Parse(data)
	if err != nil {
		return nil, err
	}

	as := vmm.NewAddressSpace(k.Frames)
	if _, err := elf.Load(img, as); err != nil {
		return nil, err
	}
	sp, err := elf.BuildUserStack(as, 0x7FFF_FFFF_0000, img, []string{"/sbin/init"}, nil)
	if err != nil {
		return nil, err
	}

	t := task.New(1, 0, as)
	t.Frame.ELR = uint64(img.Entry)
	t.Frame.SP = uint64(sp)
	t.Cwd = "/"
	for fd := 0; fd < 3; fd++ {
		calls.BindFD(t, fd, "/dev/console")
	}

	k.Sched.Add(t)
	return t, nil
}

func readWholeFile(v *vfs.VFS, path string) ([]byte, error) {
	f, errn := v.Open(path, vfs.OReadWrite, 0)
	if errn != 0 {
		return nil, errFileNotFound(path)
	}
	defer f.Close()
	st, errn := f.Stat()
	if errn != 0 {
		return nil, errFileNotFound(path)
	}
	buf := make([]byte, st.Size)
	n, errn := f.Read(buf)
	if errn != 0 {
		return nil, errFileNotFound(path)
	}
	return buf[:n], nil
}
