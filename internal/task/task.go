// Package task defines the process descriptor and lifecycle states that
// drive the scheduler (spec §4.7, §3 "Task"). It is a from-scratch
// descriptor in the spirit of goroutine.go — which tracks
// state (running/blocked), parent/child-ish signaling, and per-task
// channels by hand rather than leaning on any single stdlib type — but
// built around an explicit process model instead of a goroutine, since
// SIS schedules user processes, not Go goroutines.
package task

import (
	"sync"

	"sis/internal/vmm"
)

// State is a task's position in the lifecycle state machine (spec §4.7
// "States").
type State int

const (
	Runnable State = iota
	Running
	Sleeping
	Zombie
	Dead
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Zombie:
		return "Zombie"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// KernelStackSize is the fixed per-task kernel stack, large enough for
// one trap frame plus call depth (spec §4.7 "a task's kernel stack is
// 16 KiB").
const KernelStackSize = 16 * 1024

// TrapFrame is the fixed-layout register save area built by the
// exception entry path (spec §4.8: "a fixed trap frame (x0-x30, SP, ELR,
// SPSR, ESR, FAR)").
type TrapFrame struct {
	X    [31]uint64 // x0-x30
	SP   uint64
	ELR  uint64
	SPSR uint64
	ESR  uint64
	FAR  uint64
}

// FD is one entry in a task's open-file table, a handle into the VFS
// (package vfs) kept opaque here to avoid an import cycle.
type FD struct {
	Handle int64
	Offset int64
}

// Task is one process. A thread-equivalent concept does not exist in
// this model (spec Non-goals: no kernel threads beyond the per-CPU
// scheduler).
type Task struct {
	mu sync.Mutex

	PID    int
	PPID   int
	State  State
	Exit   int
	UID    int
	GID    int
	MPIDR  uint64

	AddressSpace *vmm.AddressSpace
	KernelStack  []byte
	Frame        TrapFrame

	Children []int
	Files    map[int]*FD
	Cwd      string
	Argv     []string // argv as passed to the most recent execve, for /proc/<pid>/cmdline

	Quantum int     // remaining ticks before re-queue, reset each time the scheduler dispatches this task
	Brk     uintptr // current program break, the mmap-free heap boundary managed by brk(2)

	wake chan struct{} // closed/replaced to transition Sleeping -> Runnable
}

// New allocates a task descriptor with a fresh kernel stack and an empty
// file table seeded with fds 0-2 bound by the caller (spec §4.12: "the
// first three file descriptors are bound to /dev/console").
func New(pid, ppid int, as *vmm.AddressSpace) *Task {
	return &Task{
		PID:          pid,
		PPID:         ppid,
		State:        Runnable,
		AddressSpace: as,
		KernelStack:  make([]byte, KernelStackSize),
		Files:        make(map[int]*FD),
		Cwd:          "/",
		wake:         make(chan struct{}),
	}
}

// Sleep transitions Running -> Sleeping (spec §4.7). Callers hold no
// lock; Sleep acquires its own.
func (t *Task) Sleep() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = Sleeping
	return t.wake
}

// Wake transitions Sleeping -> Runnable, used when data arrives on a
// blocking read or a waited-for child exits (spec §4.7).
func (t *Task) Wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State != Sleeping {
		return
	}
	t.State = Runnable
	close(t.wake)
	t.wake = make(chan struct{})
}

// MarkExit transitions Running -> Zombie and records the exit code (spec
// §4.7). The parent reaps via wait4, which moves Zombie -> Dead.
func (t *Task) MarkExit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Exit = code
	t.State = Zombie
}

// Reap transitions Zombie -> Dead once a parent has collected the exit
// status (spec §4.7).
func (t *Task) Reap() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.State = Dead
}

// AddChild records a newly forked child PID.
func (t *Task) AddChild(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Children = append(t.Children, pid)
}

// RemoveChild drops pid from the child list; wait4 calls it once the
// child has been reaped.
func (t *Task) RemoveChild(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.Children {
		if c == pid {
			t.Children = append(t.Children[:i], t.Children[i+1:]...)
			return
		}
	}
}
