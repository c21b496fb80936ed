package bootseq

import (
	"fmt"
	"time"

	"sis/internal/vmm"
)

// procSource implements procfs.Source over a live Kernel, replacing the
// fake the package's own tests use with the real buddy/sched/VFS state
// (spec §4.10 "synthesize text from live counters").
type procSource struct {
	k      *Kernel
	nCPUs  int
	bootAt time.Time
}

func newProcSource(k *Kernel) *procSource {
	return &procSource{k: k, nCPUs: 1, bootAt: bootEpoch()}
}

// bootEpoch supplies procSource.bootAt and returns the zero time:
// production code has no wall clock before NTP/RTC wiring exists, so
// uptime is tracked from the timer's tick counter instead (see
// UptimeSeconds).
var bootEpoch = func() time.Time { return time.Time{} }

func (p *procSource) CPUCount() int { return p.nCPUs }

func (p *procSource) MemTotalBytes() uint64 {
	return p.k.Frames.Stats().TotalPages * 4096
}

func (p *procSource) MemFreeBytes() uint64 {
	return p.k.Frames.FreePageCount() * 4096
}

func (p *procSource) UptimeSeconds() float64 {
	if p.k.Timer == nil {
		return 0
	}
	ticks := p.k.Timer.Ticks()
	return float64(ticks) * float64(QuantumMillis) / 1000.0
}

func (p *procSource) Mounts() []string {
	return []string{"/ ramfs", "/dev devfs", "/proc procfs"}
}

func (p *procSource) CurrentPID() int {
	if t, ok := p.k.Sched.Current(0); ok {
		return t.PID
	}
	return 0
}

func (p *procSource) TaskCmdline(pid int) (string, bool) {
	t, ok := p.k.Sched.Lookup(pid)
	if !ok {
		return "", false
	}
	cmdline := ""
	for _, a := range t.Argv {
		cmdline += a + "\x00"
	}
	return cmdline, true
}

func (p *procSource) TaskStat(pid int) (string, bool) {
	t, ok := p.k.Sched.Lookup(pid)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%d (%s) %s %d", t.PID, "task", t.State.String(), t.PPID), true
}

func (p *procSource) TaskStatus(pid int) (string, bool) {
	t, ok := p.k.Sched.Lookup(pid)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Pid:\t%d\nPPid:\t%d\nState:\t%s\nUid:\t%d\nGid:\t%d\n",
		t.PID, t.PPID, t.State.String(), t.UID, t.GID), true
}

func (p *procSource) TaskMaps(pid int) ([]string, bool) {
	t, ok := p.k.Sched.Lookup(pid)
	if !ok {
		return nil, false
	}
	var lines []string
	for _, v := range t.AddressSpace.VMAs() {
		lines = append(lines, fmt.Sprintf("%x-%x %s 00000000 00:00 0 [%s]",
			v.Start, v.End, permString(v.Perm), backingLabel(v.Backing)))
	}
	return lines, true
}

func permString(p vmm.Perm) string {
	r, w, x := "-", "-", "-"
	if p.Has(vmm.PermRead) {
		r = "r"
	}
	if p.Has(vmm.PermWrite) {
		w = "w"
	}
	if p.Has(vmm.PermExec) {
		x = "x"
	}
	return r + w + x + "p"
}

func backingLabel(b vmm.Backing) string {
	switch b {
	case vmm.BackingAnonymous:
		return "anon"
	case vmm.BackingFile:
		return "file"
	case vmm.BackingStack:
		return "stack"
	case vmm.BackingDevice:
		return "device"
	default:
		return "?"
	}
}
