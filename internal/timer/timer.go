// Package timer programs the EL1 virtual timer for fixed-quantum
// preemption, grounded on timer_qemu.go's CNTV_* register wrapper idiom
// and nanotime.go's counter conversion,
// generalized from a fixed demo countdown to a reprogrammable scheduler
// tick.
package timer

import (
	"sis/internal/arch"
	"sis/internal/platform"
)

const (
	ctlEnable uint32 = 1 << 0
	ctlIMask  uint32 = 1 << 1
	ctlIPend  uint32 = 1 << 2

	// DefaultQuantumMillis is the default scheduling quantum (spec §4.5).
	DefaultQuantumMillis = 10
)

// Timer wraps the ARM generic virtual timer, converting between wall
// time and hardware ticks using the frequency read at Init time.
type Timer struct {
	freqHz       uint64
	ticksPerTick uint64 // ticks per scheduler quantum
	ticks        uint64 // tick count since Init, for scheduler bookkeeping
}

// New builds a Timer from a platform descriptor's timer frequency,
// falling back to reading CNTFRQ_EL0 if the descriptor's frequency is
// zero.
func New(cfg platform.Timer, quantumMillis uint32) *Timer {
	freq := cfg.FrequencyHz
	if freq == 0 {
		freq = arch.ReadCNTFRQ()
	}
	if freq == 0 {
		freq = 62500000
	}
	t := &Timer{freqHz: freq}
	t.ticksPerTick = (freq * uint64(quantumMillis)) / 1000
	return t
}

// Arm programs the countdown for one quantum and enables the timer with
// interrupts unmasked.
func (t *Timer) Arm() {
	ticks := t.ticksPerTick
	if ticks > 0xFFFFFFFF {
		ticks = 0xFFFFFFFF
	}
	arch.WriteTimerTval(uint32(ticks))
	arch.WriteTimerCtl(ctlEnable)
}

// Disable masks the timer, used while quiescing a CPU.
func (t *Timer) Disable() {
	arch.WriteTimerCtl(ctlIMask)
}

// Rearm re-arms the countdown for the next quantum. Called from the
// tick handler fast path; it must not allocate, block, or print (spec
// §4.5).
func (t *Timer) Rearm() {
	t.ticks++
	t.Arm()
}

// Ticks returns the number of quanta elapsed since Init, used by the
// scheduler for accounting and by procfs for uptime.
func (t *Timer) Ticks() uint64 {
	return t.ticks
}

// NanosPerTick converts the configured quantum to nanoseconds.
func (t *Timer) NanosPerTick() int64 {
	if t.freqHz == 0 {
		return 0
	}
	return int64(t.ticksPerTick) * 1000000000 / int64(t.freqHz)
}

// Now returns nanoseconds since boot, derived from the free-running
// hardware counter (grounded on nanotime.go's nanotime()).
func (t *Timer) Now() int64 {
	if t.freqHz == 0 {
		return 0
	}
	counter := arch.ReadCNTVCT()
	return int64(counter * 1000000000 / t.freqHz)
}
