package timer

import (
	"testing"

	"sis/internal/platform"
)

func TestTicksPerQuantumMatchesFrequency(t *testing.T) {
	tm := New(platform.Timer{FrequencyHz: 1000000}, 10)
	if tm.ticksPerTick != 10000 {
		t.Fatalf("expected 10000 ticks per 10ms quantum at 1MHz, got %d", tm.ticksPerTick)
	}
}

func TestRearmIncrementsTickCount(t *testing.T) {
	tm := New(platform.Timer{FrequencyHz: 62500000}, 10)
	tm.Arm()
	if tm.Ticks() != 0 {
		t.Fatalf("Arm alone should not advance tick count")
	}
	tm.Rearm()
	tm.Rearm()
	if tm.Ticks() != 2 {
		t.Fatalf("expected 2 ticks after two Rearm calls, got %d", tm.Ticks())
	}
}

func TestNowIsMonotonic(t *testing.T) {
	tm := New(platform.Timer{FrequencyHz: 62500000}, 10)
	a := tm.Now()
	b := tm.Now()
	if b <= a {
		t.Fatalf("Now() should advance: a=%d b=%d", a, b)
	}
}

func TestZeroFrequencyFallsBackToDefault(t *testing.T) {
	tm := New(platform.Timer{FrequencyHz: 0}, 10)
	if tm.freqHz == 0 {
		t.Fatalf("zero platform frequency should fall back to a nonzero default")
	}
}
