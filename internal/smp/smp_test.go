package smp

import (
	"testing"
	"time"

	"sis/internal/gic"
	"sis/internal/platform"
	"sis/internal/psci"
)

type fakeStacks struct{ next uintptr }

func (f *fakeStacks) AllocStack(size int) (uintptr, bool) {
	f.next += uintptr(size)
	return f.next, true
}

type failingStacks struct{}

func (failingStacks) AllocStack(size int) (uintptr, bool) { return 0, false }

func newCoordinator() *Coordinator {
	p := &psci.Client{Available: true}
	g := gic.New(platform.GIC{DistributorBase: 0x1000, RedistributorBase: 0x2000}, 0x2000)
	return New(p, g, &fakeStacks{})
}

func TestPublishOnlineThenIsOnline(t *testing.T) {
	ResetOnlineMaskForTest()
	defer ResetOnlineMaskForTest()
	if IsOnline(3) {
		t.Fatalf("cpu 3 should start offline")
	}
	PublishOnline(3)
	if !IsOnline(3) {
		t.Fatalf("cpu 3 should be online after publish")
	}
}

func TestBringUpTimesOutWhenNeverPublished(t *testing.T) {
	ResetOnlineMaskForTest()
	defer ResetOnlineMaskForTest()
	c := newCoordinator()

	start := time.Now()
	booted, failed := c.BringUp(2, 0x40100000)
	elapsed := time.Since(start)

	if booted != 0 || len(failed) != 1 {
		t.Fatalf("expected 1 cpu to fail bring-up, got booted=%d failed=%v", booted, failed)
	}
	if elapsed > 2*BringupTimeout {
		t.Fatalf("bring-up should respect its bounded timeout, took %v", elapsed)
	}
}

func TestBringUpSucceedsWhenCPUPublishesInTime(t *testing.T) {
	ResetOnlineMaskForTest()
	defer ResetOnlineMaskForTest()
	c := newCoordinator()

	go func() {
		time.Sleep(5 * time.Millisecond)
		PublishOnline(1)
	}()

	booted, failed := c.BringUp(2, 0x40100000)
	if booted != 1 || len(failed) != 0 {
		t.Fatalf("expected cpu 1 to boot, got booted=%d failed=%v", booted, failed)
	}
}

func TestBringUpFailsOnStackAllocFailure(t *testing.T) {
	ResetOnlineMaskForTest()
	defer ResetOnlineMaskForTest()
	p := &psci.Client{Available: true}
	g := gic.New(platform.GIC{DistributorBase: 0x1000, RedistributorBase: 0x2000}, 0x2000)
	c := New(p, g, failingStacks{})

	booted, failed := c.BringUp(2, 0x40100000)
	if booted != 0 || len(failed) != 1 {
		t.Fatalf("expected stack allocation failure to abort bring-up for that cpu")
	}
}
