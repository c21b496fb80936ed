package sched

import (
	"testing"

	"sis/internal/task"
)

func TestDispatchFIFOOrder(t *testing.T) {
	s := New(5)
	a := task.New(1, 0, nil)
	b := task.New(2, 0, nil)
	s.Add(a)
	s.Add(b)

	got, ok := s.Dispatch(0)
	if !ok || got.PID != 1 {
		t.Fatalf("expected PID 1 dispatched first, got %+v ok=%v", got, ok)
	}
	got, ok = s.Dispatch(0)
	if !ok || got.PID != 2 {
		t.Fatalf("expected PID 2 dispatched second, got %+v ok=%v", got, ok)
	}
}

func TestDispatchEmptyQueueReturnsFalse(t *testing.T) {
	s := New(5)
	if _, ok := s.Dispatch(0); ok {
		t.Fatalf("dispatch on empty queue should return false")
	}
}

func TestTickRequeuesOnQuantumExhaustion(t *testing.T) {
	s := New(2)
	a := task.New(1, 0, nil)
	b := task.New(2, 0, nil)
	s.Add(a)
	s.Add(b)
	s.Dispatch(0) // current = a, quantum=2

	if resched := s.Tick(0); resched {
		t.Fatalf("should not reschedule after first tick (quantum still > 0)")
	}
	if resched := !s.Tick(0); resched {
		t.Fatalf("should reschedule once quantum hits 0")
	}

	cur, ok := s.Current(0)
	if ok {
		t.Fatalf("current should be cleared after requeue, got %+v", cur)
	}
	if s.Len() != 2 {
		t.Fatalf("expected requeued task plus waiting task b, got len=%d", s.Len())
	}
}

func TestYieldRequeuesImmediately(t *testing.T) {
	s := New(10)
	a := task.New(1, 0, nil)
	s.Add(a)
	s.Dispatch(0)
	s.Yield(0)
	if _, ok := s.Current(0); ok {
		t.Fatalf("current should be cleared after yield")
	}
	if s.Len() != 1 {
		t.Fatalf("expected yielded task back on queue, got len=%d", s.Len())
	}
}

func TestBlockAndRequeue(t *testing.T) {
	s := New(10)
	a := task.New(1, 0, nil)
	s.Add(a)
	s.Dispatch(0)
	s.BlockCurrent(0)
	if _, ok := s.Current(0); ok {
		t.Fatalf("current should be cleared after block")
	}
	if s.Len() != 0 {
		t.Fatalf("blocked task should not be on the run queue")
	}
	s.Requeue(a)
	if s.Len() != 1 {
		t.Fatalf("requeued task should reappear on the run queue")
	}
}
