// Package sched implements uniprocessor-first preemptive round-robin
// scheduling over a single global run queue (spec §4.7). The dispatch
// and re-queue mechanics are new (goroutine.go hands scheduling off
// entirely to the patched Go runtime's own goroutine scheduler via
// runtime.Gosched()), but the "tick decrements a
// counter, re-arm, signal, continue" shape of timerPreempt/timerSignal
// is carried over into Tick below.
package sched

import (
	"sync"

	"sis/internal/task"
)

// Scheduler owns the global run queue and tracks each CPU's current
// task. Spec §4.7: "when SMP is enabled, each CPU carries a thread-local
// 'current task' and a shared queue."
type Scheduler struct {
	mu       sync.Mutex
	runQueue []*task.Task
	current  map[int]*task.Task // cpuID -> running task
	byPID    map[int]*task.Task

	quantumTicks int
}

// New builds an empty scheduler with the given quantum length in timer
// ticks (one tick per quantum.Rearm call).
func New(quantumTicks int) *Scheduler {
	return &Scheduler{
		current:      make(map[int]*task.Task),
		byPID:        make(map[int]*task.Task),
		quantumTicks: quantumTicks,
	}
}

// Add enqueues a freshly created or woken task at the tail of the run
// queue and records it by PID.
func (s *Scheduler) Add(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Quantum = s.quantumTicks
	s.runQueue = append(s.runQueue, t)
	s.byPID[t.PID] = t
}

// Lookup finds a task by PID, used by wait4/kill-style syscalls.
func (s *Scheduler) Lookup(pid int) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byPID[pid]
	return t, ok
}

// Remove drops a task from scheduling entirely (Dead state, reaped).
func (s *Scheduler) Remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPID, pid)
	for i, t := range s.runQueue {
		if t.PID == pid {
			s.runQueue = append(s.runQueue[:i], s.runQueue[i+1:]...)
			break
		}
	}
}

// Current returns the task currently running on cpuID, if any.
func (s *Scheduler) Current(cpuID int) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.current[cpuID]
	return t, ok
}

// Dispatch pops the head of the run queue and makes it current on
// cpuID, transitioning Runnable -> Running (spec §4.7 "dispatch
// contract"). Returns false if the queue is empty (idle CPU).
func (s *Scheduler) Dispatch(cpuID int) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runQueue) == 0 {
		delete(s.current, cpuID)
		return nil, false
	}
	next := s.runQueue[0]
	s.runQueue = s.runQueue[1:]
	next.Quantum = s.quantumTicks
	next.State = task.Running
	s.current[cpuID] = next
	return next, true
}

// Tick accounts one timer quantum against the current task on cpuID. If
// the quantum reaches zero the task is re-queued at the tail and a
// reschedule is requested (spec §4.7: "if the current task's quantum
// reaches zero it is re-queued (tail) and the scheduler picks the
// head"). The timer's fast path (internal/timer) must not allocate,
// block, or print; Tick itself only mutates scheduler state and is safe
// to call from that path.
func (s *Scheduler) Tick(cpuID int) (reschedule bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.current[cpuID]
	if !ok {
		return len(s.runQueue) > 0
	}
	cur.Quantum--
	if cur.Quantum > 0 {
		return false
	}
	cur.State = task.Runnable
	s.runQueue = append(s.runQueue, cur)
	delete(s.current, cpuID)
	return true
}

// Yield immediately re-queues the current task's remainder without
// waiting for quantum exhaustion (spec §4.7: "Yield and sleep
// transitions cause the same reshuffle").
func (s *Scheduler) Yield(cpuID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.current[cpuID]
	if !ok {
		return
	}
	cur.State = task.Runnable
	s.runQueue = append(s.runQueue, cur)
	delete(s.current, cpuID)
}

// BlockCurrent removes the current task from scheduling (it has called
// Sleep on itself) without re-queuing it (spec §4.7 Running -> Sleeping).
func (s *Scheduler) BlockCurrent(cpuID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, cpuID)
}

// Requeue puts a previously blocked task back on the run queue (spec
// §4.7 Sleeping -> Runnable).
func (s *Scheduler) Requeue(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.Quantum = s.quantumTicks
	t.State = task.Runnable
	s.runQueue = append(s.runQueue, t)
}

// Len reports the run queue depth, used by procfs/loadavg-style
// diagnostics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runQueue)
}
