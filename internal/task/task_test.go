package task

import "testing"

func TestNewTaskStartsRunnableWithKernelStack(t *testing.T) {
	tk := New(1, 0, nil)
	if tk.State != Runnable {
		t.Fatalf("new task should start Runnable, got %v", tk.State)
	}
	if len(tk.KernelStack) != KernelStackSize {
		t.Fatalf("kernel stack should be %d bytes, got %d", KernelStackSize, len(tk.KernelStack))
	}
}

func TestSleepWakeRoundTrip(t *testing.T) {
	tk := New(2, 1, nil)
	tk.State = Running
	ch := tk.Sleep()
	if tk.State != Sleeping {
		t.Fatalf("expected Sleeping after Sleep(), got %v", tk.State)
	}
	select {
	case <-ch:
		t.Fatalf("wake channel should not be closed before Wake()")
	default:
	}
	tk.Wake()
	if tk.State != Runnable {
		t.Fatalf("expected Runnable after Wake(), got %v", tk.State)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("wake channel should be closed after Wake()")
	}
}

func TestExitThenReapLifecycle(t *testing.T) {
	tk := New(3, 1, nil)
	tk.MarkExit(7)
	if tk.State != Zombie || tk.Exit != 7 {
		t.Fatalf("expected Zombie with exit 7, got state=%v exit=%d", tk.State, tk.Exit)
	}
	tk.Reap()
	if tk.State != Dead {
		t.Fatalf("expected Dead after Reap, got %v", tk.State)
	}
}

func TestChildBookkeeping(t *testing.T) {
	tk := New(1, 0, nil)
	tk.AddChild(10)
	tk.AddChild(11)
	if len(tk.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tk.Children))
	}
	tk.RemoveChild(10)
	if len(tk.Children) != 1 || tk.Children[0] != 11 {
		t.Fatalf("expected only child 11 to remain, got %v", tk.Children)
	}
}
