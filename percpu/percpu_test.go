package percpu

import "testing"

func TestNeedReschedRoundTrip(t *testing.T) {
	a := New(0)
	if a.NeedResched() {
		t.Fatalf("fresh area should not need resched")
	}
	a.SetNeedResched()
	if !a.NeedResched() {
		t.Fatalf("expected need_resched after SetNeedResched")
	}
	a.ClearNeedResched()
	if a.NeedResched() {
		t.Fatalf("expected need_resched cleared")
	}
}

func TestCheckAndClearNeedResched(t *testing.T) {
	a := New(0)
	a.SetNeedResched()
	if !a.CheckAndClearNeedResched() {
		t.Fatalf("expected true on first check")
	}
	if a.CheckAndClearNeedResched() {
		t.Fatalf("expected false after being cleared")
	}
}

func TestInInterrupt(t *testing.T) {
	a := New(0)
	if a.InInterrupt() {
		t.Fatalf("expected not in interrupt initially")
	}
	a.IncHardIRQ()
	if !a.InInterrupt() {
		t.Fatalf("expected in_interrupt after hardirq inc")
	}
	a.DecHardIRQ()
	if a.InInterrupt() {
		t.Fatalf("expected not in_interrupt after hardirq dec")
	}
	a.IncSoftIRQ()
	if !a.InInterrupt() {
		t.Fatalf("expected in_interrupt after softirq inc")
	}
}

func TestPreemptDepth(t *testing.T) {
	a := New(0)
	if a.PreemptDepth() != 0 {
		t.Fatalf("expected zero preempt depth initially")
	}
	a.IncPreempt()
	a.IncPreempt()
	if a.PreemptDepth() != 2 {
		t.Fatalf("expected preempt depth 2, got %d", a.PreemptDepth())
	}
	a.DecPreempt()
	if a.PreemptDepth() != 1 {
		t.Fatalf("expected preempt depth 1, got %d", a.PreemptDepth())
	}
}

func TestCurrentThreadRoundTrip(t *testing.T) {
	a := New(1)
	a.SetCurrentThread(42)
	if got := a.CurrentThread(); got != 42 {
		t.Fatalf("expected current thread 42, got %d", got)
	}
}

func TestExecPending(t *testing.T) {
	a := New(0)
	if a.ExecPending() {
		t.Fatalf("expected exec pending false initially")
	}
	a.SetExecPending()
	if !a.ExecPending() {
		t.Fatalf("expected exec pending true")
	}
	a.ClearExecPending()
	if a.ExecPending() {
		t.Fatalf("expected exec pending cleared")
	}
}
