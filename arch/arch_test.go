package arch

import (
	"testing"

	"github.com/arctir/nucleus/arch/amd64"
	"github.com/arctir/nucleus/sched"
	"github.com/arctir/nucleus/thread"
)

func newTestEngine(numCPUs int) (*Engine, *sched.Scheduler, []*thread.Thread) {
	idles := make([]*thread.Thread, numCPUs)
	for i := range idles {
		idles[i] = thread.New(0, 0, thread.Kernel)
	}
	s := sched.New(numCPUs, idles, nil)
	backend := amd64.New()
	e := &Engine{Scheduler: s, Backend: backend}
	return e, s, idles
}

func TestNoSwitchWhenNothingPending(t *testing.T) {
	e, _, _ := newTestEngine(1)
	frame := &thread.Context{}
	res := e.CheckNeedReschedAndSwitch(0, frame, false)
	if res.Switched {
		t.Fatalf("expected no switch with nothing runnable and no resched flag")
	}
}

func TestSwitchDispatchesSpawnedThread(t *testing.T) {
	e, s, idles := newTestEngine(1)
	th := thread.New(1, 0, thread.User)
	th.Context.PC = 0x4000
	s.Spawn(0, th)

	frame := &thread.Context{}
	res := e.CheckNeedReschedAndSwitch(0, frame, false)
	if !res.Switched {
		t.Fatalf("expected a switch once a thread is spawned")
	}
	if res.OldThreadID != idles[0].ID || res.NewThreadID != th.ID {
		t.Fatalf("unexpected switch: %+v", res)
	}
	if frame.PC != 0x4000 {
		t.Fatalf("expected dispatched frame PC to be thread's entry, got 0x%x", frame.PC)
	}
	if !th.HasStarted {
		t.Fatalf("expected thread marked started after first dispatch")
	}
}

func TestPreemptActiveSuppressesNestedSwitch(t *testing.T) {
	e, s, _ := newTestEngine(1)
	area := s.CPU(0)
	area.SetPreemptActive()
	area.SetNeedResched()

	frame := &thread.Context{}
	res := e.CheckNeedReschedAndSwitch(0, frame, false)
	if res.Switched {
		t.Fatalf("expected preempt-active to suppress a nested switch")
	}
}

func TestSaveThenResumeRoundTrip(t *testing.T) {
	e, s, _ := newTestEngine(1)
	a := thread.New(1, 0, thread.User)
	a.Context.PC = 0x1000
	b := thread.New(2, 0, thread.User)
	b.Context.PC = 0x2000
	s.Spawn(0, a)
	s.Spawn(0, b)

	frame := &thread.Context{}
	res := e.CheckNeedReschedAndSwitch(0, frame, false) // dispatch a
	if !res.Switched || res.NewThreadID != a.ID {
		t.Fatalf("expected a dispatched first, got %+v", res)
	}

	// Simulate a making progress, then being preempted.
	frame.GPRegs[0] = 0xAAAA
	frame.PC = 0x1111
	s.CPU(0).SetNeedResched()
	res = e.CheckNeedReschedAndSwitch(0, frame, false) // switch to b, save a
	if !res.Switched || res.OldThreadID != a.ID || res.NewThreadID != b.ID {
		t.Fatalf("expected switch a->b, got %+v", res)
	}
	if a.Context.PC != 0x1111 || a.Context.GPRegs[0] != 0xAAAA {
		t.Fatalf("expected a's progress saved, got PC=0x%x regs[0]=0x%x", a.Context.PC, a.Context.GPRegs[0])
	}
	if frame.PC != 0x2000 {
		t.Fatalf("expected frame now holding b's context, got PC=0x%x", frame.PC)
	}

	// b yields back; a should resume exactly where it left off.
	s.CPU(0).SetNeedResched()
	res = e.CheckNeedReschedAndSwitch(0, frame, false)
	if !res.Switched || res.NewThreadID != a.ID {
		t.Fatalf("expected switch back to a, got %+v", res)
	}
	if frame.PC != 0x1111 || frame.GPRegs[0] != 0xAAAA {
		t.Fatalf("expected a's saved progress restored, got PC=0x%x regs[0]=0x%x", frame.PC, frame.GPRegs[0])
	}
}

func TestDeliversSignalsOnNoSwitchFromUserspace(t *testing.T) {
	e, s, idles := newTestEngine(1)
	delivered := false
	e.Signals = func(threadID uint64, frame *thread.Context) bool {
		delivered = true
		return false
	}
	s.CPU(0).SetCurrentThread(idles[0].ID)

	frame := &thread.Context{}
	e.CheckNeedReschedAndSwitch(0, frame, true)
	if !delivered {
		t.Fatalf("expected signal delivery check when returning to userspace with nothing to switch")
	}
}

func TestFatalSafetyNetRedirectsZeroPC(t *testing.T) {
	e, _, _ := newTestEngine(1)
	frame := &thread.Context{PC: 0}
	if !e.FatalSafetyNet(1, frame, 0xDEAD) {
		t.Fatalf("expected safety net to trigger on PC==0")
	}
	if frame.PC != 0xDEAD {
		t.Fatalf("expected PC redirected to fallback, got 0x%x", frame.PC)
	}
	if e.FatalSafetyNet(1, frame, 0xBEEF) {
		t.Fatalf("expected no intervention once PC is non-zero")
	}
}
