package process

import (
	"testing"

	"github.com/arctir/nucleus/thread"
)

type fakeFD struct {
	closed bool
}

func (f *fakeFD) Close() error {
	f.closed = true
	return nil
}

func TestNewProcessDefaultsPGIDAndSID(t *testing.T) {
	p := New(5, "init", 0x1000)
	if p.PGID != 5 || p.SID != 5 {
		t.Fatalf("expected pgid/sid to default to pid 5, got pgid=%d sid=%d", p.PGID, p.SID)
	}
	if p.State != Creating {
		t.Fatalf("expected Creating state, got %s", p.State)
	}
}

func TestSetMainThreadMovesToReady(t *testing.T) {
	p := New(5, "init", 0x1000)
	th := thread.New(5, 0xF000, thread.User)
	p.SetMainThread(th)
	if p.State != Ready {
		t.Fatalf("expected Ready after SetMainThread, got %s", p.State)
	}
	if p.MainThread != th {
		t.Fatalf("expected main thread to be strongly referenced")
	}
}

func TestTerminateClosesFDsAndMarksThread(t *testing.T) {
	p := New(5, "victim", 0x1000)
	th := thread.New(5, 0xF000, thread.User)
	p.SetMainThread(th)

	fd := &fakeFD{}
	n := p.FDs.Install(fd)

	p.Terminate(42)

	if !p.IsTerminated() {
		t.Fatalf("expected process to be terminated")
	}
	if p.ExitCode == nil || *p.ExitCode != 42 {
		t.Fatalf("expected exit code 42, got %v", p.ExitCode)
	}
	if th.State != thread.Terminated {
		t.Fatalf("expected main thread terminated, got %s", th.State)
	}
	if !fd.closed {
		t.Fatalf("expected fd %d to be closed on terminate", n)
	}
}

func TestFDTableCloseUnknownFD(t *testing.T) {
	tbl := NewFDTable()
	err := tbl.Close(99)
	if err == nil {
		t.Fatalf("expected error closing an fd that was never installed")
	}
}

func TestFDTableClone(t *testing.T) {
	tbl := NewFDTable()
	fd := &fakeFD{}
	n := tbl.Install(fd)
	cloned := tbl.Clone()
	got, ok := cloned.Get(n)
	if !ok || got != fd {
		t.Fatalf("expected cloned table to reference the same fd value")
	}
}

func TestManagerReapRequiresTermination(t *testing.T) {
	m := NewManager()
	p := New(10, "p", 0)
	m.Insert(p)
	if _, err := m.Reap(10); err == nil {
		t.Fatalf("expected error reaping a still-running process")
	}
	p.Terminate(7)
	code, err := m.Reap(10)
	if err != nil {
		t.Fatalf("unexpected error reaping terminated process: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
	if _, ok := m.Get(10); ok {
		t.Fatalf("expected process to be gone after reap")
	}
}

func TestManagerReapMissingProcess(t *testing.T) {
	m := NewManager()
	if _, err := m.Reap(404); err == nil {
		t.Fatalf("expected an error for a missing pid")
	}
}

func TestManagerReparentChildren(t *testing.T) {
	m := NewManager()
	init := New(InitPID, "init", 0)
	m.Insert(init)
	parent := New(2, "parent", 0)
	m.Insert(parent)
	child := New(3, "child", 0)
	child.ParentPID = 2
	m.Insert(child)
	parent.AddChild(3)

	m.ReparentChildren(2)

	if child.ParentPID != InitPID {
		t.Fatalf("expected child reparented to init, got %d", child.ParentPID)
	}
	found := false
	for _, c := range init.Children {
		if c == 3 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected init to adopt child 3")
	}
}

func TestManagerExitedChildren(t *testing.T) {
	m := NewManager()
	parent := New(2, "parent", 0)
	m.Insert(parent)
	child := New(3, "child", 0)
	m.Insert(child)
	parent.AddChild(3)

	if got := m.ExitedChildren(2); len(got) != 0 {
		t.Fatalf("expected no exited children yet, got %v", got)
	}
	child.Terminate(0)
	got := m.ExitedChildren(2)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected child 3 to be reported exited, got %v", got)
	}
}
