package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/arctir/nucleus/arch/amd64"
	"github.com/arctir/nucleus/frame"
	"github.com/arctir/nucleus/hal"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/thread"
)

type fakePageTable struct{ root frame.Base }

func (t *fakePageTable) MapPage(uint64, frame.Base, hal.PageFlags) error { return nil }
func (t *fakePageTable) UnmapPage(uint64) error                         { return nil }
func (t *fakePageTable) UpdatePageFlags(uint64, hal.PageFlags) error     { return nil }
func (t *fakePageTable) GetPageInfo(uint64) (hal.PageInfo, bool)         { return hal.PageInfo{}, false }
func (t *fakePageTable) ClearUserEntries() error                        { return nil }
func (t *fakePageTable) Root() frame.Base                               { return t.root }

type fakeFrameAllocator struct{ next frame.Base }

func (a *fakeFrameAllocator) AllocFrame() (frame.Base, error) {
	a.next += 4096
	return a.next, nil
}
func (a *fakeFrameAllocator) FreeFrame(frame.Base) {}

func TestNewWiresEveryCollaborator(t *testing.T) {
	m := New(2, amd64.New(), &fakePageTable{}, &fakeFrameAllocator{})
	if m.Scheduler == nil || m.Engine == nil || m.Processes == nil || m.Frames == nil || m.Syscalls == nil {
		t.Fatalf("expected every collaborator wired, got %+v", m)
	}
	if m.Engine.Scheduler != m.Scheduler {
		t.Fatalf("expected engine to share the machine's scheduler")
	}
	if m.NumCPUs != 2 {
		t.Fatalf("expected 2 CPUs, got %d", m.NumCPUs)
	}
}

func TestRunDispatchesSpawnedThreadAndStops(t *testing.T) {
	m := New(1, amd64.New(), &fakePageTable{}, &fakeFrameAllocator{})

	p := process.New(9001, "test", 0x4000)
	th := thread.New(9001, 0, thread.User)
	th.Context.PC = 0x4000
	m.Syscalls.SpawnInitProcess(p, th)
	m.Scheduler.Spawn(0, th)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(500 * time.Millisecond)
	for {
		if m.Scheduler.CPU(0).CurrentThread() == th.ID {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected spawned thread to become current on cpu0 before timeout")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after Stop")
	}
}

func TestAddressSpaceOfResolvesOwningProcess(t *testing.T) {
	m := New(1, amd64.New(), &fakePageTable{}, &fakeFrameAllocator{})

	p := process.New(9002, "test", 0x4000)
	p.PageTableFrame = 0xCAFE
	th := thread.New(9002, 0, thread.User)
	m.Syscalls.SpawnInitProcess(p, th)

	root, ok := m.Engine.AddressSpaceOf(th.ID)
	if !ok || root != 0xCAFE {
		t.Fatalf("expected resolved root 0xCAFE, got 0x%x ok=%v", root, ok)
	}
}
