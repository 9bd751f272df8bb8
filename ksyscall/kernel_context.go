package ksyscall

import (
	"sync"

	"github.com/arctir/nucleus/frame"
	"github.com/arctir/nucleus/hal"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/sched"
	"github.com/arctir/nucleus/thread"
)

// KernelStackBytes is the nominal size of a new thread's kernel stack
// (spec.md §4.6's clone() kernel-stack allocation). Nothing in this package
// allocates kernel stacks; thread.New takes the stack top from its caller.
const KernelStackBytes = 16 * 1024

// UserStackBytes is the default new-process user stack size.
const UserStackBytes = 64 * 1024

// Kernel is the syscall layer's view of the whole machine: the scheduler,
// the process table, and the frame-refcount table, plus per-thread-owner
// bookkeeping the dispatch handlers need but no other package does.
type Kernel struct {
	Scheduler  *sched.Scheduler
	Processes  *process.Manager
	Frames     *frame.Metadata
	PageTable  hal.PageTable
	FrameAlloc hal.FrameAllocator

	mu          sync.Mutex
	threadOwner map[uint64]uint64 // thread ID -> owning PID
}

// NewKernel wires a Kernel around already-constructed collaborators.
func NewKernel(s *sched.Scheduler, p *process.Manager, f *frame.Metadata, pt hal.PageTable, fa hal.FrameAllocator) *Kernel {
	return &Kernel{
		Scheduler:   s,
		Processes:   p,
		Frames:      f,
		PageTable:   pt,
		FrameAlloc:  fa,
		threadOwner: make(map[uint64]uint64),
	}
}

func (k *Kernel) setOwner(tid, pid uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.threadOwner[tid] = pid
}

func (k *Kernel) ownerOf(tid uint64) (uint64, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pid, ok := k.threadOwner[tid]
	return pid, ok
}

// OwnerOf exports ownerOf for collaborators outside this package (package
// kernel's address-space-lookup wiring) that need the owning PID for an
// arbitrary thread ID, not just the CPU-current one CurrentProcess reports.
func (k *Kernel) OwnerOf(tid uint64) (uint64, bool) {
	return k.ownerOf(tid)
}

// SpawnInitProcess registers the very first process/thread pair in the
// machine — every later process exists because Fork or Clone derived it
// from something already registered, but the first one has to be inserted
// directly. The caller is responsible for actually enqueuing th with the
// scheduler.
func (k *Kernel) SpawnInitProcess(p *process.Process, th *thread.Thread) {
	p.SetMainThread(th)
	k.setOwner(th.ID, p.PID)
	k.Processes.Insert(p)
}

// CurrentProcess resolves the process owning the thread current on cpu.
func (k *Kernel) CurrentProcess(cpu uint32) (*process.Process, *thread.Thread, *Errno) {
	tid := k.Scheduler.CPU(cpu).CurrentThread()
	th, ok := k.Scheduler.GetThread(tid)
	if !ok {
		e := ESRCH
		return nil, nil, &e
	}
	pid, ok := k.ownerOf(tid)
	if !ok {
		e := ESRCH
		return nil, nil, &e
	}
	p, ok := k.Processes.Get(pid)
	if !ok {
		e := ESRCH
		return nil, nil, &e
	}
	return p, th, nil
}
