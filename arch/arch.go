// Package arch implements the architecture-specific half of the context
// switch: the exception-return hook that decides whether to reschedule, and
// the save/dispatch sequence that moves a thread's register state into and
// out of an exception frame (spec.md §4.3). The decision logic itself is
// shared (this file); arch/amd64 and arch/arm64 supply only the handful of
// details that genuinely differ between IRETQ and ERET, grounded on
// original_source/kernel/src/arch_impl/aarch64/context_switch.rs.
package arch

import (
	"log"

	"github.com/davecgh/go-spew/spew"

	"github.com/arctir/nucleus/percpu"
	"github.com/arctir/nucleus/sched"
	"github.com/arctir/nucleus/thread"
)

// Backend supplies the small set of details that differ between x86-64 and
// AArch64: how a fresh kernel-mode entry and a fresh userspace entry encode
// their "flags" field, and how an address-space switch is published to the
// MMU (spec.md §4.3's TLB-invalidation note: x86-64's CR3 write flushes
// non-global mappings implicitly, AArch64's TTBR0 write does not and needs
// an explicit TLBI).
type Backend interface {
	Name() string
	KernelEntryFlags() uint64
	UserEntryFlags() uint64
	// InvalidateTLB is called whenever the installed address-space root
	// changes. amd64's implementation is a no-op note (the reload already
	// flushed the TLB); arm64's issues the equivalent of "tlbi vmalle1is".
	InvalidateTLB(oldRoot, newRoot uint64)
}

// SignalDeliverer is consulted on every return to userspace so pending,
// unblocked signals get dispatched before user code resumes (spec.md §4.7).
// It may rewrite frame in place (e.g. redirect PC to a handler) and returns
// whether it did.
type SignalDeliverer func(threadID uint64, frame *thread.Context) bool

// Engine drives CheckNeedReschedAndSwitch for one Backend. It holds no
// per-CPU state of its own beyond bookkeeping already owned by
// percpu.Area/sched.Scheduler, so a single Engine can service every CPU in
// the simulated machine.
type Engine struct {
	Scheduler *sched.Scheduler
	Backend   Backend
	Signals   SignalDeliverer

	// AddressSpaceOf resolves the address-space root a thread should be
	// running under, consulted only when installing a newly-dispatched
	// thread. The kernel package wires this to the owning process's page
	// table frame.
	AddressSpaceOf func(threadID uint64) (root uint64, ok bool)
}

// SwitchResult reports what CheckNeedReschedAndSwitch actually did, for
// callers (primarily tests and the `trace` CLI) that want to observe it.
type SwitchResult struct {
	Switched    bool
	OldThreadID uint64
	NewThreadID uint64
}

// CheckNeedReschedAndSwitch is the exception-return hook (spec.md §4.3): it
// must be called on every return from an interrupt or syscall, on the
// owning CPU only. frame holds the interrupted context on entry and is
// rewritten in place to hold whatever context should actually resume —
// either the same thread's (unmodified, or with a signal handler spliced
// in) or a newly-dispatched thread's.
func (e *Engine) CheckNeedReschedAndSwitch(cpu uint32, frame *thread.Context, fromUserspace bool) SwitchResult {
	area := e.Scheduler.CPU(cpu)

	if area.PreemptActive() {
		// Already mid-switch from a nested exception; do nothing further.
		return SwitchResult{}
	}

	if !fromUserspace && area.PreemptDepth() > 0 {
		// Kernel code holding a spinlock is not safe to preempt.
		return SwitchResult{}
	}

	currentID := area.CurrentThread()
	blockedOrTerminated := false
	if t, ok := e.Scheduler.GetThread(currentID); ok {
		blockedOrTerminated = t.State.IsBlocked() || t.State == thread.Terminated
	}

	needResched := area.CheckAndClearNeedResched()
	if !needResched && !blockedOrTerminated {
		if fromUserspace {
			e.deliverSignals(currentID, frame)
		}
		return SwitchResult{}
	}

	area.SetPreemptActive()
	defer area.ClearPreemptActive()

	oldID, newID, shouldRequeueOld, ok := e.Scheduler.ScheduleDeferred(cpu)
	if !ok {
		if fromUserspace {
			e.deliverSignals(currentID, frame)
		}
		return SwitchResult{}
	}

	e.saveOutgoing(oldID, frame, fromUserspace)
	e.Scheduler.CommitAfterSave(cpu, newID)

	e.dispatch(cpu, newID, frame)

	if shouldRequeueOld {
		e.Scheduler.RequeueAfterSave(oldID)
	}

	return SwitchResult{Switched: true, OldThreadID: oldID, NewThreadID: newID}
}

// saveOutgoing copies the interrupted register state into the outgoing
// thread's saved context, so it can be dispatched again later exactly where
// it left off (original_source save_userspace_context_arm64 /
// save_kernel_context_arm64 — the same fields are saved either way, the
// privilege level just determines how callers later interpret them).
func (e *Engine) saveOutgoing(threadID uint64, frame *thread.Context, fromUserspace bool) {
	t, ok := e.Scheduler.GetThread(threadID)
	if !ok || e.Scheduler.IsIdleThread(threadID) {
		return
	}
	t.Context = *frame
	if fromUserspace {
		t.BlockedInSyscall = false
	}
}

// dispatch installs newID's saved (or first-run) context into frame, and
// switches the address space if newID belongs to a different one than is
// currently installed on cpu (spec.md §4.3 steps 5-7).
func (e *Engine) dispatch(cpu uint32, newID uint64, frame *thread.Context) {
	area := e.Scheduler.CPU(cpu)

	if e.Scheduler.IsIdleThread(newID) {
		// The simulated machine's per-CPU loop recognizes the idle thread by
		// ID and parks rather than resuming a frame; nothing to install.
		*frame = thread.Context{}
		return
	}

	t, ok := e.Scheduler.GetThread(newID)
	if !ok {
		return
	}

	if !t.HasStarted {
		t.HasStarted = true
		if t.Privilege == thread.User {
			frame.Flags = e.Backend.UserEntryFlags()
		} else {
			frame.Flags = e.Backend.KernelEntryFlags()
		}
	} else if t.Privilege == thread.User && !t.BlockedInSyscall {
		frame.Flags = e.Backend.UserEntryFlags()
	} else {
		frame.Flags = e.Backend.KernelEntryFlags()
	}

	*frame = thread.Context{
		GPRegs: t.Context.GPRegs,
		PC:     t.Context.PC,
		SP:     t.Context.SP,
		UserSP: t.Context.UserSP,
		Flags:  frame.Flags,
	}

	if t.Privilege == thread.User && e.AddressSpaceOf != nil {
		if root, ok := e.AddressSpaceOf(newID); ok {
			e.switchAddressSpace(area, root)
		}
	}

	area.SetKernelStackTop(t.KernelStackTop)
}

// switchAddressSpace installs root as the active address space on area's
// CPU if it differs from what's already installed, invalidating the TLB via
// the backend (needed unconditionally on AArch64, a documented no-op on
// x86-64, spec.md §4.3).
func (e *Engine) switchAddressSpace(area *percpu.Area, root uint64) {
	old := area.CurrentAddressSpace()
	if old == root {
		return
	}
	e.Backend.InvalidateTLB(old, root)
	area.SetCurrentAddressSpace(root)
}

// deliverSignals asks the engine's SignalDeliverer (if any) to splice a
// handler into frame before returning to userspace.
func (e *Engine) deliverSignals(threadID uint64, frame *thread.Context) {
	if e.Signals == nil {
		return
	}
	e.Signals(threadID, frame)
}

// FatalSafetyNet checks a dispatched frame for a zero program counter — a
// dispatch bug that would otherwise fault at address 0 — and redirects it to
// a safe fallback, dumping full diagnostic state first
// (original_source/.../context_switch.rs's "FATAL: frame.elr=0" guard). The
// dump uses go-spew rather than fmt: frame and the thread it came from can
// end up cyclically referencing each other once the kernel wires tracing in,
// and spew.Sdump handles that without recursing. Returns true if it had to
// intervene.
func (e *Engine) FatalSafetyNet(threadID uint64, frame *thread.Context, fallbackPC uint64) bool {
	if frame.PC != 0 {
		return false
	}
	log.Printf("FATAL: dispatched thread %d with PC=0, redirecting to 0x%x\n%s",
		threadID, fallbackPC, spew.Sdump(frame))
	frame.PC = fallbackPC
	return true
}
