// Package percpu implements the per-logical-processor state described in
// spec.md §4.1: a lock-free handle to the CPU's current thread and
// scheduling bookkeeping, addressed by CPU index rather than a global
// pointer (spec.md §9, "current thread is not a single pointer").
package percpu

import "sync/atomic"

// MaxCPUs bounds the simulated machine, matching spec.md's AArch64 figure;
// nucleus targets the more general (larger) of the two arch limits named in
// spec.md §3 so the same binary can simulate either topology.
const MaxCPUs = 8

// Area is one CPU's private scheduling state. All fields are accessed only
// by that CPU except where explicitly noted as cross-CPU atomic (current
// thread ID, need-resched), matching the single-writer-per-CPU discipline in
// spec.md §5.
type Area struct {
	cpuID uint32

	// currentThreadID is read cross-CPU (by unblock() checking whether a
	// thread is current somewhere) so it is accessed atomically.
	currentThreadID uint64

	kernelStackTop uint64

	hardirqDepth uint32
	softirqDepth uint32
	preemptDepth uint32

	needResched uint32

	// userSPAtInterrupt and nextAddressSpace are scratch slots for the
	// IRQ-return path (spec.md §4.1).
	userSPAtInterrupt uint64
	nextAddressSpace  uint64

	// execPending is set by exec() (spec.md §4.5 step 6) so the IRQ-return
	// path updates the exception frame from the thread's context even when
	// schedule() itself didn't select a new thread. Modeled per-CPU rather
	// than global-per-kernel, per spec.md §9's "exec-pending flag" note
	// (accepted as-is: only one syscall executes per CPU at a time).
	execPending uint32

	// preemptActive marks the window between a scheduling decision and the
	// completed context switch. Set while package arch is mid-switch so a
	// nested exception on the same CPU doesn't reschedule a thread whose
	// context hasn't finished being saved yet (spec.md §4.3).
	preemptActive uint32

	// currentAddressSpace is the root frame (CR3/TTBR0) last installed on
	// this CPU, so arch backends only reload and flush the TLB when it
	// actually changes.
	currentAddressSpace uint64
}

// New returns a freshly zeroed per-CPU area for the given logical CPU index.
func New(cpuID uint32) *Area {
	return &Area{cpuID: cpuID}
}

// CPUID returns the logical processor index this area belongs to.
func (a *Area) CPUID() uint32 { return a.cpuID }

// CurrentThread returns the ID of the thread currently considered "current"
// on this CPU.
func (a *Area) CurrentThread() uint64 {
	return atomic.LoadUint64(&a.currentThreadID)
}

// SetCurrentThread installs the given thread ID as current on this CPU.
func (a *Area) SetCurrentThread(id uint64) {
	atomic.StoreUint64(&a.currentThreadID, id)
}

// KernelStackTop returns the stack pointer installed into the exception-stack
// register for this CPU.
func (a *Area) KernelStackTop() uint64 { return a.kernelStackTop }

// SetKernelStackTop installs a new exception-stack pointer, called on every
// context switch per spec.md §4.3 step 7.
func (a *Area) SetKernelStackTop(sp uint64) { a.kernelStackTop = sp }

// IncHardIRQ / DecHardIRQ track nested hardware-interrupt depth.
func (a *Area) IncHardIRQ() { atomic.AddUint32(&a.hardirqDepth, 1) }
func (a *Area) DecHardIRQ() { atomic.AddUint32(&a.hardirqDepth, ^uint32(0)) }

// IncSoftIRQ / DecSoftIRQ track nested software-interrupt (bottom-half) depth.
func (a *Area) IncSoftIRQ() { atomic.AddUint32(&a.softirqDepth, 1) }
func (a *Area) DecSoftIRQ() { atomic.AddUint32(&a.softirqDepth, ^uint32(0)) }

// IncPreempt / DecPreempt track the preempt-disable nesting depth (held
// spinlocks, in-progress context switches).
func (a *Area) IncPreempt() { atomic.AddUint32(&a.preemptDepth, 1) }
func (a *Area) DecPreempt() { atomic.AddUint32(&a.preemptDepth, ^uint32(0)) }

// PreemptDepth returns the current preempt-disable nesting depth.
func (a *Area) PreemptDepth() uint32 { return atomic.LoadUint32(&a.preemptDepth) }

// InInterrupt reports whether this CPU is currently servicing a hardware or
// software interrupt.
func (a *Area) InInterrupt() bool {
	return atomic.LoadUint32(&a.hardirqDepth) > 0 || atomic.LoadUint32(&a.softirqDepth) > 0
}

// SetNeedResched flags that this CPU should reschedule at the next
// opportunity (IRQ exit or explicit check).
func (a *Area) SetNeedResched() { atomic.StoreUint32(&a.needResched, 1) }

// ClearNeedResched clears the reschedule flag.
func (a *Area) ClearNeedResched() { atomic.StoreUint32(&a.needResched, 0) }

// NeedResched reports whether a reschedule has been requested.
func (a *Area) NeedResched() bool { return atomic.LoadUint32(&a.needResched) != 0 }

// CheckAndClearNeedResched atomically reads and clears the flag, returning
// what it held.
func (a *Area) CheckAndClearNeedResched() bool {
	return atomic.SwapUint32(&a.needResched, 0) != 0
}

// UserSPAtInterrupt / SetUserSPAtInterrupt hold the scratch "user SP at
// interrupt time" slot used while rewriting the exception frame.
func (a *Area) UserSPAtInterrupt() uint64      { return a.userSPAtInterrupt }
func (a *Area) SetUserSPAtInterrupt(sp uint64) { a.userSPAtInterrupt = sp }

// NextAddressSpace / SetNextAddressSpace hold the scratch "next CR3/TTBR0"
// slot consulted by the IRQ-return path when a process switch is pending.
func (a *Area) NextAddressSpace() uint64       { return a.nextAddressSpace }
func (a *Area) SetNextAddressSpace(cr3 uint64) { a.nextAddressSpace = cr3 }

// SetExecPending / ExecPending / ClearExecPending manage the per-CPU
// exec-pending flag described in spec.md §4.5 and §9.
func (a *Area) SetExecPending()   { atomic.StoreUint32(&a.execPending, 1) }
func (a *Area) ClearExecPending() { atomic.StoreUint32(&a.execPending, 0) }
func (a *Area) ExecPending() bool { return atomic.LoadUint32(&a.execPending) != 0 }

// SetPreemptActive / ClearPreemptActive / PreemptActive guard the in-progress
// context switch window (spec.md §4.3).
func (a *Area) SetPreemptActive()   { atomic.StoreUint32(&a.preemptActive, 1) }
func (a *Area) ClearPreemptActive() { atomic.StoreUint32(&a.preemptActive, 0) }
func (a *Area) PreemptActive() bool { return atomic.LoadUint32(&a.preemptActive) != 0 }

// CurrentAddressSpace / SetCurrentAddressSpace track the address-space root
// last installed on this CPU.
func (a *Area) CurrentAddressSpace() uint64        { return a.currentAddressSpace }
func (a *Area) SetCurrentAddressSpace(root uint64) { a.currentAddressSpace = root }
