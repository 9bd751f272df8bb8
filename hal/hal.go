// Package hal defines the opaque hardware contract the kernel core builds
// on without itself implementing: frame allocation, page-table
// manipulation, a tick source, and interrupt control (spec.md §6,
// "Memory contract" and "Interrupt/exception contract"). Concrete backends
// live outside this package; nucleus's own simulated machine (package
// kernel) supplies an in-memory one for tests and the CLI, the same way
// arctir-proctor's HostReader interface is implemented by LinuxReader while
// callers only ever see the interface.
package hal

import "github.com/arctir/nucleus/frame"

// PageFlags encodes the permission/presence bits a PageTable maps with.
// Exact bit assignment is left to the backend; nucleus only ever passes
// flags through.
type PageFlags uint32

const (
	FlagPresent PageFlags = 1 << iota
	FlagWritable
	FlagUser
	FlagNoExecute
	FlagCopyOnWrite
)

// Has reports whether all bits of want are set in f.
func (f PageFlags) Has(want PageFlags) bool { return f&want == want }

// PageInfo is what GetPageInfo reports about one mapped virtual page.
type PageInfo struct {
	PhysFrame frame.Base
	Flags     PageFlags
}

// FrameAllocator hands out and reclaims physical page frames. Implementations
// must be safe for concurrent use (spec.md §6).
type FrameAllocator interface {
	AllocFrame() (frame.Base, error)
	FreeFrame(frame.Base)
}

// PageTable is one address space's mapping of virtual to physical pages.
// Implementations own their own locking; nucleus never assumes a global
// page-table lock (spec.md §5 names the page-table lock as the backend's
// problem, not the scheduler's).
type PageTable interface {
	// MapPage installs a mapping for virt, backed by phys, with flags.
	MapPage(virt uint64, phys frame.Base, flags PageFlags) error
	// UnmapPage removes any mapping at virt. It is not an error to unmap an
	// already-unmapped page.
	UnmapPage(virt uint64) error
	// UpdatePageFlags rewrites the flags of an existing mapping without
	// changing its physical backing, used by the CoW fault handler to flip
	// FlagWritable back on for the sole-owner fast path (spec.md §4.4).
	UpdatePageFlags(virt uint64, flags PageFlags) error
	// GetPageInfo reports the current mapping at virt, if any.
	GetPageInfo(virt uint64) (PageInfo, bool)
	// ClearUserEntries removes every user-accessible mapping, used when an
	// exec() replaces a process image (spec.md §4.5).
	ClearUserEntries() error
	// Root returns the frame backing this table's top-level directory, the
	// value installed into CR3/TTBR0 on a process switch.
	Root() frame.Base
}

// Timer is the tick source driving quantum expiry and BlockedOnTimer
// wakeups. A concrete backend fires at a fixed frequency (spec.md §4.2
// targets 200 Hz).
type Timer interface {
	// Ticks returns the number of timer interrupts delivered since boot.
	Ticks() uint64
	// NowNanos returns a monotonic nanosecond timestamp, used for
	// wake-time comparisons.
	NowNanos() uint64
}

// InterruptController models the per-CPU interrupt controller (a stand-in
// for APIC/GIC) used to send and acknowledge inter-processor interrupts
// (spec.md §5, "send_ipi wakes exactly one CPU per enqueue").
type InterruptController interface {
	// SendIPI delivers an inter-processor interrupt to the given logical CPU.
	SendIPI(cpu uint32)
	// Ack acknowledges receipt of the current interrupt on the calling CPU.
	Ack(cpu uint32)
	// EOI signals end-of-interrupt, permitting further interrupts to be
	// delivered to the calling CPU.
	EOI(cpu uint32)
	// Enable turns interrupt delivery on or off for the given CPU, used
	// around critical sections that must not be preempted.
	Enable(cpu uint32, on bool)
}
