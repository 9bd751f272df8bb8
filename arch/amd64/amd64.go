// Package amd64 supplies the x86-64-specific details package arch's Engine
// needs: RFLAGS encodings for a fresh kernel or userspace entry, and CR3's
// TLB-invalidation behavior.
package amd64

// Flag bit layout is a simplified RFLAGS: bit 0 is "interrupts enabled",
// bit 1 is "privilege is user" — real RFLAGS encodes the privilege level in
// the segment selectors IRETQ pops, not in RFLAGS itself, but the
// simulated machine keeps both in a single scratch field for simplicity.
const (
	flagInterruptsEnabled = 1 << 0
	flagUserMode          = 1 << 1
)

// Backend is the x86-64 arch.Backend.
type Backend struct{}

// New returns the x86-64 backend.
func New() Backend { return Backend{} }

// Name identifies this backend.
func (Backend) Name() string { return "amd64" }

// KernelEntryFlags returns the RFLAGS value for a fresh or resumed
// kernel-mode (ring 0) entry: interrupts enabled, not user mode.
func (Backend) KernelEntryFlags() uint64 { return flagInterruptsEnabled }

// UserEntryFlags returns the RFLAGS value for a fresh or resumed userspace
// (ring 3) entry.
func (Backend) UserEntryFlags() uint64 { return flagInterruptsEnabled | flagUserMode }

// InvalidateTLB is a documented no-op on x86-64: writing a new value to CR3
// already flushes all non-global TLB entries as a side effect of the write
// itself (spec.md §4.3). The call is kept so both backends present the same
// shape and so a future PCID-aware implementation has a seam to hook into.
func (Backend) InvalidateTLB(oldRoot, newRoot uint64) {}
