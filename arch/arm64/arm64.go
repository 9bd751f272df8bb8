// Package arm64 supplies the AArch64-specific details package arch's
// Engine needs: SPSR_EL1 encodings for a fresh kernel (EL1h) or userspace
// (EL0t) entry, and TTBR0's TLB-invalidation behavior — grounded on
// original_source/kernel/src/arch_impl/aarch64/context_switch.rs's
// switch_ttbr0_if_needed, which explicitly notes CR3's implicit flush does
// NOT happen on a TTBR0 write and issues "tlbi vmalle1is" by hand.
package arm64

// SPSR_EL1 exception-level/mode bits: M[3:0] == 0b0101 selects EL1h
// (kernel, using SP_EL1); 0b0000 selects EL0t (userspace). DAIF bits are
// left clear in both (interrupts enabled).
const (
	spsrEL1h = 0x5
	spsrEL0t = 0x0
)

// Backend is the AArch64 arch.Backend.
type Backend struct {
	// InvalidateTLBFunc, if set, is called to perform the actual TLBI; the
	// default no-op is fine for the host-simulated machine, where there is
	// no real MMU to flush. Tests observe calls via this hook instead.
	InvalidateTLBFunc func(oldRoot, newRoot uint64)
}

// New returns the AArch64 backend.
func New() *Backend { return &Backend{} }

// Name identifies this backend.
func (*Backend) Name() string { return "arm64" }

// KernelEntryFlags returns the SPSR_EL1 value for EL1h with interrupts
// enabled.
func (*Backend) KernelEntryFlags() uint64 { return spsrEL1h }

// UserEntryFlags returns the SPSR_EL1 value for EL0t with interrupts
// enabled.
func (*Backend) UserEntryFlags() uint64 { return spsrEL0t }

// InvalidateTLB issues the AArch64-specific full-TLB invalidate that a
// TTBR0_EL1 write does not perform implicitly. On real hardware this is
// "dsb ishst; msr ttbr0_el1, x; isb; tlbi vmalle1is; dsb ish; isb"; the
// simulated machine has no MMU, so by default this only invokes the test
// hook if one was installed.
func (b *Backend) InvalidateTLB(oldRoot, newRoot uint64) {
	if b.InvalidateTLBFunc != nil {
		b.InvalidateTLBFunc(oldRoot, newRoot)
	}
}
