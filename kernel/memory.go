package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/arctir/nucleus/frame"
	"github.com/arctir/nucleus/hal"
)

// pageSize is the simulated machine's frame granularity, matching ksyscall's
// page-aligned Brk/Mmap arithmetic.
const pageSize = 4096

// InMemoryFrameAllocator hands out monotonically increasing frame addresses
// starting above a reserved low region, standing in for a real physical
// frame allocator (hal.FrameAllocator) the way source.ResolveRepo's on-disk
// cache stands in for a real package registry — there is no physical RAM to
// bound against in a host simulation, so it never fails.
type InMemoryFrameAllocator struct {
	next uint64
}

// NewInMemoryFrameAllocator returns an allocator that begins handing out
// frames at base (rounded up to a page boundary).
func NewInMemoryFrameAllocator(base uint64) *InMemoryFrameAllocator {
	return &InMemoryFrameAllocator{next: (base + pageSize - 1) &^ (pageSize - 1)}
}

// AllocFrame returns the next unused frame address.
func (a *InMemoryFrameAllocator) AllocFrame() (frame.Base, error) {
	addr := atomic.AddUint64(&a.next, pageSize) - pageSize
	return frame.Base(addr), nil
}

// FreeFrame is a no-op: addresses in the simulated physical space are never
// reused once handed out, since nothing here ever runs long enough to
// exhaust a uint64 address space.
func (a *InMemoryFrameAllocator) FreeFrame(frame.Base) {}

// InMemoryPageTable is one address space's virt->phys map, held entirely in
// a Go map rather than real page-table directories, per hal.go's note that
// package kernel supplies the in-memory backend the CLI runs against.
type InMemoryPageTable struct {
	mu      sync.Mutex
	entries map[uint64]hal.PageInfo
	root    frame.Base
}

// NewInMemoryPageTable returns an empty page table whose Root is the given
// frame (the address space's top-level directory frame, as allocated by the
// caller).
func NewInMemoryPageTable(root frame.Base) *InMemoryPageTable {
	return &InMemoryPageTable{entries: make(map[uint64]hal.PageInfo), root: root}
}

// MapPage installs virt -> phys with the given flags.
func (t *InMemoryPageTable) MapPage(virt uint64, phys frame.Base, flags hal.PageFlags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[virt] = hal.PageInfo{PhysFrame: phys, Flags: flags}
	return nil
}

// UnmapPage removes any mapping at virt.
func (t *InMemoryPageTable) UnmapPage(virt uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, virt)
	return nil
}

// UpdatePageFlags rewrites the flags of an existing mapping, leaving its
// physical backing untouched.
func (t *InMemoryPageTable) UpdatePageFlags(virt uint64, flags hal.PageFlags) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.entries[virt]
	if !ok {
		return nil
	}
	info.Flags = flags
	t.entries[virt] = info
	return nil
}

// GetPageInfo reports the current mapping at virt, if any.
func (t *InMemoryPageTable) GetPageInfo(virt uint64) (hal.PageInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.entries[virt]
	return info, ok
}

// ClearUserEntries removes every mapping flagged hal.FlagUser, used by
// exec() to drop the old image before mapping the new one in.
func (t *InMemoryPageTable) ClearUserEntries() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for virt, info := range t.entries {
		if info.Flags.Has(hal.FlagUser) {
			delete(t.entries, virt)
		}
	}
	return nil
}

// Root returns the frame backing this table's top-level directory.
func (t *InMemoryPageTable) Root() frame.Base { return t.root }
