package ksyscall

import (
	"github.com/arctir/nucleus/hal"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/thread"
)

// Fork duplicates the calling process: a new process is created sharing
// every writable VMA copy-on-write (each backing frame's refcount bumped
// and its mapping flipped read-only in both address spaces) and every
// read-only VMA shared outright, per spec.md §4.4. The child's main thread
// is spawned at the front of the ready queue so it tends to run before
// unrelated work (spec.md §4.4's SpawnFront note), and fork returns 0 to
// the child / the child's PID to the parent — mirrored here as two return
// values rather than a magic double-return, since this is a host simulation
// and not a real divided address space.
func (k *Kernel) Fork(cpu uint32) (childPID uint64, e *Errno) {
	parent, parentThread, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}

	childPIDVal := process.AllocatePID()
	child := process.New(childPIDVal, parent.Name, parent.EntryPoint)
	child.ParentPID = parent.PID
	child.PGID = parent.PGID
	child.SID = parent.SID
	child.HeapStart = parent.HeapEnd
	child.HeapEnd = parent.HeapEnd

	for _, vma := range parent.VMAs {
		child.VMAs = append(child.VMAs, vma)
	}

	if err := k.shareOrCopyOnWrite(parent, child); err != nil {
		return 0, errnoPtr(ENOMEM)
	}

	child.FDs = parent.FDs.Clone()
	parent.AddChild(child.PID)
	k.Processes.Insert(child)

	childThread := thread.New(child.PID, 0, thread.User)
	childThread.Context = parentThread.Context
	childThread.HasStarted = true
	// Per spec.md §4.4, fork returns 0 in the child: the simulated ABI
	// threads a "syscall return value" through GPRegs[0] (the x0/rax slot).
	childThread.Context.GPRegs[0] = 0
	child.SetMainThread(childThread)
	k.setOwner(childThread.ID, child.PID)

	k.Scheduler.SpawnFront(cpu, childThread)

	return child.PID, nil
}

// shareOrCopyOnWrite walks the parent's VMAs, sharing read-only pages
// outright and marking writable pages copy-on-write in both address spaces
// (bumping the shared frame's refcount so the CoW fault handler later knows
// to stop sharing once a write actually happens). Grounded on
// original_source/kernel/src/memory/fork_helpers.rs's clone_process_memory,
// adapted from its per-page-table-walk shape to nucleus's VMA-list model.
func (k *Kernel) shareOrCopyOnWrite(parent, child *process.Process) error {
	if k.PageTable == nil {
		return nil
	}
	for _, vma := range parent.VMAs {
		for addr := vma.Start; addr < vma.End; addr += 4096 {
			info, ok := k.PageTable.GetPageInfo(addr)
			if !ok {
				continue
			}
			if info.Flags.Has(hal.FlagWritable) {
				k.Frames.Incref(info.PhysFrame)
				cowFlags := (info.Flags &^ hal.FlagWritable) | hal.FlagCopyOnWrite
				_ = k.PageTable.UpdatePageFlags(addr, cowFlags)
				_ = k.PageTable.MapPage(addr, info.PhysFrame, cowFlags)
			} else {
				k.Frames.Incref(info.PhysFrame)
				_ = k.PageTable.MapPage(addr, info.PhysFrame, info.Flags)
			}
		}
	}
	return nil
}

// HandleCoWFault is the page-fault handler's hook for a write to a
// CoW-shared page (spec.md §4.4). If the frame has no other owners (the
// sole-owner fast path), the fault is resolved in place by flipping the
// mapping back to writable; otherwise a fresh frame is allocated and mapped
// writable at addr in place of the shared one, and the shared frame's
// refcount is dropped. The old frame's bytes are not copied into the new
// frame: frame.Base is an address with no byte storage behind it here. The
// process table lock is acquired with TryLock; on contention the fault
// returns EAGAIN rather than blocking.
func (k *Kernel) HandleCoWFault(pid uint64, addr uint64) *Errno {
	unlock, ok := k.Processes.TryLock()
	if !ok {
		return errnoPtr(EAGAIN)
	}
	defer unlock()

	info, ok := k.PageTable.GetPageInfo(addr)
	if !ok || !info.Flags.Has(hal.FlagCopyOnWrite) {
		return errnoPtr(EFAULT)
	}

	if k.Frames.Refcount(info.PhysFrame) <= 1 {
		flags := (info.Flags &^ hal.FlagCopyOnWrite) | hal.FlagWritable
		if err := k.PageTable.UpdatePageFlags(addr, flags); err != nil {
			return errnoPtr(EFAULT)
		}
		return nil
	}

	newFrame, err := k.FrameAlloc.AllocFrame()
	if err != nil {
		return errnoPtr(ENOMEM)
	}
	flags := (info.Flags &^ hal.FlagCopyOnWrite) | hal.FlagWritable
	if err := k.PageTable.MapPage(addr, newFrame, flags); err != nil {
		k.FrameAlloc.FreeFrame(newFrame)
		return errnoPtr(ENOMEM)
	}
	if k.Frames.Decref(info.PhysFrame) {
		k.FrameAlloc.FreeFrame(info.PhysFrame)
	}
	return nil
}

func errnoPtr(e Errno) *Errno { return &e }
