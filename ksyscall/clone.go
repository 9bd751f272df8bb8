package ksyscall

import (
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/thread"
)

// Clone flags, Linux-compatible numbering (grounded on
// original_source/kernel/src/syscall/clone.rs).
const (
	CloneVM            = 0x00000100
	CloneFiles         = 0x00000400
	CloneChildClearTID = 0x00200000
	CloneChildSetTID   = 0x01000000
)

// CloneArgs mirrors sys_clone's argument list (spec.md §4.6).
type CloneArgs struct {
	Flags        uint64
	ChildStack   uint64
	EntryPoint   uint64
	EntryArg     uint64
	ChildTIDAddr uint64
}

// ChildTIDWriter writes the child's TID to a user-space address, the
// CLONE_CHILD_SETTID side effect. The kernel package supplies this once it
// has a user-memory-write primitive; nucleus's ksyscall layer stays
// memory-backend-agnostic.
type ChildTIDWriter func(addr uint64, tid uint32) error

// Clone creates a new thread sharing the parent's address space: a fresh
// Process is created (nucleus's one-thread-per-process model, spec.md
// §4.6) with InheritedCR3 pointing at the parent's page-table frame rather
// than owning one, and the same ThreadGroupID as the parent (or the
// parent's own PID if this is the group's first clone). CLONE_VM is
// mandatory — without it the caller should have used Fork instead.
func (k *Kernel) Clone(cpu uint32, args CloneArgs, writeTID ChildTIDWriter) (childTID uint64, e *Errno) {
	if args.Flags&CloneVM == 0 {
		return 0, errnoPtr(EINVAL)
	}
	if args.ChildStack == 0 || args.EntryPoint == 0 {
		return 0, errnoPtr(EINVAL)
	}

	parent, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}

	parentCR3 := parent.PageTableFrame
	if parent.InheritedCR3 != nil {
		parentCR3 = *parent.InheritedCR3
	}

	threadGroupID := parent.ThreadGroupID
	if threadGroupID == 0 {
		threadGroupID = parent.PID
	}

	childPID := process.AllocatePID()
	child := process.New(childPID, "clone-child", args.EntryPoint)
	child.ParentPID = parent.PID
	child.PGID = parent.PGID
	child.SID = parent.SID
	child.State = process.Ready
	inherited := parentCR3
	child.InheritedCR3 = &inherited
	child.ThreadGroupID = threadGroupID

	if args.Flags&CloneFiles != 0 {
		child.FDs = parent.FDs
	}
	if args.Flags&CloneChildClearTID != 0 && args.ChildTIDAddr != 0 {
		child.ClearChildTID = args.ChildTIDAddr
	}

	childThread := thread.New(childPID, 0, thread.User)
	childThread.Context.PC = args.EntryPoint
	childThread.Context.SP = args.ChildStack
	childThread.Context.UserSP = args.ChildStack
	childThread.Context.GPRegs[0] = args.EntryArg
	childThread.HasStarted = true

	child.SetMainThread(childThread)
	k.setOwner(childThread.ID, child.PID)
	k.Processes.Insert(child)
	parent.AddChild(child.PID)

	if args.Flags&CloneChildSetTID != 0 && args.ChildTIDAddr != 0 && writeTID != nil {
		_ = writeTID(args.ChildTIDAddr, uint32(childThread.ID))
	}

	k.Scheduler.Spawn(cpu, childThread)

	return childThread.ID, nil
}
