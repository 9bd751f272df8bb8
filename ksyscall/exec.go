package ksyscall

import "github.com/arctir/nucleus/process"

// Image is a loaded program image: an entry point and a stack top, the
// output of whatever loader sits above this package (ELF parsing is out of
// scope per spec.md §6; imagesync only fetches pre-built test binaries —
// the actual load step is the caller's job).
type Image struct {
	EntryPoint uint64
	StackTop   uint64
	VMAs       []process.VMA
}

// Exec replaces the calling process's image in place and never returns to
// the original caller on success: the current thread's saved context is
// overwritten with the new program's entry point and stack, the old VMAs
// are discarded, and the per-CPU exec-pending flag is set so the exception-
// return path picks up the rewritten context even if the scheduler itself
// doesn't choose to switch threads (spec.md §4.5, grounded on
// original_source/kernel/src/syscall/exec.rs's exec_replace). A failure
// (e.g. no current process) returns an error and the caller's image is left
// untouched, matching execve()'s "only disturbs the caller on success"
// contract.
func (k *Kernel) Exec(cpu uint32, img Image) *Errno {
	p, th, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}

	if k.PageTable != nil {
		_ = k.PageTable.ClearUserEntries()
	}

	p.VMAs = img.VMAs
	p.EntryPoint = img.EntryPoint
	p.HeapStart = 0
	p.HeapEnd = 0

	th.Context.PC = img.EntryPoint
	th.Context.SP = img.StackTop
	th.Context.UserSP = img.StackTop
	th.Context.GPRegs = [32]uint64{}
	// has_started stays true: exec never re-runs the first-dispatch path,
	// it rewrites the context of an already-running thread in place
	// (original_source exec_replace step 2).

	k.Scheduler.CPU(cpu).SetExecPending()
	return nil
}
