package ksyscall

import (
	"github.com/arctir/nucleus/signal"
	"github.com/arctir/nucleus/thread"
)

// WaitResult is what Wait/Waitpid report on success.
type WaitResult struct {
	PID      uint64
	ExitCode int
}

// Wait reaps any already-exited child of the caller, the same as
// Waitpid(cpu, 0). It does not block: when no child has exited yet it
// returns a zero-value WaitResult and a nil error, and blocking on
// Scheduler.BlockCurrentForChildExit is left to the caller. Returns ECHILD
// if the caller has no children at all.
func (k *Kernel) Wait(cpu uint32) (WaitResult, *Errno) {
	return k.Waitpid(cpu, 0)
}

// Waitpid waits for a specific child (pid > 0) or any child (pid == 0).
// Blocking is implemented by the caller driving the scheduler's blocking
// primitives around this call: Waitpid itself only decides whether to
// block (a zero-value result means no matching child has exited yet) and
// reaps an exited child. Nothing in this tree calls BlockCurrentForChildExit
// on Waitpid's behalf; a caller that wants to wait blocks with it and calls
// Waitpid again once woken.
func (k *Kernel) Waitpid(cpu uint32, pid uint64) (WaitResult, *Errno) {
	parent, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return WaitResult{}, errno
	}
	if len(parent.Children) == 0 {
		return WaitResult{}, errnoPtr(ECHILD)
	}

	exited := k.Processes.ExitedChildren(parent.PID)
	target := pickChild(exited, pid)
	if target == 0 {
		return WaitResult{}, nil // caller should block and retry
	}

	code, err := k.Processes.Reap(target)
	if err != nil {
		return WaitResult{}, errnoPtr(ESRCH)
	}
	parent.RemoveChild(target)
	return WaitResult{PID: target, ExitCode: code}, nil
}

func pickChild(candidates []uint64, want uint64) uint64 {
	if len(candidates) == 0 {
		return 0
	}
	if want == 0 {
		return candidates[0]
	}
	for _, c := range candidates {
		if c == want {
			return c
		}
	}
	return 0
}

// Exit terminates the calling process: its file descriptors are closed
// (propagating EOF to pipe readers), its children are reparented to init,
// and the parent's main thread is woken if it is blocked waiting for a
// child to exit (spec.md §3, §4.7).
func (k *Kernel) Exit(cpu uint32, code int) *Errno {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	p.Terminate(code)
	k.Processes.ReparentChildren(p.PID)
	k.Scheduler.TerminateCurrent(cpu)

	if parent, ok := k.Processes.Get(p.ParentPID); ok && parent.MainThread != nil {
		k.Scheduler.UnblockForChildExit(parent.MainThread.ID)
	}
	return nil
}

// Kill raises a signal against the target PID's main thread. A fatal signal
// with no handler installed terminates the process immediately (spec.md
// §4.7); otherwise it is queued for delivery on the target's next return to
// userspace.
func (k *Kernel) Kill(senderPID, targetPID uint64, sig signal.Num) *Errno {
	target, ok := k.Processes.Get(targetPID)
	if !ok {
		return errnoPtr(ESRCH)
	}
	if target.MainThread == nil {
		return errnoPtr(ESRCH)
	}

	handler := target.Signals.HandlerFor(sig)
	if sig.IsFatal() && handler.Disposition == signal.Default {
		target.Terminate(128 + int(sig))
		k.Processes.ReparentChildren(target.PID)
		if parent, ok := k.Processes.Get(target.ParentPID); ok && parent.MainThread != nil {
			k.Scheduler.UnblockForChildExit(parent.MainThread.ID)
		}
		return nil
	}

	target.Signals.Raise(sig, senderPID)
	if target.MainThread.State == thread.BlockedOnSignal {
		k.Scheduler.UnblockForSignal(target.MainThread.ID)
	}
	return nil
}
