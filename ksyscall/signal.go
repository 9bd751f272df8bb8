package ksyscall

import (
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/signal"
	"github.com/arctir/nucleus/thread"
)

// SigactionArgs mirrors sigaction(2)'s "new disposition, old disposition
// out-param" shape.
type SigactionArgs struct {
	Signal      signal.Num
	Disposition signal.HandlerDisposition
	HandlerAddr uint64
}

// Sigaction installs a new disposition for a signal and returns the one it
// replaced, so a handler can restore the previous behavior on return
// (spec.md §4.7).
func (k *Kernel) Sigaction(cpu uint32, args SigactionArgs) (signal.Handler, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return signal.Handler{}, errno
	}
	old := p.Signals.HandlerFor(args.Signal)
	p.Signals.SetHandler(args.Signal, signal.Handler{
		Disposition: args.Disposition,
		HandlerAddr: args.HandlerAddr,
	})
	return old, nil
}

// Pause blocks the calling thread until a deliverable (pending, unblocked)
// signal arrives, saving the full userspace context so the signal-delivery
// path can later restore it verbatim once the handler returns (spec.md
// §4.7, grounded on block_current_for_signal_with_context).
func (k *Kernel) Pause(cpu uint32) *Errno {
	_, th, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	k.Scheduler.BlockCurrentForSignalWithContext(cpu, th.Context)
	return nil
}

// deliverableSignal finds p's next deliverable signal and consumes it,
// shared by DeliverPending's cpu-keyed lookup and DeliverToFrame's
// threadID-keyed one.
func deliverableSignal(p *process.Process) (signal.Info, bool) {
	info, ok := p.Signals.NextDeliverable()
	if !ok {
		return signal.Info{}, false
	}
	p.Signals.Consume(info.Signal)
	return info, true
}

// DeliverPending checks whether the current thread has a deliverable signal
// and, if so, consumes it and reports which one fired (spec.md §4.7's
// "delivery deferred to user-return").
func (k *Kernel) DeliverPending(cpu uint32) (signal.Info, bool, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return signal.Info{}, false, errno
	}
	info, ok := deliverableSignal(p)
	return info, ok, nil
}

// DeliverToFrame is the arch.SignalDeliverer the kernel package wires into
// every Engine: called on each return-to-user check for threadID, it looks
// up that thread's owning process directly (no CPU involved, since the
// thread asking to resume need not be the one a syscall last ran on) and
// splices at most one deliverable signal into frame. A Handled disposition
// saves the interrupted context (so Sigreturn can restore it later) and
// redirects PC to the handler; otherwise, if the thread was waiting inside
// pause(), the interrupted syscall now returns -EINTR the same way fork
// writes a return value straight into a thread's GPRegs[0] (spec.md §4.7,
// §8 scenario 5). Reports whether it changed frame.
func (k *Kernel) DeliverToFrame(threadID uint64, frame *thread.Context) bool {
	pid, ok := k.ownerOf(threadID)
	if !ok {
		return false
	}
	p, ok := k.Processes.Get(pid)
	if !ok {
		return false
	}
	th, ok := k.Scheduler.GetThread(threadID)
	if !ok {
		return false
	}

	info, ok := deliverableSignal(p)
	if !ok {
		return false
	}

	wasBlockedInSyscall := th.BlockedInSyscall
	th.BlockedInSyscall = false

	if handler := p.Signals.HandlerFor(info.Signal); handler.Disposition == signal.Handled {
		saved := *frame
		th.SavedUserspaceContext = &saved
		frame.PC = handler.HandlerAddr
		return true
	}

	if wasBlockedInSyscall {
		frame.GPRegs[0] = uint64(EINTR.Negative())
		return true
	}
	return false
}

// Sigreturn restores the userspace context saved by a prior Pause/signal
// delivery, completing the handler-return round trip (spec.md §4.7).
func (k *Kernel) Sigreturn(cpu uint32) *Errno {
	_, th, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	if th.SavedUserspaceContext == nil {
		return errnoPtr(EINVAL)
	}
	th.Context = *th.SavedUserspaceContext
	th.SavedUserspaceContext = nil
	return nil
}
