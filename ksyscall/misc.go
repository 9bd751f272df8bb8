package ksyscall

import (
	"errors"
	"io"

	"github.com/arctir/nucleus/process"
)

// Yield gives up the remainder of the calling thread's quantum voluntarily
// (spec.md §4.2).
func (k *Kernel) Yield(cpu uint32) {
	k.Scheduler.YieldCurrent(cpu)
}

// Getpid returns the calling process's PID.
func (k *Kernel) Getpid(cpu uint32) (uint64, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	return p.PID, nil
}

// Gettid returns the calling thread's ID, which for clone()-created threads
// differs from Getpid's PID even though they share an address space
// (spec.md §4.6).
func (k *Kernel) Gettid(cpu uint32) (uint64, *Errno) {
	_, th, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	return th.ID, nil
}

// GetTime returns the hardware timer's monotonic tick count and nanosecond
// reading, standing in for get_time/clock_gettime (spec.md §6's Timer
// contract). It reads through the scheduler's own clock so GetTime reports
// the same notion of time TickQuantum and the timer queue use.
func (k *Kernel) GetTime(cpu uint32) (ticks uint64, nanos uint64) {
	c := k.Scheduler.Clock()
	if c == nil {
		return 0, 0
	}
	return c.Ticks(), c.NowNanos()
}

// Brk grows or shrinks the calling process's heap, returning the new break.
// Shrinking below HeapStart or growing past any mapped VMA is rejected with
// ENOMEM (spec.md §3's heap bounds).
func (k *Kernel) Brk(cpu uint32, newBreak uint64) (uint64, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	if newBreak == 0 {
		return p.HeapEnd, nil
	}
	if newBreak < p.HeapStart {
		return p.HeapEnd, errnoPtr(ENOMEM)
	}
	for _, vma := range p.VMAs {
		if vma.Start >= p.HeapEnd && vma.Start < newBreak {
			return p.HeapEnd, errnoPtr(ENOMEM)
		}
	}
	p.HeapEnd = newBreak
	return p.HeapEnd, nil
}

// MmapArgs mirrors mmap(2)'s arguments, narrowed to the anonymous-mapping
// case nucleus's host simulation supports (file-backed mappings are out of
// scope, spec.md §6).
type MmapArgs struct {
	Addr  uint64
	Len   uint64
	Flags uint32
}

// Mmap appends a new anonymous VMA to the calling process and returns its
// start address. A requested Addr of 0 lets the kernel pick one above the
// current top of the address space.
func (k *Kernel) Mmap(cpu uint32, args MmapArgs) (uint64, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	if args.Len == 0 {
		return 0, errnoPtr(EINVAL)
	}
	start := args.Addr
	if start == 0 {
		start = nextMmapAddr(p)
	}
	p.VMAs = append(p.VMAs, process.VMA{Start: start, End: start + args.Len, Flags: args.Flags})
	return start, nil
}

func nextMmapAddr(p *process.Process) uint64 {
	var top uint64
	for _, vma := range p.VMAs {
		if vma.End > top {
			top = vma.End
		}
	}
	if top < p.HeapEnd {
		top = p.HeapEnd
	}
	// Page-align up.
	const pageSize = 4096
	if rem := top % pageSize; rem != 0 {
		top += pageSize - rem
	}
	return top
}

// Mprotect updates the flags of every VMA overlapping [addr, addr+len).
func (k *Kernel) Mprotect(cpu uint32, addr, length uint64, flags uint32) *Errno {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	end := addr + length
	found := false
	for i := range p.VMAs {
		if p.VMAs[i].Start < end && addr < p.VMAs[i].End {
			p.VMAs[i].Flags = flags
			found = true
		}
	}
	if !found {
		return errnoPtr(EINVAL)
	}
	return nil
}

// Munmap removes any VMA exactly matching [addr, addr+len).
func (k *Kernel) Munmap(cpu uint32, addr, length uint64) *Errno {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	end := addr + length
	out := p.VMAs[:0]
	removed := false
	for _, vma := range p.VMAs {
		if vma.Start == addr && vma.End == end {
			removed = true
			continue
		}
		out = append(out, vma)
	}
	p.VMAs = out
	if !removed {
		return errnoPtr(EINVAL)
	}
	return nil
}

// Close closes an open file descriptor belonging to the calling process.
func (k *Kernel) Close(cpu uint32, fd int) *Errno {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return errno
	}
	if err := p.FDs.Close(fd); err != nil {
		return errnoPtr(EBADF)
	}
	return nil
}

// Reader is the read half of a byte-stream FD (a pipe endpoint, a console
// device); its buffering policy is an external collaborator's concern
// (spec.md §1, §6).
type Reader interface {
	Read(p []byte) (n int, err error)
}

// Writer is the write half of a byte-stream FD.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Write writes buf to an open, writable file descriptor.
func (k *Kernel) Write(cpu uint32, fd int, buf []byte) (int, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	f, ok := p.FDs.Get(fd)
	if !ok {
		return 0, errnoPtr(EBADF)
	}
	w, ok := f.(Writer)
	if !ok {
		return 0, errnoPtr(EBADF)
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, errnoPtr(EFAULT)
	}
	return n, nil
}

// Read reads into buf from an open, readable file descriptor.
func (k *Kernel) Read(cpu uint32, fd int, buf []byte) (int, *Errno) {
	p, _, errno := k.CurrentProcess(cpu)
	if errno != nil {
		return 0, errno
	}
	f, ok := p.FDs.Get(fd)
	if !ok {
		return 0, errnoPtr(EBADF)
	}
	r, ok := f.(Reader)
	if !ok {
		return 0, errnoPtr(EBADF)
	}
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, errnoPtr(EFAULT)
	}
	return n, nil
}
