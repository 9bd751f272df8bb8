// Package process models the address-space-owning side of the kernel core:
// PID/PGID/SID allocation, the VMA list, the file-descriptor table, and the
// parent/child tree, per spec.md §3. A process strongly owns its main
// thread (spec.md §9, "cyclic ownership"); additional clone()-created
// threads are tracked only by ID, since each is represented as its own
// Process sharing an address space (spec.md §4.6).
package process

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arctir/nucleus/frame"
	"github.com/arctir/nucleus/signal"
	"github.com/arctir/nucleus/thread"
)

// nextPID is the monotonic PID allocator. 1 is reserved for init, so the
// first allocated PID is 2.
var nextPID uint64 = 2

// AllocatePID returns the next monotonically increasing process ID.
func AllocatePID() uint64 {
	return atomic.AddUint64(&nextPID, 1) - 1
}

// State mirrors the main thread's lifecycle, with an extra Creating state
// for the window between NewProcess and its first thread's dispatch
// (original_source/kernel/src/process/process.rs).
type State int

const (
	Creating State = iota
	Ready
	Running
	Blocked
	Terminated
)

func (s State) String() string {
	switch s {
	case Creating:
		return "Creating"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// VMA is a virtual memory area: an mmap'd or ELF-loaded region of a
// process's address space.
type VMA struct {
	Start uint64
	End   uint64
	Flags uint32
	// Writable/Executable/etc are encoded in Flags by convention of the
	// page-table mapper (an opaque external collaborator, spec.md §6); this
	// package never interprets the bits itself.
}

// FD is anything a file-descriptor-table slot can reference. Closing it must
// be safe to call exactly once; for pipe endpoints this is where reader or
// writer counts get decremented so the other end observes EOF (spec.md §3,
// §4.7). The buffer implementation itself is an external IPC collaborator
// (spec.md §1) — process only guarantees Close is called during exit.
type FD interface {
	Close() error
}

// FDTable is a process's open file descriptors.
type FDTable struct {
	mu   sync.Mutex
	fds  map[int]FD
	next int
}

// NewFDTable returns an empty file-descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{fds: make(map[int]FD)}
}

// Install assigns the next available descriptor number to f and returns it.
func (t *FDTable) Install(f FD) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.fds[fd] = f
	return fd
}

// Get returns the FD installed at fd, if any.
func (t *FDTable) Get(fd int) (FD, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.fds[fd]
	return f, ok
}

// Close removes fd from the table and closes the underlying FD. Returns an
// error if fd was not open.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	f, ok := t.fds[fd]
	if ok {
		delete(t.fds, fd)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("fd %d not open", fd)
	}
	return f.Close()
}

// CloseAll closes every open descriptor, in ascending fd order, the way
// Process.Terminate needs so that pipe EOF propagation happens
// deterministically before the process table forgets this PID.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	fds := make([]int, 0, len(t.fds))
	for fd := range t.fds {
		fds = append(fds, fd)
	}
	t.mu.Unlock()
	sort.Ints(fds)
	for _, fd := range fds {
		_ = t.Close(fd)
	}
}

// Clone returns a new FDTable holding the same open FD values as t. Used by
// fork, where parent and child get independent tables referencing the same
// underlying files/pipes.
func (t *FDTable) Clone() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewFDTable()
	for fd, f := range t.fds {
		nt.fds[fd] = f
	}
	nt.next = t.next
	return nt
}

// Process is the address-space-owning unit of the kernel core (spec.md §3).
type Process struct {
	PID  uint64
	PGID uint64
	SID  uint64
	Name string

	State      State
	EntryPoint uint64

	// MainThread is strongly owned by the process (spec.md §9).
	MainThread *thread.Thread

	// ThreadGroupID ties clone()-created threads (each a separate Process
	// sharing an address space) back to the group leader's PID.
	ThreadGroupID uint64
	// InheritedCR3 is set on clone()-created threads that share the
	// parent's page-table frame rather than owning their own (spec.md §4.6).
	InheritedCR3 *frame.Base

	ParentPID uint64
	Children  []uint64

	ExitCode *int

	PageTableFrame frame.Base
	HeapStart      uint64
	HeapEnd        uint64
	VMAs           []VMA

	FDs *FDTable

	Signals *signal.State

	// ClearChildTID is the user-space address to zero and futex-wake at
	// thread exit, supporting clone()'s CLONE_CHILD_CLEARTID (spec.md §4.6).
	ClearChildTID uint64
}

// New constructs a process in the Creating state with its own PGID/SID
// (each default to its own PID, original_source/kernel/src/process/process.rs).
func New(pid uint64, name string, entry uint64) *Process {
	return &Process{
		PID:        pid,
		PGID:       pid,
		SID:        pid,
		Name:       name,
		State:      Creating,
		EntryPoint: entry,
		FDs:        NewFDTable(),
		Signals:    signal.NewState(),
	}
}

// SetMainThread attaches th as the process's main thread and marks the
// process Ready.
func (p *Process) SetMainThread(th *thread.Thread) {
	p.MainThread = th
	p.State = Ready
}

// SetRunning marks the process Running.
func (p *Process) SetRunning() { p.State = Running }

// SetReady marks the process Ready.
func (p *Process) SetReady() { p.State = Ready }

// IsTerminated reports whether the process has exited.
func (p *Process) IsTerminated() bool { return p.State == Terminated }

// Terminate closes every file descriptor (so pipe readers observe EOF
// rather than hanging forever, spec.md §3/§4.7), marks the process
// Terminated with exitCode, and marks the main thread Terminated too. The
// thread flip is load-bearing: the scheduler keys off thread state, not
// process state, when deciding whether to requeue — without it a process
// killed by a signal would have its thread requeued forever
// (original_source/kernel/src/process/process.rs).
func (p *Process) Terminate(exitCode int) {
	p.FDs.CloseAll()
	p.State = Terminated
	p.ExitCode = &exitCode
	if p.MainThread != nil {
		p.MainThread.SetTerminated()
	}
}

// AddChild records cid as a child of p.
func (p *Process) AddChild(cid uint64) {
	p.Children = append(p.Children, cid)
}

// RemoveChild drops cid from p's child list (used once it has been reaped).
func (p *Process) RemoveChild(cid uint64) {
	out := p.Children[:0]
	for _, id := range p.Children {
		if id != cid {
			out = append(out, id)
		}
	}
	p.Children = out
}
