package process

import (
	"fmt"
	"sync"
)

// InitPID is the PID orphaned children are reparented to, matching
// spec.md §3's "children reparented to init" lifecycle rule.
const InitPID = 1

// Manager is the process table: PID → *Process, with the locking needed to
// keep fork/exit/wait consistent across CPUs. It sits second in the lock
// hierarchy from spec.md §5, below the scheduler lock.
type Manager struct {
	mu    sync.Mutex
	procs map[uint64]*Process
}

// NewManager returns an empty process table.
func NewManager() *Manager {
	return &Manager{procs: make(map[uint64]*Process)}
}

// Insert adds p to the table, keyed by its PID.
func (m *Manager) Insert(p *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[p.PID] = p
}

// Get returns the process for pid, or (nil, false) if it's not found. A
// process that has exited and been reaped returns ESRCH-shaped absence
// (spec.md §7, §8 scenario 2).
func (m *Manager) Get(pid uint64) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	return p, ok
}

// TryLock attempts to acquire the manager's lock without blocking, for use
// by the CoW fault handler, which must degrade to "fail the write" on
// contention rather than block inside a page-fault handler (spec.md §4.4).
// It returns a function that must be called to release the lock when ok is
// true, and a no-op otherwise.
func (m *Manager) TryLock() (unlock func(), ok bool) {
	if m.mu.TryLock() {
		return m.mu.Unlock, true
	}
	return func() {}, false
}

// Reap removes a Terminated process from the table, returning its exit code.
// Returns an error if the process doesn't exist or hasn't terminated yet.
func (m *Manager) Reap(pid uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	if !ok {
		return 0, fmt.Errorf("no such process: %d", pid)
	}
	if !p.IsTerminated() {
		return 0, fmt.Errorf("process %d has not exited", pid)
	}
	delete(m.procs, pid)
	if p.ExitCode == nil {
		return 0, nil
	}
	return *p.ExitCode, nil
}

// ReparentChildren moves every child of pid to be a child of init, called
// when a process exits while it still has live children (spec.md §3).
func (m *Manager) ReparentChildren(pid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.procs[pid]
	if !ok {
		return
	}
	initProc, hasInit := m.procs[InitPID]
	for _, cid := range parent.Children {
		if child, ok := m.procs[cid]; ok {
			child.ParentPID = InitPID
			if hasInit {
				initProc.AddChild(cid)
			}
		}
	}
	parent.Children = nil
}

// Snapshot returns every process currently in the table, for introspection
// callers (the CLI's `run`/`ps` process table) that need a point-in-time listing
// rather than a single lookup.
func (m *Manager) Snapshot() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p)
	}
	return out
}

// ExitedChildren returns the PIDs of pid's children that have already
// terminated, for wait/waitpid's initial scan before blocking
// (spec.md §4.7).
func (m *Manager) ExitedChildren(pid uint64) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.procs[pid]
	if !ok {
		return nil
	}
	var exited []uint64
	for _, cid := range parent.Children {
		if child, ok := m.procs[cid]; ok && child.IsTerminated() {
			exited = append(exited, cid)
		}
	}
	return exited
}
