// Package sched implements the global, per-CPU-aware, SMP-safe run queue
// described in spec.md §4.2: round-robin with a fixed time quantum, the
// blocking/waking primitives threads use to suspend, and the deferred-
// requeue protocol that keeps a thread's register state from being observed
// by another CPU before it has been durably saved.
//
// Every exported method that touches the ready queue or per-CPU current
// pointers takes the scheduler's own lock, the single serialization point
// named in spec.md §5. Call sequences spanning Schedule/ScheduleDeferred →
// save context → CommitAfterSave → RequeueAfterSave are the caller's
// responsibility to perform in order; see package arch for the
// context-switch path that drives them.
package sched

import (
	"sync"

	"github.com/arctir/nucleus/percpu"
	"github.com/arctir/nucleus/thread"
)

// QuantumTicks is the fixed round-robin time slice, in timer ticks
// (spec.md §4.2: "10 timer ticks; timer frequency target 200 Hz ⇒ ~50 ms").
const QuantumTicks = 10

// historyDepth bounds the diagnostic ring of recent CPU-state transitions
// (original_source/kernel/src/task/scheduler.rs's record_cpu_state_change).
const historyDepth = 64

// Transition is one recorded (cpu, old, new) current-thread handoff, kept
// only for the CLI's `nucleus trace` diagnostic subcommand.
type Transition struct {
	CPU uint32
	Old uint64
	New uint64
}

// Clock is the monotonic tick source the scheduler consults for quantum
// accounting and timer wakeups. Implemented by package kernel's simulated
// timer; tests can supply a manually advanced fake.
type Clock interface {
	Ticks() uint64
	NowNanos() uint64
}

// Scheduler is the global ready queue plus per-CPU current/idle pointers.
type Scheduler struct {
	mu sync.Mutex

	clock Clock

	threads map[uint64]*thread.Thread
	ready   []uint64

	cpus       []*percpu.Area
	idleThread []uint64 // idleThread[cpu] is that CPU's idle thread ID

	quantumRemaining []int

	history []Transition

	// ipi is invoked when a CPU should be woken from its idle loop; package
	// kernel wires this to a channel send. Exactly one CPU is signalled per
	// enqueue (spec.md §5, "only one CPU is woken per enqueue").
	ipi func(cpu uint32)
}

// New returns a scheduler sized for numCPUs logical processors. idleThreads
// must have length numCPUs and supply the dedicated idle thread for each
// CPU (spec.md §4.2: "the idle thread of each CPU is never enqueued").
func New(numCPUs int, idleThreads []*thread.Thread, ipi func(cpu uint32)) *Scheduler {
	s := &Scheduler{
		threads:          make(map[uint64]*thread.Thread),
		cpus:             make([]*percpu.Area, numCPUs),
		idleThread:       make([]uint64, numCPUs),
		quantumRemaining: make([]int, numCPUs),
		ipi:              ipi,
	}
	for i := 0; i < numCPUs; i++ {
		s.cpus[i] = percpu.New(uint32(i))
		s.quantumRemaining[i] = QuantumTicks
		th := idleThreads[i]
		s.threads[th.ID] = th
		s.idleThread[i] = th.ID
		s.cpus[i].SetCurrentThread(th.ID)
	}
	return s
}

// SetClock installs the tick/time source used for quantum accounting and
// timer wakeups.
func (s *Scheduler) SetClock(c Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

// Clock returns the tick/time source installed by SetClock, or nil if none
// has been set yet.
func (s *Scheduler) Clock() Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// CPU returns the per-CPU area for the given logical CPU index.
func (s *Scheduler) CPU(cpu uint32) *percpu.Area { return s.cpus[cpu] }

// NumCPUs returns how many logical CPUs this scheduler manages.
func (s *Scheduler) NumCPUs() int { return len(s.cpus) }

// GetThread returns the thread for id, if known to the scheduler.
func (s *Scheduler) GetThread(id uint64) (*thread.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	return t, ok
}

// History returns a copy of the recent CPU-state-transition ring, oldest
// first, for diagnostics only.
func (s *Scheduler) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) recordTransition(cpu uint32, old, new_ uint64) {
	s.history = append(s.history, Transition{CPU: cpu, Old: old, New: new_})
	if len(s.history) > historyDepth {
		s.history = s.history[len(s.history)-historyDepth:]
	}
}

// Spawn appends thread to the global ready queue and requests a reschedule.
func (s *Scheduler) Spawn(cpu uint32, t *thread.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
	s.ready = append(s.ready, t.ID)
	s.cpus[cpu].SetNeedResched()
}

// SpawnFront prepends thread to the ready queue, so fork children run ahead
// of whatever else is waiting (spec.md §4.2, §4.4).
func (s *Scheduler) SpawnFront(cpu uint32, t *thread.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
	s.ready = append([]uint64{t.ID}, s.ready...)
	s.cpus[cpu].SetNeedResched()
}

// SpawnAsCurrent installs thread as the current thread of cpu without
// enqueueing it, used only for the very first user thread on a CPU
// (spec.md §3, "Thread" lifecycle).
func (s *Scheduler) SpawnAsCurrent(cpu uint32, t *thread.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
	t.SetRunning()
	s.cpus[cpu].SetCurrentThread(t.ID)
}

func (s *Scheduler) isIdle(id uint64) bool {
	for _, idle := range s.idleThread {
		if idle == id {
			return true
		}
	}
	return false
}

// isCurrentOnAnyCPU reports whether id is installed as "current" on any
// CPU's per-CPU area, the check unblock() uses to avoid double-queueing a
// thread another CPU is still in the middle of context-switching out of
// (spec.md §4.2, "deferred-requeue SMP protocol").
func (s *Scheduler) isCurrentOnAnyCPU(id uint64) bool {
	for _, c := range s.cpus {
		if c.CurrentThread() == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) inReadyQueue(id uint64) bool {
	for _, q := range s.ready {
		if q == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) popReady() (uint64, bool) {
	for len(s.ready) > 0 {
		id := s.ready[0]
		s.ready = s.ready[1:]
		if t, ok := s.threads[id]; ok && t.State == thread.Terminated {
			continue
		}
		return id, true
	}
	return 0, false
}

func (s *Scheduler) pushReady(id uint64) {
	s.ready = append(s.ready, id)
}

// wakeExpiredTimers wakes every BlockedOnTimer thread whose deadline has
// passed, scanned on every Schedule/ScheduleDeferred call (spec.md §4.2).
func (s *Scheduler) wakeExpiredTimers() {
	if s.clock == nil {
		return
	}
	now := s.clock.NowNanos()
	for id, t := range s.threads {
		if t.State == thread.BlockedOnTimer && t.WakeTimeNanos <= now {
			t.SetReady()
			if !s.inReadyQueue(id) && !s.isCurrentOnAnyCPU(id) {
				s.pushReady(id)
			}
		}
	}
}

// chargeAndRequeueOutgoing updates the outgoing thread's accounting and
// decides whether it should return to the ready queue, mirroring
// schedule()'s bookkeeping in original_source/kernel/src/task/scheduler.rs.
// It does not itself push to the ready queue; callers decide when that's
// safe (immediately for Schedule, deferred for ScheduleDeferred).
func (s *Scheduler) chargeAndRequeueOutgoing(cpu uint32) (id uint64, shouldRequeue bool) {
	area := s.cpus[cpu]
	currentID := area.CurrentThread()
	if s.isIdle(currentID) {
		return currentID, false
	}
	t, ok := s.threads[currentID]
	if !ok {
		return currentID, false
	}
	if s.clock != nil {
		now := s.clock.Ticks()
		t.CPUTicksTotal += now - t.RunStartTicks
	}
	wasTerminated := t.State == thread.Terminated
	wasBlocked := t.State.IsBlocked()
	if !wasTerminated && !wasBlocked {
		t.SetReady()
	}
	shouldRequeue = !wasTerminated && !wasBlocked && !s.inReadyQueue(currentID)
	return currentID, shouldRequeue
}

// dispatchNext pops the next runnable thread, resolving the "dequeued
// candidate equals current" tie-breaks from spec.md §4.2. It reports the
// chosen next thread ID and whether a genuine switch should happen at all
// (false means: nothing to do, return None to the caller).
func (s *Scheduler) dispatchNext(cpu uint32, currentID uint64) (next uint64, shouldSwitch bool) {
	area := s.cpus[cpu]
	idle := s.idleThread[cpu]

	next, ok := s.popReady()
	if !ok {
		next = idle
	}

	if next == currentID && len(s.ready) > 0 {
		s.pushReady(next)
		var ok2 bool
		next, ok2 = s.popReady()
		if !ok2 {
			return 0, false
		}
		return next, true
	}

	if next == currentID {
		if next != idle {
			if t, ok := s.threads[next]; ok && t.Privilege == thread.User {
				// ARM64 only preempts on user-return; idle runs in kernel
				// mode, so switching a lone userspace thread to idle would
				// strand it (spec.md §4.2).
				return 0, false
			}
			s.pushReady(next)
			area.SetNeedResched()
			return idle, true
		}
		// Idle is the only runnable thread; nothing to do.
		return 0, false
	}

	return next, true
}

// Schedule picks a new thread to run on cpu, fully publishing the switch:
// the outgoing thread (if still runnable) is pushed to the ready queue and
// cpu_state[cpu].current is updated before returning. Returns (oldID,
// newID, true) if a switch is warranted, or (0, 0, false) otherwise
// (spec.md §4.2's contract table; "Schedule purity" in §8).
func (s *Scheduler) Schedule(cpu uint32) (oldID, newID uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, shouldRequeue := s.chargeAndRequeueOutgoing(cpu)
	if shouldRequeue {
		s.pushReady(currentID)
	}

	s.wakeExpiredTimers()

	next, shouldSwitch := s.dispatchNext(cpu, currentID)
	if !shouldSwitch {
		return 0, 0, false
	}

	area := s.cpus[cpu]
	old := area.CurrentThread()
	area.SetCurrentThread(next)
	s.recordTransition(cpu, old, next)

	if t, ok := s.threads[next]; ok {
		t.SetRunning()
		if s.clock != nil {
			t.RunStartTicks = s.clock.Ticks()
		}
	}
	s.quantumRemaining[cpu] = QuantumTicks
	return old, next, true
}

// ScheduleDeferred is Schedule's SMP-safe sibling: it decides the switch
// and charges accounting, but does NOT update cpu_state[cpu].current and
// does NOT push the outgoing thread to the ready queue. The caller must
// save the outgoing thread's context, then call CommitAfterSave(newID)
// followed by RequeueAfterSave(oldID), in that order — this is the
// deferred-requeue SMP protocol from spec.md §4.2, the hardest part of the
// scheduler: it prevents another CPU from dispatching the outgoing thread
// with stale register state.
func (s *Scheduler) ScheduleDeferred(cpu uint32) (oldID, newID uint64, shouldRequeueOld, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	currentID, shouldRequeue := s.chargeAndRequeueOutgoing(cpu)
	// Deliberately not pushed to ready queue yet: see RequeueAfterSave.

	s.wakeExpiredTimers()

	next, shouldSwitch := s.dispatchNext(cpu, currentID)
	if !shouldSwitch {
		return 0, 0, false, false
	}
	// dispatchNext may have decided to push currentID back to the ready
	// queue itself (the "lone non-idle thread switches to idle" tie-break);
	// in ScheduleDeferred that push must also wait for CommitAfterSave, so
	// undo it here and fold it into shouldRequeue instead.
	if next != currentID && s.inReadyQueue(currentID) && currentID == s.cpus[cpu].CurrentThread() {
		s.removeFromReady(currentID)
		shouldRequeue = true
	}

	old := s.cpus[cpu].CurrentThread()

	if t, ok := s.threads[next]; ok {
		t.SetRunning()
		if s.clock != nil {
			t.RunStartTicks = s.clock.Ticks()
		}
	}
	s.quantumRemaining[cpu] = QuantumTicks
	return old, next, shouldRequeue, true
}

// removeFromReady deletes the first occurrence of id from the ready queue,
// used only to undo dispatchNext's speculative push in ScheduleDeferred.
func (s *Scheduler) removeFromReady(id uint64) {
	for i, q := range s.ready {
		if q == id {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// CommitAfterSave finalizes the cpu_state update for ScheduleDeferred,
// after (and only after) the outgoing thread's context has been durably
// saved. Until this call, unblock() on any other CPU still sees the
// outgoing thread as "current somewhere" and will refuse to queue it.
func (s *Scheduler) CommitAfterSave(cpu uint32, newThreadID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	area := s.cpus[cpu]
	old := area.CurrentThread()
	area.SetCurrentThread(newThreadID)
	s.recordTransition(cpu, old, newThreadID)
}

// RequeueAfterSave adds the previously-outgoing thread back to the ready
// queue, completing the deferred-requeue protocol. It refuses to requeue
// idle threads, and refuses (silently) if the thread's state has since
// changed to Terminated or Blocked — a safety check against a race where
// the thread was killed on another CPU between ScheduleDeferred deciding to
// requeue it and this call (spec.md §4.2).
func (s *Scheduler) RequeueAfterSave(threadID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isIdle(threadID) {
		return
	}
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	if t.State != thread.Ready {
		return
	}
	if s.inReadyQueue(threadID) {
		return
	}
	s.pushReady(threadID)
	s.wakeIdleCPU()
}

// BlockCurrent sets the current thread of cpu to a generic Blocked state
// and removes it from the ready queue.
func (s *Scheduler) BlockCurrent(cpu uint32, reason thread.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		t.State = reason
		s.removeFromReady(id)
	}
}

// Unblock transitions a blocked thread back to Ready and, unless it is
// current on some CPU (which will notice the state change itself on its
// next scheduling point), adds it to the ready queue and wakes one idle
// CPU via IPI (spec.md §4.2, §5).
func (s *Scheduler) Unblock(threadID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || !t.State.IsBlocked() {
		return
	}
	t.SetReady()
	if s.isCurrentOnAnyCPU(threadID) {
		return
	}
	if s.inReadyQueue(threadID) {
		return
	}
	s.pushReady(threadID)
	s.wakeIdleCPU()
}

// BlockCurrentForSignal implements pause()'s suspend half: state →
// BlockedOnSignal, blocked_in_syscall set so the eventual resume runs the
// syscall return path rather than restoring a stale pre-syscall PC
// (spec.md §4.2).
func (s *Scheduler) BlockCurrentForSignal(cpu uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		t.State = thread.BlockedOnSignal
		t.BlockedInSyscall = true
		s.removeFromReady(id)
	}
}

// BlockCurrentForSignalWithContext additionally snapshots the interrupted
// user-mode context, so it can be replayed verbatim once the signal has
// been delivered and its handler returns (spec.md §4.2, §4.7).
func (s *Scheduler) BlockCurrentForSignalWithContext(cpu uint32, ctx thread.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		saved := ctx
		t.SavedUserspaceContext = &saved
		t.State = thread.BlockedOnSignal
		t.BlockedInSyscall = true
		s.removeFromReady(id)
	}
}

// UnblockForSignal wakes a thread blocked in pause(). blocked_in_syscall is
// deliberately left set — it clears naturally when the syscall actually
// returns (spec.md §4.2).
func (s *Scheduler) UnblockForSignal(threadID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.State != thread.BlockedOnSignal {
		return
	}
	t.SetReady()
	if s.isCurrentOnAnyCPU(threadID) || s.inReadyQueue(threadID) {
		return
	}
	s.pushReady(threadID)
	s.wakeIdleCPU()
}

// BlockCurrentForChildExit implements wait/waitpid's suspend half.
func (s *Scheduler) BlockCurrentForChildExit(cpu uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		t.State = thread.BlockedOnChildExit
		s.removeFromReady(id)
	}
}

// UnblockForChildExit wakes threadID if it is blocked on a child's exit,
// queueing it unless it is still current on some CPU. Callers pass the
// exiting child's parent's main thread, once per child exit.
func (s *Scheduler) UnblockForChildExit(threadID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.State != thread.BlockedOnChildExit {
		return
	}
	t.SetReady()
	if s.isCurrentOnAnyCPU(threadID) || s.inReadyQueue(threadID) {
		return
	}
	s.pushReady(threadID)
	s.wakeIdleCPU()
}

// BlockCurrentForTimer suspends the current thread until wakeTimeNanos.
func (s *Scheduler) BlockCurrentForTimer(cpu uint32, wakeTimeNanos uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		t.State = thread.BlockedOnTimer
		t.WakeTimeNanos = wakeTimeNanos
		s.removeFromReady(id)
	}
}

// TerminateCurrent marks the current thread of cpu Terminated. The
// scheduler will filter it out on next dequeue and never requeue it again.
func (s *Scheduler) TerminateCurrent(cpu uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.cpus[cpu].CurrentThread()
	if t, ok := s.threads[id]; ok {
		t.SetTerminated()
	}
}

// YieldCurrent sets need_resched for cpu without calling Schedule — it must
// never change any CPU's current thread by itself ("yield purity",
// spec.md §8).
func (s *Scheduler) YieldCurrent(cpu uint32) {
	s.cpus[cpu].SetNeedResched()
}

// HasRunnableThreads reports whether any thread other than the per-CPU idle
// threads is Ready or Running, i.e. whether the machine still has work.
func (s *Scheduler) HasRunnableThreads() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.threads {
		if s.isIdle(id) {
			continue
		}
		if t.State == thread.Ready || t.State == thread.Running {
			return true
		}
	}
	return false
}

// HasUserspaceThreads reports whether any non-terminated User-privilege
// thread still exists.
func (s *Scheduler) HasUserspaceThreads() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.Privilege == thread.User && t.State != thread.Terminated {
			return true
		}
	}
	return false
}

// IsIdleThread reports whether id is the designated idle thread of any CPU.
func (s *Scheduler) IsIdleThread(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isIdle(id)
}

// TickQuantum decrements cpu's remaining quantum by one tick and sets
// need_resched (resetting the counter) once it reaches zero, per the
// round-robin policy in spec.md §4.2.
func (s *Scheduler) TickQuantum(cpu uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quantumRemaining[cpu]--
	if s.quantumRemaining[cpu] <= 0 {
		s.cpus[cpu].SetNeedResched()
		s.quantumRemaining[cpu] = QuantumTicks
	}
}

// wakeIdleCPU sends an IPI to exactly one CPU currently parked on its idle
// thread, to prevent a thundering herd (spec.md §5). Must be called with
// s.mu held.
func (s *Scheduler) wakeIdleCPU() {
	if s.ipi == nil {
		return
	}
	for i, c := range s.cpus {
		if c.CurrentThread() == s.idleThread[i] {
			s.ipi(uint32(i))
			return
		}
	}
}
