// Package kernel is the orchestrator: it wires percpu areas, the scheduler,
// the architecture engine, the process table, and the syscall layer into a
// runnable simulated machine. Logical CPUs are goroutines; inter-processor
// interrupts are buffered channel sends; the hardware timer is a
// time.Ticker. Grounded on the construct-once/run-loop shape of
// ui.New()/ui.RunUI(), generalized from "serve HTTP requests" to "run
// logical CPUs".
package kernel

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/arctir/nucleus/arch"
	"github.com/arctir/nucleus/frame"
	"github.com/arctir/nucleus/hal"
	"github.com/arctir/nucleus/ksyscall"
	"github.com/arctir/nucleus/percpu"
	"github.com/arctir/nucleus/process"
	"github.com/arctir/nucleus/sched"
	"github.com/arctir/nucleus/thread"
)

// TickInterval is the simulated hardware timer's period, matching spec.md
// §4.2's 200 Hz target (1e9/200 = 5ms).
const TickInterval = 5 * time.Millisecond

// simClock is the hal.Timer/sched.Clock backing the whole machine: a
// monotonically increasing tick counter advanced once per TickInterval, and
// wall-clock nanoseconds for wake-time comparisons.
type simClock struct {
	ticks uint64
	mu    sync.Mutex
	start time.Time
}

func newSimClock(now time.Time) *simClock {
	return &simClock{start: now}
}

func (c *simClock) advance() {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
}

func (c *simClock) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

func (c *simClock) NowNanos() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

// Machine is a fully wired simulated kernel: everything below package
// kernel is hardware-agnostic (percpu, sched, arch, process, ksyscall); this
// package is the one place that owns goroutines, channels, and a real clock
// on behalf of that core.
type Machine struct {
	NumCPUs   int
	Scheduler *sched.Scheduler
	Engine    *arch.Engine
	Processes *process.Manager
	Frames    *frame.Metadata
	Syscalls  *ksyscall.Kernel
	PageTable hal.PageTable

	clock *simClock
	ipi   []chan struct{}

	wg       sync.WaitGroup
	runOnce  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
}

// New constructs a Machine with numCPUs logical processors, wiring a fresh
// idle thread per CPU (spec.md §4.2: "the idle thread of each CPU is never
// enqueued") and the given architecture backend and memory collaborators.
func New(numCPUs int, backend arch.Backend, pt hal.PageTable, fa hal.FrameAllocator) *Machine {
	if numCPUs < 1 || numCPUs > percpu.MaxCPUs {
		panic("kernel: numCPUs out of range")
	}

	idles := make([]*thread.Thread, numCPUs)
	for i := range idles {
		idles[i] = thread.New(0, 0, thread.Kernel)
	}

	ipiChans := make([]chan struct{}, numCPUs)
	for i := range ipiChans {
		ipiChans[i] = make(chan struct{}, 1)
	}
	sendIPI := func(cpu uint32) {
		select {
		case ipiChans[cpu] <- struct{}{}:
		default:
		}
	}

	s := sched.New(numCPUs, idles, sendIPI)
	clock := newSimClock(time.Now())
	s.SetClock(clock)

	procs := process.NewManager()
	metadata := frame.NewMetadata()
	syscalls := ksyscall.NewKernel(s, procs, metadata, pt, fa)

	engine := &arch.Engine{
		Scheduler: s,
		Backend:   backend,
		Signals:   syscalls.DeliverToFrame,
		AddressSpaceOf: func(threadID uint64) (uint64, bool) {
			pid, ok := syscalls.OwnerOf(threadID)
			if !ok {
				return 0, false
			}
			p, ok := procs.Get(pid)
			if !ok {
				return 0, false
			}
			if p.InheritedCR3 != nil {
				return uint64(*p.InheritedCR3), true
			}
			return uint64(p.PageTableFrame), true
		},
	}

	return &Machine{
		NumCPUs:   numCPUs,
		Scheduler: s,
		Engine:    engine,
		Processes: procs,
		Frames:    metadata,
		Syscalls:  syscalls,
		PageTable: pt,
		clock:     clock,
		ipi:       ipiChans,
		stop:      make(chan struct{}),
	}
}

// Run starts every logical CPU's loop and the timer goroutine, blocking
// until ctx is cancelled or Stop is called. Safe to call only once per
// Machine.
func (m *Machine) Run(ctx context.Context) {
	m.runOnce.Do(func() {
		m.wg.Add(m.NumCPUs + 1)
		go m.runTimer(ctx)
		for cpu := 0; cpu < m.NumCPUs; cpu++ {
			go m.runCPU(ctx, uint32(cpu))
		}
		m.wg.Wait()
	})
}

// Stop signals every goroutine launched by Run to exit. Idempotent.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Machine) runTimer(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.clock.advance()
			for cpu := 0; cpu < m.NumCPUs; cpu++ {
				m.Scheduler.TickQuantum(uint32(cpu))
			}
		}
	}
}

// runCPU is one logical processor's fetch loop: it idles until either an
// IPI arrives or the per-CPU need-resched flag is set, then asks the
// architecture engine whether a switch is due. There is no real
// instruction stream to execute in a host simulation (spec.md §6 puts ELF
// loading/execution out of scope), so a dispatched thread's "running" time
// is simulated by simply holding the CPU until the next scheduling point.
func (m *Machine) runCPU(ctx context.Context, cpu uint32) {
	defer m.wg.Done()
	area := m.Scheduler.CPU(cpu)
	regFrame := &thread.Context{}
	pollInterval := TickInterval / 4

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-m.ipi[cpu]:
		case <-time.After(pollInterval):
		}

		if area.ExecPending() {
			area.ClearExecPending()
		}

		// A thread resumes to userspace here whenever it is privilege User:
		// this simulated machine has no separate "IRQ return" vs "syscall
		// return" code paths, so every poll that leaves a User thread current
		// is a user-return point and must check pending signals (spec.md
		// §4.7).
		fromUserspace := false
		if t, ok := m.Scheduler.GetThread(area.CurrentThread()); ok {
			fromUserspace = t.Privilege == thread.User
		}

		res := m.Engine.CheckNeedReschedAndSwitch(cpu, regFrame, fromUserspace)
		if res.Switched {
			log.Printf("kernel: cpu%d switched %d -> %d", cpu, res.OldThreadID, res.NewThreadID)
		}
	}
}
