// Package signal implements the pending-signal bitset, blocked mask, and
// siginfo queue described in spec.md §4.7. Delivery and blocking primitives
// that also touch the scheduler or a process table live in package ksyscall
// and package kernel; this package only models the data each process or
// thread carries.
package signal

// Num identifies a signal. The names follow the teacher's own Signal
// enum (arctir-proctor/plib/linux_defaults.go); the values are the Linux
// signal numbers, with SIGIOT an alias of SIGABRT.
type Num int

const (
	SIGHUP Num = iota + 1
	SIGINT
	SIGQUIT
	SIGILL
	SIGTRAP
	SIGABRT
	SIGBUS
	SIGFPE
	SIGKILL
	SIGUSR1
	SIGSEGV
	SIGUSR2
	SIGPIPE
	SIGALRM
	SIGTERM
	SIGSTKFLT
	SIGCHLD
	SIGCONT
	SIGSTOP
	SIGTSTP
	SIGTTIN
	SIGTTOU
	SIGURG
	SIGXCPU
	SIGXFSZ
	SIGVTALRM
	SIGPROF
	SIGWINCH
	SIGIO
	SIGPWR
	SIGSYS
)

// SIGIOT is the historical alias of SIGABRT.
const SIGIOT = SIGABRT

// maxSignals bounds the bitset; SIGSYS (31) is the highest signal modeled.
const maxSignals = 32

// Set is a bitset of pending or blocked signals.
type Set uint32

// Add marks n as present in the set.
func (s Set) Add(n Num) Set { return s | (1 << uint(n)) }

// Remove clears n from the set.
func (s Set) Remove(n Num) Set { return s &^ (1 << uint(n)) }

// Has reports whether n is present in the set.
func (s Set) Has(n Num) bool { return s&(1<<uint(n)) != 0 }

// IsFatal reports whether delivering n with no handler installed terminates
// the process, per spec.md §4.7 ("Fatal signals").
func (n Num) IsFatal() bool {
	switch n {
	case SIGKILL, SIGSEGV, SIGABRT, SIGBUS, SIGILL, SIGFPE, SIGTERM, SIGQUIT:
		return true
	default:
		return false
	}
}

// Info is a queued siginfo record: which signal, and who sent it.
type Info struct {
	Signal Num
	Sender uint64 // sending process's PID, 0 if kernel-generated
}

// HandlerDisposition is what a process has arranged for a given signal.
type HandlerDisposition int

const (
	// Default lets the kernel's built-in behavior apply (usually: terminate
	// if IsFatal(), otherwise ignore).
	Default HandlerDisposition = iota
	// Ignore means the signal is silently dropped on delivery.
	Ignore
	// Handled means a user-space handler address has been installed.
	Handled
)

// Handler describes how a process wants a given signal handled.
type Handler struct {
	Disposition HandlerDisposition
	HandlerAddr uint64
}

// State is the signal-related fields carried by a process: which signals are
// pending, which are blocked, the ordered queue of siginfo records still to
// be delivered, and the per-signal handler table.
type State struct {
	Pending  Set
	Blocked  Set
	Queue    []Info
	Handlers [maxSignals]Handler
}

// NewState returns a signal state with every handler at its default
// disposition and nothing pending or blocked.
func NewState() *State {
	return &State{}
}

// Raise records that n has been sent by sender, queuing a siginfo record and
// marking n pending. It does not decide deliverability against the blocked
// mask; that happens at user-return time (spec.md §4.7).
func (s *State) Raise(n Num, sender uint64) {
	s.Pending = s.Pending.Add(n)
	s.Queue = append(s.Queue, Info{Signal: n, Sender: sender})
}

// NextDeliverable returns the first pending, unblocked signal and reports
// whether one was found. It does not mutate state; callers that actually
// deliver the signal must call Consume.
func (s *State) NextDeliverable() (Info, bool) {
	for _, info := range s.Queue {
		if s.Pending.Has(info.Signal) && !s.Blocked.Has(info.Signal) {
			return info, true
		}
	}
	return Info{}, false
}

// Consume removes the first queued record for n and clears it from Pending
// if no further queued record refers to it.
func (s *State) Consume(n Num) {
	for i, info := range s.Queue {
		if info.Signal == n {
			s.Queue = append(s.Queue[:i], s.Queue[i+1:]...)
			break
		}
	}
	for _, info := range s.Queue {
		if info.Signal == n {
			return
		}
	}
	s.Pending = s.Pending.Remove(n)
}

// SetHandler installs a disposition for signal n.
func (s *State) SetHandler(n Num, h Handler) {
	s.Handlers[n] = h
}

// HandlerFor returns the disposition installed for signal n.
func (s *State) HandlerFor(n Num) Handler {
	return s.Handlers[n]
}
