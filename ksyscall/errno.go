// Package ksyscall implements the syscall ABI dispatch table: fork, exec,
// clone, wait, kill, and the smaller calls needed to drive them, per
// spec.md §4.4-§4.7 and §6. Handlers return a value and an *Errno rather
// than a Go error, mirroring the kernel ABI's single-negative-integer
// convention (spec.md §7) while still being idiomatic to test against with
// errors.Is/errors.As.
package ksyscall

import "fmt"

// Errno is a POSIX-style error number, returned to userspace as a negative
// value (spec.md §7: "errors surface as -errno, never panics").
type Errno int

const (
	EINTR   Errno = 4
	ESRCH   Errno = 3
	EBADF   Errno = 9
	EAGAIN  Errno = 11
	ENOMEM  Errno = 12
	EACCES  Errno = 13
	EFAULT  Errno = 14
	EEXIST  Errno = 17
	ENOTDIR Errno = 20
	EINVAL  Errno = 22
	ECHILD  Errno = 10
	ENOSYS  Errno = 38
)

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return fmt.Sprintf("errno %d", int(e))
}

// Negative returns the ABI encoding of this errno: -errno.
func (e Errno) Negative() int64 { return -int64(e) }

var errnoNames = map[Errno]string{
	EINTR:   "EINTR: interrupted system call",
	ESRCH:   "ESRCH: no such process",
	EBADF:   "EBADF: bad file descriptor",
	EAGAIN:  "EAGAIN: resource temporarily unavailable",
	ENOMEM:  "ENOMEM: out of memory",
	EACCES:  "EACCES: permission denied",
	EFAULT:  "EFAULT: bad address",
	EEXIST:  "EEXIST: already exists",
	ENOTDIR: "ENOTDIR: not a directory",
	EINVAL:  "EINVAL: invalid argument",
	ECHILD:  "ECHILD: no child processes",
	ENOSYS:  "ENOSYS: function not implemented",
}
