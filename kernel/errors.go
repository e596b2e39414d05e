// Package kernel holds the error taxonomy shared by the threads, userprog,
// and vm packages, per the error-handling design in spec.md §7.
package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the "return a sentinel to the caller" error kind
// (spec.md §7): out-of-memory in creation paths, and syscall domain errors
// that must not terminate the caller.
var (
	// ErrOutOfMemory names the out-of-memory condition of creation paths
	// (thread create, fork). No function in this module returns it:
	// Scheduler.Create does not fail, and Process.Fork reports failure as -1.
	ErrOutOfMemory = errors.New("kernel: out of memory")

	// ErrBadFileDescriptor is returned by syscalls operating on an unknown
	// or out-of-range file descriptor.
	ErrBadFileDescriptor = errors.New("kernel: bad file descriptor")

	// ErrFileDescriptorTableFull is returned when a process has reached its
	// FD table limit (spec.md §8 boundary: the 129th open must fail).
	ErrFileDescriptorTableFull = errors.New("kernel: file descriptor table full")

	// ErrNotDirectChild names the wait() case where the pid is not a
	// direct, not-yet-reaped child of the caller. Process.Wait reports that
	// case as -1 and does not return this value.
	ErrNotDirectChild = errors.New("kernel: not a direct child, or already waited")

	// ErrSwapExhausted is named here for documentation purposes: per
	// spec.md §7 this condition panics rather than being returned, via
	// Panic. It is not used as a normal error value.
	ErrSwapExhausted = errors.New("kernel: swap exhausted")
)

// BadPointerError is raised when a user pointer argument fails validation
// (spec.md §4.4 "Address validation for syscalls", §7 "Bad user pointer").
// Unlike the sentinel errors above, this always terminates the offending
// process with exit_status -1; it's a distinct type so callers can use
// [errors.As] to recognize it regardless of the message.
type BadPointerError struct {
	Addr uintptr
	Op   string
}

func (e *BadPointerError) Error() string {
	return fmt.Sprintf("kernel: invalid user pointer %#x during %s", e.Addr, e.Op)
}

// AssertionError models a Pintos-style invariant violation: something that
// must never happen at runtime. It is always fatal — see [Panic].
type AssertionError struct {
	Msg   string
	Cause error
}

func (e *AssertionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("kernel: assertion failed: %s: %v", e.Msg, e.Cause)
	}
	return fmt.Sprintf("kernel: assertion failed: %s", e.Msg)
}

func (e *AssertionError) Unwrap() error { return e.Cause }

// Panic reports an invariant violation the way Pintos's PANIC() does:
// unrecoverable, halts the (simulated) kernel. Unlike a syscall domain
// error or a bad-pointer termination, this is never caught by calling
// code — it unwinds the whole process under test.
func Panic(msg string, cause error) {
	panic(&AssertionError{Msg: msg, Cause: cause})
}

// Panicf is a convenience wrapper around [Panic] for formatted messages.
func Panicf(cause error, format string, args ...any) {
	Panic(fmt.Sprintf(format, args...), cause)
}
