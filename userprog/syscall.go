package userprog

import (
	"errors"

	"github.com/go-pintos/kernelcore/kernel"
	"github.com/go-pintos/kernelcore/kernellog"
	"github.com/go-pintos/kernelcore/threads"
)

// Syscall numbers, per spec.md §6's dispatch table.
const (
	SysHalt = iota
	SysExit
	SysFork
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
)

// Terminated is returned by Dispatch when the calling process has already
// been terminated with exit_status −1: on a failed pointer validation
// (spec.md §7's "Bad user pointer" error kind), a read from fd 1, a write
// to fd 0, an empty exec command line, or an unknown syscall number. The
// caller should not attempt to return a value to user space.
var Terminated = errors.New("userprog: process terminated on bad pointer")

// Args is one syscall's argument registers, following the AMD64 syscall
// convention of spec.md §4.5: rdi, rsi, rdx, r10, r8, r9.
type Args [6]uint64

// Dispatch implements spec.md §4.5's syscall dispatcher: for syscalls
// that take a user pointer or buffer argument, the pointer is validated
// against self's address space before the handler runs; a validation
// failure terminates self with exit_status −1 and returns (0, Terminated).
// Otherwise returns the value to place in rax.
func (p *Process) Dispatch(self *threads.Thread, number uint64, a Args) (uint64, error) {
	switch number {
	case SysHalt:
		kernellog.Process.Info().Log("halt")
		return 0, nil

	case SysExit:
		status := int(int64(a[0]))
		p.Exit(status)
		return 0, nil

	case SysFork:
		name, ok := p.readUserString(uintptr(a[0]))
		if !ok {
			p.Exit(-1)
			return 0, Terminated
		}
		pid := p.Fork(self, name, nil)
		return uint64(int64(pid)), nil

	case SysExec:
		cmdLine, ok := p.readUserString(uintptr(a[0]))
		if !ok {
			p.Exit(-1)
			return 0, Terminated
		}
		fields := splitFields(cmdLine)
		if len(fields) == 0 {
			p.Exit(-1)
			return 0, Terminated
		}
		if err := p.Exec(fields[0], fields); err != nil {
			return uint64(int64(-1)), nil
		}
		return 0, nil

	case SysWait:
		return uint64(int64(p.Wait(self, a[0]))), nil

	case SysCreate:
		name, ok := p.readUserString(uintptr(a[0]))
		if !ok {
			p.Exit(-1)
			return 0, Terminated
		}
		ok = p.k.FS.Create(name, int64(a[1]))
		return boolToWord(ok), nil

	case SysRemove:
		name, ok := p.readUserString(uintptr(a[0]))
		if !ok {
			p.Exit(-1)
			return 0, Terminated
		}
		return boolToWord(p.k.FS.Remove(name)), nil

	case SysOpen:
		name, ok := p.readUserString(uintptr(a[0]))
		if !ok {
			p.Exit(-1)
			return 0, Terminated
		}
		f, err := p.k.FS.Open(name)
		if err != nil {
			return uint64(int64(-1)), nil
		}
		fd, err := p.FDs.Install(f)
		if err != nil {
			f.Close()
			return uint64(int64(-1)), nil
		}
		return uint64(int64(fd)), nil

	case SysFilesize:
		f, ok := p.FDs.Get(int(a[0]))
		if !ok {
			return uint64(int64(-1)), nil
		}
		return uint64(f.Length()), nil

	case SysRead:
		return p.sysRead(int(a[0]), uintptr(a[1]), int(a[2]))

	case SysWrite:
		return p.sysWrite(int(a[0]), uintptr(a[1]), int(a[2]))

	case SysSeek:
		if f, ok := p.FDs.Get(int(a[0])); ok {
			f.Seek(int64(a[1]))
		}
		return 0, nil

	case SysTell:
		f, ok := p.FDs.Get(int(a[0]))
		if !ok {
			return uint64(int64(-1)), nil
		}
		return uint64(f.Tell()), nil

	case SysClose:
		if err := p.FDs.Close(int(a[0])); err != nil {
			if !errors.Is(err, kernel.ErrBadFileDescriptor) {
				p.Exit(-1)
				return 0, Terminated
			}
		}
		return 0, nil

	default:
		p.Exit(-1)
		return 0, Terminated
	}
}

const (
	fdStdin  = 0
	fdStdout = 1
)

func (p *Process) sysRead(fd int, addr uintptr, size int) (uint64, error) {
	if err := p.AS.ValidateRange(addr, size); err != nil {
		p.Exit(-1)
		return 0, Terminated
	}
	if fd == fdStdout {
		p.Exit(-1)
		return 0, Terminated
	}
	buf := make([]byte, size)
	var n int
	var err error
	if fd == fdStdin {
		n, err = p.k.Console.Read(buf)
	} else {
		f, ok := p.FDs.Get(fd)
		if !ok {
			return uint64(int64(-1)), nil
		}
		n, err = f.Read(buf)
	}
	if err != nil && n == 0 {
		return uint64(int64(-1)), nil
	}
	if err := p.AS.WriteUser(addr, buf[:n]); err != nil {
		p.Exit(-1)
		return 0, Terminated
	}
	return uint64(n), nil
}

func (p *Process) sysWrite(fd int, addr uintptr, size int) (uint64, error) {
	if err := p.AS.ValidateRange(addr, size); err != nil {
		p.Exit(-1)
		return 0, Terminated
	}
	if fd == fdStdin {
		p.Exit(-1)
		return 0, Terminated
	}
	buf := make([]byte, size)
	if err := p.AS.ReadUser(addr, buf); err != nil {
		p.Exit(-1)
		return 0, Terminated
	}
	if fd == fdStdout {
		n, _ := p.k.Console.Write(buf)
		return uint64(n), nil
	}
	f, ok := p.FDs.Get(fd)
	if !ok {
		return uint64(int64(-1)), nil
	}
	n, err := f.Write(buf)
	if err != nil && n == 0 {
		return uint64(int64(-1)), nil
	}
	return uint64(n), nil
}

// readUserString reads a NUL-terminated string starting at addr,
// validating each byte's page before reading it (spec.md §4.4: "String
// arguments are validated byte-by-byte until a NUL is found on a valid
// page").
func (p *Process) readUserString(addr uintptr) (string, bool) {
	var out []byte
	for {
		if err := p.AS.ValidateRange(addr, 1); err != nil {
			return "", false
		}
		var b [1]byte
		if err := p.AS.ReadUser(addr, b[:]); err != nil {
			return "", false
		}
		if b[0] == 0 {
			return string(out), true
		}
		out = append(out, b[0])
		addr++
	}
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// splitFields splits an exec command line on whitespace, per spec.md §8
// scenario 4 ("echo x y z" → argv ["echo","x","y","z"]).
func splitFields(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' && s[i] != '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, s[start:i])
			start = -1
		}
	}
	return fields
}
