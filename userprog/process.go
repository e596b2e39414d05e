// Package userprog implements the user-process layer of spec.md §4.3 and
// §4.5: fork/exec/wait/exit process lifecycle, ELF64 loading, per-process
// file descriptors, and syscall dispatch — built on top of the threads
// scheduler and the vm address-space layer.
package userprog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kernellog"
	"github.com/go-pintos/kernelcore/threads"
	"github.com/go-pintos/kernelcore/vm"
)

// Kernel bundles the shared, singleton collaborators every Process is
// built against (spec.md §9's "singleton kernel context initialized at
// boot", generalized from a single global to an explicit value so tests
// can run several independent kernels in one process).
type Kernel struct {
	Sched   *threads.Scheduler
	Frames  *vm.FrameTable
	Swap    *vm.SwapSpace
	FS      *devices.FileSystem
	Console devices.Console
	Table   *Table
}

// NewKernel wires a fresh Kernel from its collaborators.
func NewKernel(sched *threads.Scheduler, frames *vm.FrameTable, swap *vm.SwapSpace, fs *devices.FileSystem, console devices.Console) *Kernel {
	return &Kernel{Sched: sched, Frames: frames, Swap: swap, FS: fs, Console: console, Table: NewTable()}
}

// Process is the process-mode state spec.md §3 describes as "attached to
// thread when used as a process". It is carried via threads.Thread's
// UserData field rather than folded into Thread itself, so threads stays
// independent of the process layer built on top of it (see DESIGN.md).
type Process struct {
	Thread *threads.Thread
	PID    uint64
	Name   string
	Argv   []string

	AS  *vm.AddressSpace
	FDs *FDTable

	ExecFile devices.File

	// entry/rsp/argvAddr/argc are the values the most recent successful
	// exec's stack setup computed (see Entry/Rsp/ArgvAddr/Argc).
	entry    uintptr
	rsp      uintptr
	argvAddr uintptr
	argc     int

	mu         sync.Mutex
	exitStatus int
	loadOK     bool
	Parent     *Process
	Children   map[uint64]*Process

	// LoadDone, WaitDone, and ExitAck are the three binary handshake
	// semaphores of spec.md §3.
	LoadDone *threads.Semaphore
	WaitDone *threads.Semaphore
	ExitAck  *threads.Semaphore

	k *Kernel
}

// ExitStatus returns the process's exit status. Only meaningful once the
// process has exited (after its WaitDone semaphore has been raised).
func (p *Process) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitStatus
}

// Boot creates the kernel's very first process, outside of any fork, and
// execs the named program into it immediately — the CLI contract of
// spec.md §6 ("kernel command line's first token selects the initial
// user program, remaining tokens are its argv"). body runs after a
// successful load, as the stand-in for "returns to user mode"; if body
// returns, Boot exits the process with status 0.
func (k *Kernel) Boot(program string, argv []string, body func(p *Process)) (*Process, error) {
	p := &Process{
		Name:     program,
		Argv:     argv,
		Children: make(map[uint64]*Process),
		FDs:      NewFDTable(),
		LoadDone: threads.NewSemaphore(k.Sched, 0),
		WaitDone: threads.NewSemaphore(k.Sched, 0),
		ExitAck:  threads.NewSemaphore(k.Sched, 0),
		k:        k,
	}
	p.AS = vm.NewAddressSpace(k.Frames, k.Swap)

	// Boot runs on a plain bootstrap goroutine, not a scheduled thread, so
	// it signals completion with a raw channel rather than a scheduler
	// primitive (see the threads package's discipline: only a
	// scheduler-managed thread body must route waits through
	// Yield/Block/a semaphore; an outside caller blocking on a channel is
	// always safe, since nothing about the scheduler depends on it).
	done := make(chan error, 1)

	k.Sched.Create(nil, program, threads.PriDefault, func(self *threads.Thread, arg any) {
		p.Thread = self
		p.PID = self.ID
		self.UserData = p
		k.Table.register(p)

		if err := p.execInto(program, argv); err != nil {
			done <- err
			p.k.Table.remove(p.PID)
			p.k.Sched.Exit(self)
			return
		}
		done <- nil
		if body != nil {
			body(p)
		}
		p.Exit(0)
	}, nil)

	if err := <-done; err != nil {
		return nil, err
	}
	return p, nil
}

// Fork implements the fork syscall (spec.md §4.3): p's thread is the
// parent. childBody is the function the new thread runs once its address
// space has finished duplicating — this kernel's stand-in for "the point
// fork() returns 0 in the child", since there is no real x86 instruction
// stream to resume. Returns the child's pid, or −1 on failure.
func (p *Process) Fork(self *threads.Thread, childName string, childBody func(child *Process)) int {
	child := &Process{
		Name:     childName,
		Argv:     append([]string(nil), p.Argv...),
		Children: make(map[uint64]*Process),
		FDs:      NewFDTable(),
		LoadDone: threads.NewSemaphore(p.k.Sched, 0),
		WaitDone: threads.NewSemaphore(p.k.Sched, 0),
		ExitAck:  threads.NewSemaphore(p.k.Sched, 0),
		k:        p.k,
	}
	child.AS = vm.NewAddressSpace(p.k.Frames, p.k.Swap)

	childThread := p.k.Sched.Create(self, childName, self.BasePriority(), func(childSelf *threads.Thread, arg any) {
		child.Thread = childSelf
		child.PID = childSelf.ID
		childSelf.UserData = child
		p.k.Table.register(child)

		if err := p.AS.ForkInto(child.AS); err != nil {
			child.loadOK = false
			child.LoadDone.Up()
			child.Exit(-1)
			return
		}
		child.FDs = p.FDs.Duplicate()
		if p.ExecFile != nil {
			child.ExecFile = p.ExecFile.Reopen()
		}

		child.mu.Lock()
		child.loadOK = true
		child.mu.Unlock()
		child.LoadDone.Up()

		if childBody != nil {
			childBody(child)
		}
		child.Exit(0)
	}, nil)

	p.mu.Lock()
	p.Children[childThread.ID] = child
	p.mu.Unlock()
	child.Parent = p

	child.LoadDone.Down(self)

	child.mu.Lock()
	ok := child.loadOK
	child.mu.Unlock()
	if !ok {
		return -1
	}
	return int(childThread.ID)
}

// execInto loads program into p's (already-fresh) address space and sets
// up its initial user stack. Used both by Boot and by Exec.
func (p *Process) execInto(program string, argv []string) error {
	f, err := p.k.FS.Open(program)
	if err != nil {
		return fmt.Errorf("userprog: exec %q: %w", program, err)
	}

	entry, err := loadSegments(p.AS, f)
	if err != nil {
		f.Close()
		return err
	}

	rsp, argvAddr, err := setupUserStack(p.AS, argv)
	if err != nil {
		f.Close()
		return err
	}

	f.DenyWrite()
	p.ExecFile = f
	p.Name = program
	p.Argv = argv
	p.entry = entry
	p.rsp = rsp
	p.argvAddr = argvAddr
	p.argc = len(argv)
	kernellog.Process.Info().Str("name", program).Log("exec loaded")
	return nil
}

// Exec implements the exec syscall (spec.md §4.3): tears down self's
// current address space and replaces it with a freshly loaded program.
// Failure terminates the caller with exit status −1.
func (p *Process) Exec(cmdLine string, argv []string) error {
	oldAS := p.AS
	oldExecFile := p.ExecFile

	p.AS = vm.NewAddressSpace(p.k.Frames, p.k.Swap)
	if err := p.execInto(cmdLine, argv); err != nil {
		p.AS = oldAS
		p.Exit(-1)
		return err
	}

	oldAS.Destroy()
	if oldExecFile != nil {
		oldExecFile.AllowWrite()
		oldExecFile.Close()
	}
	return nil
}

// Entry, Rsp, ArgvAddr, and Argc return the values exec's stack setup
// computed, for a hosting binary to seed its (simulated) initial user
// register frame with (spec.md §4.3: "returns to user mode with
// rdi=argc, rsi=argv").
func (p *Process) Entry() uintptr    { return p.entry }
func (p *Process) Rsp() uintptr      { return p.rsp }
func (p *Process) ArgvAddr() uintptr { return p.argvAddr }
func (p *Process) Argc() int         { return p.argc }

// Wait implements the wait syscall (spec.md §4.3): returns −1 if pid
// isn't a direct, not-yet-reaped child of p; otherwise blocks until the
// child has finished exiting, reaps it, and returns its exit status.
func (p *Process) Wait(self *threads.Thread, pid uint64) int {
	p.mu.Lock()
	child, ok := p.Children[pid]
	p.mu.Unlock()
	if !ok {
		return -1
	}

	child.WaitDone.Down(self)

	status := child.ExitStatus()

	p.mu.Lock()
	delete(p.Children, pid)
	p.mu.Unlock()

	child.ExitAck.Up()
	return status
}

// Exit implements the exit syscall (spec.md §4.3, §7): prints the
// standard exit line, tears down resources in strict reverse-acquisition
// order, hands off orphaned children, raises wait_done for the parent,
// and only unlinks from the process table after the parent has
// acknowledged reading exit_status — so the parent can still observe it
// right up until that handshake completes.
func (p *Process) Exit(status int) {
	p.mu.Lock()
	p.exitStatus = status
	p.mu.Unlock()

	if p.k.Console != nil {
		fmt.Fprintf(p.k.Console, "%s: exit(%d)\n", p.Name, status)
	}

	p.FDs.CloseAll()

	p.mu.Lock()
	children := p.Children
	p.Children = nil
	p.mu.Unlock()
	for _, c := range children {
		c.Parent = nil
		c.ExitAck.Up()
	}

	if p.AS != nil {
		p.AS.Destroy()
	}
	if p.ExecFile != nil {
		p.ExecFile.AllowWrite()
		p.ExecFile.Close()
	}

	p.WaitDone.Up()
	p.ExitAck.Down(p.Thread)

	p.k.Table.remove(p.PID)
	kernellog.Process.Info().Str("name", p.Name).Log("process exited")
}

// setupUserStack lays out argv on a freshly allocated top-of-stack page
// and returns the initial rsp, the address of the argv[] pointer array,
// per spec.md §4.3/§8 scenario 4: a 16-byte-aligned rsp whose topmost
// qword is a fake return address of 0, below a NULL-terminated argv[]
// pointer array, below the argument strings themselves.
//
// Rather than simulating each individual push (there is no real CPU
// executing PUSH instructions here), the final byte layout is computed
// directly and written once — the two are equivalent in result.
func setupUserStack(as *vm.AddressSpace, argv []string) (rsp uintptr, argvAddr uintptr, err error) {
	stackPageVA := vm.PageAlign(vm.UserStackTop - 1)
	if err := as.AllocAnonPage(stackPageVA, true); err != nil {
		return 0, 0, err
	}

	sp := uintptr(vm.UserStackTop)
	addrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		s := argv[i]
		n := uintptr(len(s) + 1)
		sp -= n
		buf := make([]byte, n)
		copy(buf, s)
		if err := as.WriteUser(sp, buf); err != nil {
			return 0, 0, err
		}
		addrs[i] = sp
	}

	// Reserve a contiguous block for [fake-return-addr][argv pointers][NULL]
	// ending just below the lowest string address, then round its start
	// down to 16 bytes so the final rsp is 16-aligned.
	blockBytes := uintptr(8 * (len(argv) + 2))
	finalRsp := (sp - blockBytes) &^ 15

	if err := putWord(as, finalRsp, 0); err != nil { // fake return address
		return 0, 0, err
	}
	argvBase := finalRsp + 8
	for i, addr := range addrs {
		if err := putWord(as, argvBase+uintptr(8*i), uint64(addr)); err != nil {
			return 0, 0, err
		}
	}
	if err := putWord(as, argvBase+uintptr(8*len(argv)), 0); err != nil { // NULL sentinel
		return 0, 0, err
	}

	return finalRsp, argvBase, nil
}

func putWord(as *vm.AddressSpace, addr uintptr, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	return as.WriteUser(addr, buf[:])
}
