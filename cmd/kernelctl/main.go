// Command kernelctl boots the kernel core against a single ELF binary
// read off the host filesystem, the hosted-simulation stand-in for
// spec.md §6's CLI contract: "the kernel command line's first token
// selects the initial user program, remaining tokens are its argv".
//
// Usage:
//
//	kernelctl [-mlfqs] PROGRAM [ARGS...]
//
// PROGRAM is a path to an ELF64 executable on the host filesystem; it is
// copied into the kernel's in-memory file system under its base name
// before being exec'd, mirroring how a real Pintos build loads a program
// off its disk image.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pintos/kernelcore/devices"
	"github.com/go-pintos/kernelcore/kconfig"
	"github.com/go-pintos/kernelcore/kernellog"
	"github.com/go-pintos/kernelcore/threads"
	"github.com/go-pintos/kernelcore/userprog"
	"github.com/go-pintos/kernelcore/vm"
)

const (
	frameCount  = 64  // physical frames the demo kernel is given
	swapSectors = 512 // backing sectors for the demo swap disk
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("kernelctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	mlfqs := fs.Bool("mlfqs", false, "run the MLFQ scheduler instead of priority donation")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: kernelctl [-mlfqs] PROGRAM [ARGS...]")
		return 2
	}

	line := rest[0]
	for _, a := range rest[1:] {
		line += " " + a
	}
	cfg := kconfig.Resolve(
		kconfig.WithMLFQS(*mlfqs),
		kconfig.WithCommandLine(line),
	)

	k, err := boot(cfg, stdout)
	if err != nil {
		fmt.Fprintln(stderr, "kernelctl:", err)
		return 1
	}

	exitCh := make(chan struct{}, 1)
	_, err = k.Boot(filepath.Base(cfg.Program), cfg.Argv, func(p *userprog.Process) {
		kernellog.Process.Info().
			Str("name", p.Name).
			Uint64("pid", p.PID).
			Log("user program running")
		runDemoUserCode(p, exitCh)
	})
	if err != nil {
		fmt.Fprintln(stderr, "kernelctl: load failed:", err)
		return 1
	}
	<-exitCh
	return 0
}

// runDemoUserCode is kernelctl's stand-in for "the loaded program
// resumes in user mode": with no real CPU to execute the binary's own
// instruction stream, it drives a couple of syscalls through p.Dispatch
// directly (spec.md §4.5's dispatcher, the same boundary a real
// int 0x30 handler would use), rather than calling Process methods on
// p, so the demo binary actually exercises argument marshalling and
// pointer validation instead of bypassing them.
func runDemoUserCode(p *userprog.Process, done chan<- struct{}) {
	self := p.Thread

	msg := []byte(p.Name + "\n")
	scratch := vm.PageAlign(p.Rsp())
	if len(msg) <= vm.PageSize {
		if err := p.AS.WriteUser(scratch, msg); err == nil {
			p.Dispatch(self, uint64(userprog.SysWrite), userprog.Args{1, uint64(scratch), uint64(len(msg))})
		}
	}

	done <- struct{}{}

	// SysExit's handler tears the process down via Exit, which blocks
	// waiting for a parent's wait() to acknowledge it — Boot's process
	// has none, so this call never returns. That's fine: kernelctl exits
	// right after signaling done, and the goroutine dies with it.
	p.Dispatch(self, uint64(userprog.SysExit), userprog.Args{0})
}

// boot wires the kernel's singleton collaborators (scheduler, frame
// table, swap space, file system, console) and copies the requested
// program's bytes into the in-memory file system, per spec.md §9's
// "singleton kernel context initialized at boot".
func boot(cfg kconfig.Config, stdout *os.File) (*userprog.Kernel, error) {
	data, err := os.ReadFile(cfg.Program)
	if err != nil {
		return nil, fmt.Errorf("reading program: %w", err)
	}
	name := filepath.Base(cfg.Program)

	sched := threads.NewScheduler(cfg.MLFQS)
	frames := vm.NewFrameTable(frameCount)
	swap := vm.NewSwapSpace(devices.NewMemDisk(swapSectors))
	filesystem := devices.NewFileSystem()
	console := devices.StdConsole{In: os.Stdin, Out: stdout}

	if !filesystem.Create(name, int64(len(data))) {
		return nil, fmt.Errorf("creating %s in file system", name)
	}
	f, err := filesystem.Open(name)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	go driveTimer(sched)

	return userprog.NewKernel(sched, frames, swap, filesystem, console), nil
}

// driveTimer stands in for spec.md §4.1's periodic timer interrupt, since
// a hosted goroutine scheduler has no real hardware timer to drive
// Scheduler.Tick. Runs for the process's lifetime; kernelctl is a
// single-shot demo binary so there is no shutdown path to wire it to.
func driveTimer(sched *threads.Scheduler) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		sched.Tick()
	}
}
