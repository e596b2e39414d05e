// Package kernellog centralizes structured logging construction for the
// kernel core, the way eventloop/logging.go centralizes a package-level
// logger for that module — except wired through a real ecosystem logging
// facade (logiface, with the stumpy JSON encoder as the default backend)
// rather than a hand-rolled Logger interface.
//
// Design decision: a package-level logger is appropriate here for the same
// reasons eventloop's logging.go gives: logging is an infrastructure
// cross-cutting concern, and every subsystem (threads, userprog, vm) wants
// the same component-tagged structured output without threading a logger
// through every constructor.
package kernellog

import (
	"io"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

var (
	mu   sync.RWMutex
	base = stumpy.L.New(stumpy.L.WithStumpy())

	// Scheduler, Process, and VM are component-tagged child loggers for the
	// threads, userprog, and vm subsystems. Only Process has call sites
	// (userprog and cmd/kernelctl); the threads and vm packages do not log.
	Scheduler = withComponent("scheduler")
	Process   = withComponent("process")
	VM        = withComponent("vm")
)

// SetOutput redirects all kernel logging to w, replacing the default
// os.Stderr writer. Intended for tests that want to assert on log output,
// or for a hosting binary that wants to route logs elsewhere.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(w)))
	Scheduler = withComponent("scheduler")
	Process = withComponent("process")
	VM = withComponent("vm")
}

// Disable silences all kernel logging, for tests that don't want log noise
// on stdout/stderr.
func Disable() {
	SetOutput(io.Discard)
}

// withComponent derives a component-tagged logger from base. Callers are
// package initialization and SetOutput, which already holds mu.
func withComponent(name string) *logiface.Logger[*stumpy.Event] {
	return base.Clone().Str("component", name).Logger()
}
