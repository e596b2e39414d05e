// Package kconfig models the kernel's boot-time configuration surface:
// the scheduler mode switch and the initial user program/argv, per
// spec.md §6 "CLI".
package kconfig

import "strings"

// config holds the resolved boot configuration.
type config struct {
	mlfqs   bool
	program string
	argv    []string
}

// Option configures a Config during [Resolve], the generalization of
// eventloop/options.go's LoopOption pattern to boot-time kernel options.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithMLFQS toggles the MLFQ scheduler alternative (spec.md's "-o mlfqs").
// When unset, the kernel runs the priority-donation scheduler.
func WithMLFQS(enabled bool) Option {
	return optionFunc(func(c *config) { c.mlfqs = enabled })
}

// WithCommandLine sets the initial program and its argv from a single
// command-line string, e.g. "echo x y z" becomes program "echo" and argv
// ["echo", "x", "y", "z"] (argv[0] is conventionally the program name,
// per spec.md §8 scenario 4).
func WithCommandLine(line string) Option {
	return optionFunc(func(c *config) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return
		}
		c.program = fields[0]
		c.argv = fields
	})
}

// Config is the resolved, read-only boot configuration.
type Config struct {
	// MLFQS is true when the MLFQ scheduler alternative should be used
	// instead of priority donation.
	MLFQS bool
	// Program is the initial user program's name (argv[0]).
	Program string
	// Argv is the initial user program's full argument vector, including
	// argv[0].
	Argv []string
}

// Resolve applies opts in order and returns the resolved Config, mirroring
// eventloop/options.go's resolveLoopOptions.
func Resolve(opts ...Option) Config {
	var c config
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(&c)
	}
	argv := make([]string, len(c.argv))
	copy(argv, c.argv)
	return Config{
		MLFQS:   c.mlfqs,
		Program: c.program,
		Argv:    argv,
	}
}
