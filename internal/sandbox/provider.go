// Package sandbox provisions ephemeral execution environments and runs
// the code-change pipeline inside them.
package sandbox

import (
	"context"
	"time"
)

// Result contains the outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int

	// TimedOut is set by the execution layer when the command was cut
	// off by its timeout, so callers never have to sniff error text.
	TimedOut bool
}

// RunOpts contains options for command execution inside an environment.
type RunOpts struct {
	// Dir is the working directory relative to the environment root.
	Dir string

	// Timeout is the maximum duration for the command.
	Timeout time.Duration

	// Env contains extra environment variables (KEY=VALUE format).
	Env []string
}

// Environment is one provisioned, exclusively-owned execution
// environment. It must be killed by its owner exactly once.
type Environment interface {
	ID() string
	Run(ctx context.Context, command string, opts RunOpts) (Result, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	ExtendDeadline(ctx context.Context, d time.Duration) error
	Kill(ctx context.Context) error
}

// Provider creates execution environments from a template. Any provider
// offering this shape is substitutable.
type Provider interface {
	Create(ctx context.Context, templateID string, timeout time.Duration) (Environment, error)
}
