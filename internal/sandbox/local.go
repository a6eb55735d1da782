package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LocalProvider runs commands in a throwaway directory on the host. It
// exists for development and tests; production deployments plug in a
// remote provider behind the same interface.
type LocalProvider struct {
	// BaseDir is where environment roots are created. Empty means the
	// system temp dir.
	BaseDir string
}

// Create provisions a local environment rooted in a fresh directory.
// templateID and timeout are accepted for contract compatibility; a
// local directory has no template and no lifetime cap.
func (p *LocalProvider) Create(ctx context.Context, templateID string, timeout time.Duration) (Environment, error) {
	base := p.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	root, err := os.MkdirTemp(base, "viber-sbx-")
	if err != nil {
		return nil, fmt.Errorf("create environment root: %w", err)
	}
	return &localEnv{root: root}, nil
}

type localEnv struct {
	root string
}

func (e *localEnv) ID() string { return filepath.Base(e.root) }

func (e *localEnv) Run(ctx context.Context, command string, opts RunOpts) (Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = filepath.Join(e.root, opts.Dir)
	cmd.Env = append(os.Environ(), opts.Env...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	switch {
	case err == nil:
		res.ExitCode = 0
	case res.TimedOut:
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return res, fmt.Errorf("run command: %w", err)
		}
	}
	return res, nil
}

func (e *localEnv) WriteFile(ctx context.Context, path string, content []byte) error {
	full := filepath.Join(e.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	return os.WriteFile(full, content, 0644)
}

// ExtendDeadline is a no-op: local directories have no lifetime cap.
func (e *localEnv) ExtendDeadline(ctx context.Context, d time.Duration) error {
	return nil
}

func (e *localEnv) Kill(ctx context.Context) error {
	return os.RemoveAll(e.root)
}
