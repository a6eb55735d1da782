package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalEnv(t *testing.T) Environment {
	t.Helper()
	p := &LocalProvider{BaseDir: t.TempDir()}
	env, err := p.Create(context.Background(), "any-template", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Kill(context.Background()) })
	return env
}

func TestLocalEnv_Run(t *testing.T) {
	env := newLocalEnv(t)

	res, err := env.Run(context.Background(), "echo hello", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.False(t, res.TimedOut)
}

func TestLocalEnv_Run_NonZeroExit(t *testing.T) {
	env := newLocalEnv(t)

	res, err := env.Run(context.Background(), "echo oops >&2; exit 3", RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.False(t, res.TimedOut)
}

func TestLocalEnv_Run_Timeout(t *testing.T) {
	env := newLocalEnv(t)

	res, err := env.Run(context.Background(), "sleep 5", RunOpts{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
}

func TestLocalEnv_WriteFileAndDir(t *testing.T) {
	env := newLocalEnv(t)
	ctx := context.Background()

	require.NoError(t, env.WriteFile(ctx, "repo/AGENT_RULES.md", []byte("rules")))

	res, err := env.Run(ctx, "cat AGENT_RULES.md", RunOpts{Dir: "repo"})
	require.NoError(t, err)
	assert.Equal(t, "rules", res.Stdout)
}

func TestLocalEnv_Kill(t *testing.T) {
	p := &LocalProvider{BaseDir: t.TempDir()}
	env, err := p.Create(context.Background(), "any-template", time.Minute)
	require.NoError(t, err)

	root := filepath.Join(p.BaseDir, env.ID())
	_, statErr := os.Stat(root)
	require.NoError(t, statErr)

	require.NoError(t, env.Kill(context.Background()))
	_, statErr = os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}
