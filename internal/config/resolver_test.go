package config

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	raw []byte
	err error
}

func (f *fakeSource) ConfigOverride(ctx context.Context) ([]byte, error) {
	return f.raw, f.err
}

func TestResolve_NoOverride(t *testing.T) {
	r := NewResolver(&fakeSource{}, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	baseline, err := Baseline()
	require.NoError(t, err)
	assert.Equal(t, baseline, cfg)
}

func TestResolve_PartialOverride(t *testing.T) {
	override := []byte("rules:\n  blocked:\n    - \"secrets/**\"\n")
	r := NewResolver(&fakeSource{raw: override}, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	baseline, err := Baseline()
	require.NoError(t, err)

	// Only the named field changes, the rest stays baseline.
	assert.Equal(t, []string{"secrets/**"}, cfg.Rules.Blocked)
	assert.Equal(t, baseline.Rules.Allowed, cfg.Rules.Allowed)
	assert.Equal(t, baseline.Rules.MaxFilesPerChange, cfg.Rules.MaxFilesPerChange)
	assert.Equal(t, baseline.Skills, cfg.Skills)
	assert.Equal(t, baseline.Git, cfg.Git)
}

func TestResolve_ScalarOverrides(t *testing.T) {
	override := []byte(`
rules:
  max_files_per_change: 3
  allow_new_files: true
git:
  auto_merge: true
sandbox:
  timeout_ms: 60000
`)
	r := NewResolver(&fakeSource{raw: override}, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Rules.MaxFilesPerChange)
	assert.True(t, cfg.Rules.AllowNewFiles)
	assert.True(t, cfg.Git.AutoMerge)
	assert.Equal(t, 60000, cfg.Sandbox.TimeoutMS)
}

func TestResolve_SkillsReplaceWholesale(t *testing.T) {
	override := []byte(`
skills:
  - id: only-skill
    name: Only Skill
    instructions: Do the one thing.
`)
	r := NewResolver(&fakeSource{raw: override}, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.Len(t, cfg.Skills, 1)
	assert.Equal(t, "only-skill", cfg.Skills[0].ID)
}

func TestResolve_SourceErrorDegradesToBaseline(t *testing.T) {
	var logged []string
	logf := func(format string, a ...any) {
		logged = append(logged, fmt.Sprintf(format, a...))
	}
	r := NewResolver(&fakeSource{err: fmt.Errorf("db is down")}, logf)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	baseline, err := Baseline()
	require.NoError(t, err)
	assert.Equal(t, baseline, cfg)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "db is down")
}

func TestResolve_UnparseableOverrideDegradesToBaseline(t *testing.T) {
	r := NewResolver(&fakeSource{raw: []byte("rules: [this is: not yaml")}, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)

	baseline, err := Baseline()
	require.NoError(t, err)
	assert.Equal(t, baseline, cfg)
}

func TestResolve_InvalidMergedConfigFails(t *testing.T) {
	override := []byte("project:\n  repo: not-a-repo\n")
	r := NewResolver(&fakeSource{raw: override}, nil)

	_, err := r.Resolve(context.Background())
	assert.ErrorContains(t, err, "effective config invalid")
}

func TestResolve_NilSource(t *testing.T) {
	r := NewResolver(nil, nil)

	cfg, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
