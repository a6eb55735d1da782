package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseline(t *testing.T) {
	cfg, err := Baseline()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Product)
	assert.NotEmpty(t, cfg.Rules.Allowed)
	assert.NotEmpty(t, cfg.Rules.Blocked)
	assert.Equal(t, DefaultMaxFilesPerChange, cfg.Rules.MaxFilesPerChange)
	assert.Equal(t, DefaultSandboxTimeoutMS, cfg.Sandbox.TimeoutMS)
	assert.Equal(t, "main", cfg.Project.DefaultBranch)
	assert.Equal(t, "viber/", cfg.Git.BranchPrefix)
	assert.False(t, cfg.Git.AutoMerge)
	assert.NotEmpty(t, cfg.Skills)

	for _, s := range cfg.Skills {
		assert.NotEmpty(t, s.ID)
		assert.NotEmpty(t, s.Instructions, "skill %s", s.ID)
	}
}

func TestSkillByID(t *testing.T) {
	cfg, err := Baseline()
	require.NoError(t, err)

	skill, ok := cfg.SkillByID("ui-tweak")
	require.True(t, ok)
	assert.Equal(t, "ui-tweak", skill.ID)

	_, ok = cfg.SkillByID("nope")
	assert.False(t, ok)
}

func TestEffectiveAllowed(t *testing.T) {
	cfg := &Config{
		Rules: Rules{Allowed: []string{"components/**", "app/**"}},
	}
	skill := &Skill{AllowedPaths: []string{"lib/hooks/**", "app/**"}}

	// Skill paths come first, duplicates removed, order preserved.
	got := cfg.EffectiveAllowed(skill)
	assert.Equal(t, []string{"lib/hooks/**", "app/**", "components/**"}, got)

	assert.Equal(t, []string{"components/**", "app/**"}, cfg.EffectiveAllowed(nil))
}

func TestEffectiveMaxFiles(t *testing.T) {
	cfg := &Config{Rules: Rules{MaxFilesPerChange: 10}}

	assert.Equal(t, 10, cfg.EffectiveMaxFiles(nil))
	assert.Equal(t, 10, cfg.EffectiveMaxFiles(&Skill{}))
	assert.Equal(t, 3, cfg.EffectiveMaxFiles(&Skill{MaxFiles: 3}))
}

func TestEffectiveAllowNewFiles(t *testing.T) {
	cfg := &Config{Rules: Rules{AllowNewFiles: false}}
	yes := true

	assert.False(t, cfg.EffectiveAllowNewFiles(nil))
	assert.False(t, cfg.EffectiveAllowNewFiles(&Skill{}))
	assert.True(t, cfg.EffectiveAllowNewFiles(&Skill{AllowNewFiles: &yes}))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Rules: Rules{Allowed: []string{"app/**"}},
			Skills: []Skill{
				{ID: "a", Instructions: "do a"},
				{ID: "b", Instructions: "do b"},
			},
			Project: ProjectIdentity{Repo: "owner/repo"},
		}
	}

	assert.NoError(t, valid().Validate())

	c := valid()
	c.Rules.Allowed = nil
	assert.ErrorContains(t, c.Validate(), "rules.allowed")

	c = valid()
	c.Project.Repo = "not-a-repo"
	assert.ErrorContains(t, c.Validate(), "owner/name")

	c = valid()
	c.Skills[1].ID = "a"
	assert.ErrorContains(t, c.Validate(), "duplicate skill id")

	c = valid()
	c.Skills[0].Instructions = "  "
	assert.ErrorContains(t, c.Validate(), "no instructions")
}
