// Package config holds the pipeline policy configuration: path rules,
// skills, git and sandbox policy, and project identity. The effective
// configuration is the deep merge of an embedded baseline with an
// operator-managed override record, resolved once per pipeline run.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxFilesPerChange caps how many files one change may touch
// unless the baseline or a skill says otherwise.
const DefaultMaxFilesPerChange = 10

// DefaultSandboxTimeoutMS is the coding-agent invocation timeout.
const DefaultSandboxTimeoutMS = 180000

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Rules are the global path and change constraints applied to every run.
type Rules struct {
	Allowed                []string `yaml:"allowed"`
	Blocked                []string `yaml:"blocked"`
	Constraints            []string `yaml:"constraints"`
	MaxFilesPerChange      int      `yaml:"max_files_per_change"`
	AllowNewFiles          bool     `yaml:"allow_new_files"`
	AllowDeletions         bool     `yaml:"allow_deletions"`
	AllowDependencyChanges bool     `yaml:"allow_dependency_changes"`
}

// Skill is one selectable change category with its own instruction block
// and optional tighter limits.
type Skill struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	Icon             string   `yaml:"icon"`
	Instructions     string   `yaml:"instructions"`
	AllowedPaths     []string `yaml:"allowed_paths"`
	MaxFiles         int      `yaml:"max_files"`
	AllowNewFiles    *bool    `yaml:"allow_new_files"`
	RequiresApproval bool     `yaml:"requires_approval"`
}

// GitPolicy controls branch naming, commit messages, and PR handling.
type GitPolicy struct {
	BranchPrefix   string   `yaml:"branch_prefix"`
	CommitPrefix   string   `yaml:"commit_prefix"`
	PRBodyTemplate string   `yaml:"pr_body_template"`
	AutoMerge      bool     `yaml:"auto_merge"`
	RequiredChecks []string `yaml:"required_checks"`
}

// SandboxPolicy selects the execution environment template and timeout.
type SandboxPolicy struct {
	TemplateID string `yaml:"template_id"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// ProjectIdentity names the project and target repository.
type ProjectIdentity struct {
	Name          string `yaml:"name"`
	Repo          string `yaml:"repo"` // owner/name
	DefaultBranch string `yaml:"default_branch"`
}

// Config is one resolved, immutable-per-run configuration snapshot.
type Config struct {
	Product string          `yaml:"product"` // product/domain context block for prompts
	Rules   Rules           `yaml:"rules"`
	Skills  []Skill         `yaml:"skills"`
	Git     GitPolicy       `yaml:"git"`
	Sandbox SandboxPolicy   `yaml:"sandbox"`
	Project ProjectIdentity `yaml:"project"`
}

// SkillByID looks up a skill in the catalog.
func (c *Config) SkillByID(id string) (*Skill, bool) {
	for i := range c.Skills {
		if c.Skills[i].ID == id {
			return &c.Skills[i], true
		}
	}
	return nil, false
}

// SkillIDs returns the catalog's skill ids in order.
func (c *Config) SkillIDs() []string {
	ids := make([]string, len(c.Skills))
	for i, s := range c.Skills {
		ids[i] = s.ID
	}
	return ids
}

// EffectiveAllowed is the skill's path overrides unioned with the global
// allow list, duplicates removed, order preserved.
func (c *Config) EffectiveAllowed(skill *Skill) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(patterns []string) {
		for _, p := range patterns {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if skill != nil {
		add(skill.AllowedPaths)
	}
	add(c.Rules.Allowed)
	return out
}

// EffectiveMaxFiles returns the skill's cap when set, else the global one.
func (c *Config) EffectiveMaxFiles(skill *Skill) int {
	if skill != nil && skill.MaxFiles > 0 {
		return skill.MaxFiles
	}
	return c.Rules.MaxFilesPerChange
}

// EffectiveAllowNewFiles returns the skill's override when set, else the
// global flag.
func (c *Config) EffectiveAllowNewFiles(skill *Skill) bool {
	if skill != nil && skill.AllowNewFiles != nil {
		return *skill.AllowNewFiles
	}
	return c.Rules.AllowNewFiles
}

// applyDefaults fills zero-valued fields with documented defaults.
func (c *Config) applyDefaults() {
	if c.Rules.MaxFilesPerChange <= 0 {
		c.Rules.MaxFilesPerChange = DefaultMaxFilesPerChange
	}
	if c.Sandbox.TimeoutMS <= 0 {
		c.Sandbox.TimeoutMS = DefaultSandboxTimeoutMS
	}
	if c.Project.DefaultBranch == "" {
		c.Project.DefaultBranch = "main"
	}
}

// Validate fails fast on a configuration no pipeline should run with.
func (c *Config) Validate() error {
	if len(c.Rules.Allowed) == 0 {
		return fmt.Errorf("rules.allowed must not be empty")
	}
	if !repoPattern.MatchString(c.Project.Repo) {
		return fmt.Errorf("project.repo %q is not in owner/name form", c.Project.Repo)
	}
	seen := make(map[string]bool)
	for _, s := range c.Skills {
		if s.ID == "" {
			return fmt.Errorf("skill with empty id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate skill id: %s", s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Instructions) == "" {
			return fmt.Errorf("skill %s has no instructions", s.ID)
		}
	}
	return nil
}
