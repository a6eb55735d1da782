package config

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed baseline.yaml
var baselineYAML []byte

// Override is the operator-managed partial configuration. Scalar fields
// are pointers so absence can be told apart from zero values; slices
// replace the baseline wholesale when non-nil.
type Override struct {
	Product *string          `yaml:"product"`
	Rules   *RulesOverride   `yaml:"rules"`
	Skills  []Skill          `yaml:"skills"`
	Git     *GitOverride     `yaml:"git"`
	Sandbox *SandboxOverride `yaml:"sandbox"`
	Project *ProjectOverride `yaml:"project"`
}

// RulesOverride overrides individual rule fields.
type RulesOverride struct {
	Allowed                []string `yaml:"allowed"`
	Blocked                []string `yaml:"blocked"`
	Constraints            []string `yaml:"constraints"`
	MaxFilesPerChange      *int     `yaml:"max_files_per_change"`
	AllowNewFiles          *bool    `yaml:"allow_new_files"`
	AllowDeletions         *bool    `yaml:"allow_deletions"`
	AllowDependencyChanges *bool    `yaml:"allow_dependency_changes"`
}

// GitOverride overrides individual git policy fields.
type GitOverride struct {
	BranchPrefix   *string  `yaml:"branch_prefix"`
	CommitPrefix   *string  `yaml:"commit_prefix"`
	PRBodyTemplate *string  `yaml:"pr_body_template"`
	AutoMerge      *bool    `yaml:"auto_merge"`
	RequiredChecks []string `yaml:"required_checks"`
}

// SandboxOverride overrides individual sandbox policy fields.
type SandboxOverride struct {
	TemplateID *string `yaml:"template_id"`
	TimeoutMS  *int    `yaml:"timeout_ms"`
}

// ProjectOverride overrides individual project identity fields.
type ProjectOverride struct {
	Name          *string `yaml:"name"`
	Repo          *string `yaml:"repo"`
	DefaultBranch *string `yaml:"default_branch"`
}

// OverrideSource loads the persisted override record. A (nil, nil)
// return means no override exists.
type OverrideSource interface {
	ConfigOverride(ctx context.Context) ([]byte, error)
}

// Resolver produces effective configuration snapshots. Resolve is called
// once per pipeline run so operator changes apply to the next run while
// an in-flight run keeps its snapshot.
type Resolver struct {
	src  OverrideSource
	logf func(format string, a ...any)
}

// NewResolver creates a resolver over the given override source. logf
// receives non-fatal diagnostics; pass nil to discard them.
func NewResolver(src OverrideSource, logf func(format string, a ...any)) *Resolver {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Resolver{src: src, logf: logf}
}

// Baseline parses the embedded baseline configuration without overrides.
func Baseline() (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(baselineYAML, &c); err != nil {
		return nil, fmt.Errorf("parse baseline config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("baseline config invalid: %w", err)
	}
	return &c, nil
}

// Resolve merges the baseline with the persisted override record. A
// missing or unreadable override degrades to baseline-only.
func (r *Resolver) Resolve(ctx context.Context) (*Config, error) {
	cfg, err := Baseline()
	if err != nil {
		return nil, err
	}

	if r.src != nil {
		raw, err := r.src.ConfigOverride(ctx)
		if err != nil {
			r.logf("config override unavailable, using baseline: %v", err)
		} else if len(raw) > 0 {
			var ov Override
			if err := yaml.Unmarshal(raw, &ov); err != nil {
				r.logf("config override unparseable, using baseline: %v", err)
			} else {
				applyOverride(cfg, &ov)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("effective config invalid: %w", err)
	}
	return cfg, nil
}

func applyOverride(c *Config, ov *Override) {
	if ov.Product != nil {
		c.Product = *ov.Product
	}
	if ov.Rules != nil {
		ro := ov.Rules
		if ro.Allowed != nil {
			c.Rules.Allowed = ro.Allowed
		}
		if ro.Blocked != nil {
			c.Rules.Blocked = ro.Blocked
		}
		if ro.Constraints != nil {
			c.Rules.Constraints = ro.Constraints
		}
		if ro.MaxFilesPerChange != nil {
			c.Rules.MaxFilesPerChange = *ro.MaxFilesPerChange
		}
		if ro.AllowNewFiles != nil {
			c.Rules.AllowNewFiles = *ro.AllowNewFiles
		}
		if ro.AllowDeletions != nil {
			c.Rules.AllowDeletions = *ro.AllowDeletions
		}
		if ro.AllowDependencyChanges != nil {
			c.Rules.AllowDependencyChanges = *ro.AllowDependencyChanges
		}
	}
	if len(ov.Skills) > 0 {
		c.Skills = ov.Skills
	}
	if ov.Git != nil {
		g := ov.Git
		if g.BranchPrefix != nil {
			c.Git.BranchPrefix = *g.BranchPrefix
		}
		if g.CommitPrefix != nil {
			c.Git.CommitPrefix = *g.CommitPrefix
		}
		if g.PRBodyTemplate != nil {
			c.Git.PRBodyTemplate = *g.PRBodyTemplate
		}
		if g.AutoMerge != nil {
			c.Git.AutoMerge = *g.AutoMerge
		}
		if g.RequiredChecks != nil {
			c.Git.RequiredChecks = g.RequiredChecks
		}
	}
	if ov.Sandbox != nil {
		if ov.Sandbox.TemplateID != nil {
			c.Sandbox.TemplateID = *ov.Sandbox.TemplateID
		}
		if ov.Sandbox.TimeoutMS != nil {
			c.Sandbox.TimeoutMS = *ov.Sandbox.TimeoutMS
		}
	}
	if ov.Project != nil {
		p := ov.Project
		if p.Name != nil {
			c.Project.Name = *p.Name
		}
		if p.Repo != nil {
			c.Project.Repo = *p.Repo
		}
		if p.DefaultBranch != nil {
			c.Project.DefaultBranch = *p.DefaultBranch
		}
	}
}
