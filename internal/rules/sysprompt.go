package rules

import (
	"fmt"
	"strings"

	"github.com/oantajames/tinyviber/internal/config"
)

// behavioralContract is the fixed closing section of every system prompt.
const behavioralContract = `## How to work
1. Explain your plan before making any change.
2. Use the execution tool to implement the change.
3. Summarize what you did and link the pull request when finished.
4. Never attempt to work around the constraints above.`

// BuildSystemPrompt assembles the system prompt handed to the coding
// agent. Output is byte-identical for identical inputs; section order is
// fixed: product context, role, skill instructions, allowed paths,
// blocked paths, constraints, operational limits, behavioral contract,
// optional screen context.
func BuildSystemPrompt(skill *config.Skill, cfg *config.Config, screenContext string) string {
	var sb strings.Builder

	if cfg.Product != "" {
		sb.WriteString(strings.TrimRight(cfg.Product, "\n"))
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "You are the coding agent for %s.\n\n", cfg.Project.Name)

	fmt.Fprintf(&sb, "## Skill: %s\n%s\n\n", skill.Name, strings.TrimRight(skill.Instructions, "\n"))

	sb.WriteString("## Allowed paths\n")
	for _, p := range cfg.EffectiveAllowed(skill) {
		fmt.Fprintf(&sb, "- %s\n", p)
	}
	sb.WriteString("\n")

	sb.WriteString("## Blocked paths\n")
	for _, p := range cfg.Rules.Blocked {
		fmt.Fprintf(&sb, "- %s\n", p)
	}
	sb.WriteString("\n")

	sb.WriteString("## Constraints\n")
	for i, c := range cfg.Rules.Constraints {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("\n")

	sb.WriteString("## Limits\n")
	fmt.Fprintf(&sb, "- Maximum files per change: %d\n", cfg.EffectiveMaxFiles(skill))
	fmt.Fprintf(&sb, "- New files allowed: %t\n", cfg.EffectiveAllowNewFiles(skill))
	fmt.Fprintf(&sb, "- Deletions allowed: %t\n", cfg.Rules.AllowDeletions)
	fmt.Fprintf(&sb, "- Dependency changes allowed: %t\n", cfg.Rules.AllowDependencyChanges)
	sb.WriteString("\n")

	sb.WriteString(behavioralContract)

	if screenContext != "" {
		fmt.Fprintf(&sb, "\n\n## Current screen\nThe user is on the %q screen. Scope your edits to that screen.", screenContext)
	}

	sb.WriteString("\n")
	return sb.String()
}
