package rules

import (
	"fmt"
	"path"
	"strings"

	"github.com/oantajames/tinyviber/internal/config"
	"github.com/oantajames/tinyviber/internal/models"
)

// dependencyManifests are file names whose changes are gated by the
// allow_dependency_changes flag.
var dependencyManifests = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"go.mod":            true,
	"go.sum":            true,
	"requirements.txt":  true,
	"Gemfile":           true,
	"Gemfile.lock":      true,
	"Cargo.toml":        true,
	"Cargo.lock":        true,
}

// DiffFiles extracts the set of touched files from unified diff text,
// using the destination path of each file-pair header. Deleted files
// (destination /dev/null) fall back to the source path.
func DiffFiles(diffText string) []string {
	seen := make(map[string]bool)
	var files []string
	var lastSource string

	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}

	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			lastSource = strings.TrimPrefix(strings.TrimPrefix(line, "--- "), "a/")
		case strings.HasPrefix(line, "+++ "):
			dest := strings.TrimPrefix(line, "+++ ")
			if dest == "/dev/null" {
				if lastSource != "/dev/null" {
					add(lastSource)
				}
			} else {
				add(strings.TrimPrefix(dest, "b/"))
			}
		}
	}
	return files
}

// hasDiffMarker reports whether any line of the diff begins with marker.
// Content lines carry a +/-/space prefix, so only real git file headers
// match.
func hasDiffMarker(diffText, marker string) bool {
	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// ValidateDiff audits an agent-produced diff against the effective rules.
// Violations accumulate; the result reports every broken rule at once.
func ValidateDiff(diffText string, skill *config.Skill, cfg *config.Config) models.DiffValidation {
	files := DiffFiles(diffText)
	if len(files) == 0 {
		return models.DiffValidation{Valid: false, Error: "no changes detected"}
	}

	var violations []string

	maxFiles := cfg.EffectiveMaxFiles(skill)
	if len(files) > maxFiles {
		violations = append(violations, fmt.Sprintf("change touches %d files, limit is %d", len(files), maxFiles))
	}

	allowed := cfg.EffectiveAllowed(skill)
	for _, f := range files {
		// At most one path violation per file; blocked wins over the rest.
		switch {
		case MatchAnyGlob(cfg.Rules.Blocked, f):
			violations = append(violations, fmt.Sprintf("file %s matches a blocked pattern", f))
		case dependencyManifests[path.Base(f)] && !cfg.Rules.AllowDependencyChanges:
			violations = append(violations, fmt.Sprintf("file %s is a dependency manifest and dependency changes are disabled", f))
		case !MatchAnyGlob(allowed, f):
			violations = append(violations, fmt.Sprintf("file %s is outside the allowed paths", f))
		}
	}

	if !cfg.Rules.AllowDeletions && hasDiffMarker(diffText, "deleted file mode") {
		violations = append(violations, "diff deletes files and deletions are disabled")
	}
	if !cfg.EffectiveAllowNewFiles(skill) && hasDiffMarker(diffText, "new file mode") {
		violations = append(violations, "diff creates new files and new file creation is disabled")
	}

	if len(violations) > 0 {
		return models.DiffValidation{
			Valid:      false,
			Error:      fmt.Sprintf("diff violates %d rule(s): %s", len(violations), strings.Join(violations, "; ")),
			Violations: violations,
		}
	}
	return models.DiffValidation{Valid: true}
}
