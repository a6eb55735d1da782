package rules

import (
	"regexp"
	"strings"
	"sync"
)

// Path glob semantics: `**` matches across path separators, `*` matches
// within a single segment, everything else is literal. validateDiff and
// the system prompt both rely on these exact semantics; a divergence
// between them and the agent's understanding is a silent policy bypass.

var (
	globMu    sync.Mutex
	globCache = map[string]*regexp.Regexp{}
)

// MatchGlob reports whether path matches pattern.
func MatchGlob(pattern, path string) bool {
	globMu.Lock()
	re, ok := globCache[pattern]
	if !ok {
		re = compileGlob(pattern)
		globCache[pattern] = re
	}
	globMu.Unlock()
	return re.MatchString(path)
}

// MatchAnyGlob reports whether path matches at least one pattern.
func MatchAnyGlob(patterns []string, path string) bool {
	for _, p := range patterns {
		if MatchGlob(p, path) {
			return true
		}
	}
	return false
}

func compileGlob(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}
