// Package branch derives git branch names from human change summaries.
package branch

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const maxSlugLen = 40

// Generate builds a branch name from a summary: lowercase, stripped to
// [a-z0-9-], whitespace collapsed to single hyphens, truncated to 40
// characters, prefixed with the git policy prefix and suffixed with unix
// seconds. Timestamp granularity is the only collision guard; two runs
// naming the same summary within one second collide.
func Generate(summary, prefix string, now time.Time) string {
	lower := strings.ToLower(summary)

	var sb strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}

	slug := strings.Join(strings.Fields(sb.String()), "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}

	return fmt.Sprintf("%s%s-%d", prefix, slug, now.Unix())
}
