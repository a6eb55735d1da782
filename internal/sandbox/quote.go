package sandbox

import "strings"

var shellEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// QuoteArg wraps s in double quotes with backslash, double-quote,
// dollar-sign, and backtick escaped. Prompt text and commit messages are
// user-supplied and must pass through this before interpolation into any
// shell command.
func QuoteArg(s string) string {
	return `"` + shellEscaper.Replace(s) + `"`
}
