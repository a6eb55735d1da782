package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, `"plain"`},
		{`has spaces`, `"has spaces"`},
		{`say "hi"`, `"say \"hi\""`},
		{`cost is $5`, `"cost is \$5"`},
		{"run `id`", "\"run \\`id\\`\""},
		{`back\slash`, `"back\\slash"`},
		{`"; rm -rf /; echo "`, `"\"; rm -rf /; echo \""`},
		{``, `""`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, QuoteArg(tt.in), "input %q", tt.in)
	}
}
