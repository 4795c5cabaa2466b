package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).Options()
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.StripANSI)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{name: "identical", actual: "a\nb\n", expected: "a\nb\n", match: true},
		{name: "trailing whitespace", actual: "a  \nb\t\n", expected: "a\nb", match: true},
		{name: "surrounding blank lines", actual: "\n\na\n\n", expected: "a", match: true},
		{name: "inner blank line matters", actual: "a\n\nb", expected: "a\nb"},
		{name: "inner blank line ignored", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\nb", expected: "a\nb", match: true},
		{name: "ansi stripped", actual: "\x1b[32mok\x1b[0m", expected: "ok", match: true},
		{name: "ansi kept", opts: []TextOption{WithStripANSI(false)}, actual: "\x1b[32mok\x1b[0m", expected: "ok"},
		{name: "trailing whitespace kept", opts: []TextOption{WithIgnoreTrailingWhitespace(false), WithTrimSpace(false)}, actual: "a \n", expected: "a\n"},
		{name: "different text", actual: "a\nc", expected: "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewTextAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestTextAsserter_UnifiedDiff(t *testing.T) {
	diff := NewTextAsserter(t).Diff("one\nthree\n", "one\ntwo\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-two")
	assert.Contains(t, diff, "+three")

	colored := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("one\nthree\n", "one\ntwo\n")
	assert.Contains(t, colored, "\x1b[")
}

func TestTextAsserter_AssertReportsFailure(t *testing.T) {
	rec := &recorder{}
	assert.True(t, NewTextAsserter(rec).Assert("x", "x"))
	assert.False(t, NewTextAsserter(rec).Assert("x", "y"))
	assert.Len(t, rec.failures, 1)
}
