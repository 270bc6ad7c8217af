package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures failures instead of failing the enclosing test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).Options()

	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.IgnoreEmptyLines)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		pass     bool
	}{
		{
			name:     "identical",
			actual:   "a\nb\n",
			expected: "a\nb\n",
			pass:     true,
		},
		{
			name:     "trailing blanks ignored by default",
			actual:   "a  \nb\t\n",
			expected: "a\nb",
			pass:     true,
		},
		{
			name:     "trailing blanks significant when disabled",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(false)},
			actual:   "a  \nb",
			expected: "a\nb",
			pass:     false,
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n\nb",
			expected: "a\nb",
			pass:     true,
		},
		{
			name:     "changed line",
			actual:   "a\nc",
			expected: "a\nb",
			pass:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			got := NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)

			assert.Equal(t, tt.pass, got)
			assert.Equal(t, tt.pass, len(rec.errors) == 0)
		})
	}
}

func TestTextAsserter_Masks(t *testing.T) {
	ta := NewTextAsserter(t).WithMask(`\d+ ms ago`, "N ms ago")

	ta.Assert("started: 1234 ms ago\nreset: 7 ms ago", "started: N ms ago\nreset: N ms ago")
}

func TestTextAsserter_DiffOutput(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).Assert("one\nthree", "one\ntwo")

	if assert.Len(t, rec.errors, 1) {
		msg := rec.errors[0]
		assert.Contains(t, msg, "--- expected")
		assert.Contains(t, msg, "+++ actual")
		assert.Contains(t, msg, "-two")
		assert.Contains(t, msg, "+three")
	}

	colored := NewTextAsserter(rec).WithOptions(WithEnableColors(true)).Diff("x", "y")
	assert.True(t, strings.Contains(colored, "\x1b["), "colored diff should carry ANSI escapes")
}
