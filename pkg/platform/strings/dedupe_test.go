package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "trims whitespace",
			input:    []string{"  foo  ", "bar  ", "  baz"},
			expected: []string{"foo", "bar", "baz"},
		},
		{
			name:     "removes duplicates preserving order",
			input:    []string{"foo", "bar", "foo", "baz", "bar"},
			expected: []string{"foo", "bar", "baz"},
		},
		{
			name:     "keeps case variants",
			input:    []string{"Four", "four"},
			expected: []string{"Four", "four"},
		},
		{
			name:     "drops blanks",
			input:    []string{"", "  ", "x"},
			expected: []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeFold(t *testing.T) {
	assert.Equal(t, []string{"Four", "4"}, DedupeFold([]string{"Four", " 4 ", "FOUR", "four"}))
	assert.Empty(t, DedupeFold(nil))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList("   "))
	assert.Equal(t, []string{"4", "four"}, SplitList("4, four,,4"))
}
