package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdef", 5, "abcde..."},
		{"zero", "abc", 0, ""},
		{"multibyte", "héllo wörld", 4, "héll..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.limit))
		})
	}
}

func TestTruncateBound(t *testing.T) {
	s := strings.Repeat("ä", 5000)
	got := Truncate(s, 3000)
	assert.Equal(t, 3000+len(Ellipsis), utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, Ellipsis))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello world", TruncateString("hello world", 20))
	assert.Equal(t, "hello w...", TruncateString("hello world again", 10))
	assert.Equal(t, "..", TruncateString("hello", 2))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \n\t b   c "))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, ContainsFold([]string{"NumPy", "pandas"}, " numpy "))
	assert.False(t, ContainsFold([]string{"pandas"}, "scipy"))
}

func TestCleanStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, CleanStrings([]string{" a ", "", "  ", "b", "c"}, 2))
	assert.Equal(t, []string{"a", "c"}, CleanStrings([]string{"a", " ", "c"}, 0))
}
