package textprep

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleaner(t *testing.T) {
	tests := []struct {
		name  string
		c     *Cleaner
		input string
		want  string
	}{
		{"Default strips tags", NewCleaner(), "<p class=\"x\">Hello</p> World", " Hello  World"},
		{"Default keeps punctuation", NewCleaner(), "Hi, there!", "Hi, there!"},
		{"Escaped quotes", NewCleaner(), `say \"hi\"`, `say "hi"`},
		{"No tag stripping", NewCleaner(WithHTMLStripping(false)), "<b>x</b>", "<b>x</b>"},
		{"Seed cleaner", NewSeedCleaner(), "<i>The</i> Cat's  PAJAMAS!!", "the cat s pajamas"},
		{"Custom tag regex", NewCleaner(WithTagRegex(regexp.MustCompile(`\[[^\]]*\]`))), "a [b] c", "a   c"},
		{"Nil tag regex keeps default", NewCleaner(WithTagRegex(nil)), "<b>x</b>", " x "},
		{"Not a tag", NewCleaner(), "1 < 2 and 3 > 2", "1 < 2 and 3 > 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Clean(tt.input))
		})
	}
}

func TestStopWords(t *testing.T) {
	stop := DefaultStopWords()
	assert.True(t, stop.Contains("the"))
	assert.False(t, stop.Contains("markov"))

	// Copies are independent.
	delete(stop, "the")
	assert.True(t, DefaultStopWords().Contains("the"))

	custom := NewStopWords(" Foo ", "", "BAR")
	assert.Len(t, custom, 2)
	assert.True(t, custom.Contains("foo"))
	assert.True(t, custom.Contains("bar"))
}

func TestReadStopWords(t *testing.T) {
	stop, err := ReadStopWords(strings.NewReader("# comment\nalpha\n\n  Beta  \n"))
	require.NoError(t, err)
	assert.Len(t, stop, 2)
	assert.True(t, stop.Contains("alpha"))
	assert.True(t, stop.Contains("beta"))
}
