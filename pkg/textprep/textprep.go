/*
Package textprep holds the small text-preparation helpers that sit in front of
the markov package: stripping markup from training text, normalizing seed
text, and the stop-word list used when suggesting seeds.
*/
package textprep

import (
	"regexp"
	"strings"
)

var (
	htmlTagRegex      = regexp.MustCompile(`<\S[^><]*>`)
	nonWordRegex      = regexp.MustCompile(`[^A-Za-z0-9]+`)
	escapedQuoteRegex = regexp.MustCompile(`\\"`)
)

// Cleaner prepares raw text for training or seeding. Its behavior can be
// customized with functional options.
type Cleaner struct {
	stripHTML        bool
	stripPunctuation bool
	lowercase        bool
	tagRegex         *regexp.Regexp
}

// Option is a function that configures a Cleaner.
type Option func(*Cleaner)

// WithHTMLStripping sets whether markup tags are removed.
// Default: true
func WithHTMLStripping(strip bool) Option {
	return func(c *Cleaner) { c.stripHTML = strip }
}

// WithPunctuationStripping sets whether every run of non-alphanumeric
// characters is collapsed into a single space.
// Default: false
func WithPunctuationStripping(strip bool) Option {
	return func(c *Cleaner) { c.stripPunctuation = strip }
}

// WithLowercase sets whether text is lower-cased.
// Default: false
func WithLowercase(lower bool) Option {
	return func(c *Cleaner) { c.lowercase = lower }
}

// WithTagRegex sets the regex used to find markup tags. A nil regex is ignored.
// Default: `<\S[^><]*>`
func WithTagRegex(tagRegex *regexp.Regexp) Option {
	return func(c *Cleaner) {
		if tagRegex != nil {
			c.tagRegex = tagRegex
		}
	}
}

// NewCleaner creates a Cleaner that strips HTML and leaves everything else
// alone, overridable with Option functions.
func NewCleaner(opts ...Option) *Cleaner {
	c := &Cleaner{
		stripHTML: true,
		tagRegex:  htmlTagRegex,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSeedCleaner returns the Cleaner used for seed text: tags and punctuation
// removed and everything lower-cased, matching a stop-word list.
func NewSeedCleaner() *Cleaner {
	return NewCleaner(WithPunctuationStripping(true), WithLowercase(true))
}

// Clean applies the configured steps in order: tags, escaped quotes,
// punctuation, case.
func (c *Cleaner) Clean(text string) string {
	if c.stripHTML {
		text = c.tagRegex.ReplaceAllString(text, " ")
	}
	text = escapedQuoteRegex.ReplaceAllString(text, `"`)
	if c.stripPunctuation {
		text = strings.TrimSpace(nonWordRegex.ReplaceAllString(text, " "))
	}
	if c.lowercase {
		text = strings.ToLower(text)
	}
	return text
}
