// Package tokenizer splits column text into tokens. Each token carries its
// folded term, the byte range it came from and its ordinal position in the
// column.
package tokenizer

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is one term occurrence. Start and End are byte offsets into the
// original text.
type Token struct {
	Term     string
	Start    int
	End      int
	Position int
}

// Tokenizer turns text into a finite, single-pass token sequence.
type Tokenizer interface {
	Tokens(text string) iter.Seq[Token]
}

// Options selects the normalisations applied to every token.
type Options struct {
	// Stem strips common English suffixes.
	Stem bool
	// StopWords drops frequent English words. Positions only count kept
	// tokens.
	StopWords bool
	// KeepDiacritics disables accent removal.
	KeepDiacritics bool
}

// Simple splits on anything that is not a letter or digit and case-folds
// each token.
type Simple struct {
	opts Options
}

// New returns a Simple tokenizer.
func New(opts Options) *Simple {
	return &Simple{opts: opts}
}

// Default is the tokenizer used when none is configured.
func Default() *Simple {
	return New(Options{})
}

// ByName maps a configuration value to a tokenizer: "simple" or "stem".
func ByName(name string) *Simple {
	if name == "stem" || name == "porter" {
		return New(Options{Stem: true})
	}
	return Default()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Tokens yields the tokens of text in order.
func (s *Simple) Tokens(text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		fold := cases.Fold()
		var strip transform.Transformer
		if !s.opts.KeepDiacritics {
			strip = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		}

		pos := 0
		start := -1
		emit := func(end int) bool {
			term := s.normalize(text[start:end], fold, strip)
			if term == "" {
				return true
			}
			tok := Token{Term: term, Start: start, End: end, Position: pos}
			pos++
			return yield(tok)
		}
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			if isWordRune(r) {
				if start < 0 {
					start = i
				}
			} else if start >= 0 {
				if !emit(i) {
					return
				}
				start = -1
			}
			i += size
		}
		if start >= 0 {
			emit(len(text))
		}
	}
}

func (s *Simple) normalize(word string, fold cases.Caser, strip transform.Transformer) string {
	word = fold.String(word)
	if strip != nil {
		if stripped, _, err := transform.String(strip, word); err == nil {
			word = stripped
		}
	}
	if s.opts.StopWords {
		if _, isStop := stopWords[word]; isStop {
			return ""
		}
	}
	if s.opts.Stem {
		word = stem(word)
	}
	return word
}

// Terms returns only the terms of text, in order.
func Terms(t Tokenizer, text string) []string {
	var out []string
	for tok := range t.Tokens(text) {
		out = append(out, tok.Term)
	}
	return out
}

// stem applies a simple suffix-stripping stemmer to the given word.
func stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}
