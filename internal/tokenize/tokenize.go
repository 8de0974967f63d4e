// Package tokenize splits query text into word tokens with byte offsets.
package tokenize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Token is one word of the input. Start and End are byte offsets into the original text.
type Token struct {
	Text  string
	Lower string
	Start int
	End   int
}

// IsTitle reports whether the token starts with an upper-case letter
func (t Token) IsTitle() bool {
	r, _ := utf8.DecodeRuneInString(t.Text)
	return unicode.IsUpper(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Tokenize returns the maximal runs of letters and digits in text.
// Punctuation, hyphens and apostrophes separate tokens.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, newToken(text, start, i))
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, newToken(text, start, len(text)))
	}
	return tokens
}

func newToken(text string, start, end int) Token {
	word := text[start:end]
	return Token{Text: word, Lower: strings.ToLower(word), Start: start, End: end}
}

// Words returns the lower-cased token texts
func Words(text string) []string {
	tokens := Tokenize(text)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Lower
	}
	return words
}

// ContainsSequence reports whether seq occurs as consecutive entries of words
func ContainsSequence(words, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(words) {
		return false
	}
	for i := 0; i+len(seq) <= len(words); i++ {
		if HasPrefixAt(words, seq, i) {
			return true
		}
	}
	return false
}

// HasPrefixAt reports whether seq matches words starting at index i
func HasPrefixAt(words, seq []string, i int) bool {
	if i+len(seq) > len(words) {
		return false
	}
	for j, w := range seq {
		if words[i+j] != w {
			return false
		}
	}
	return true
}
