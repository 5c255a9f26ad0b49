// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package normalize canonicalizes catalog text before comparison: it strips
// noise words, short tokens, digits, punctuation and vowels, and tokenizes on
// non-word boundaries. A Normalizer is immutable after construction and is
// shared read-only by every comparison worker.
package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// A word character is a letter, a combining mark, a decimal digit, or a
// connector such as '_'. RE2 restricts \w and \b to ASCII, so the classes are
// spelled out to keep Cyrillic titles intact.
const wordClass = `\p{L}\p{Mn}\p{Nd}\p{Pc}`

var (
	wordRunRe   = regexp.MustCompile(`[` + wordClass + `]+`)
	nonWordRe   = regexp.MustCompile(`[^` + wordClass + `]`)
	digitRe     = regexp.MustCompile(`\p{Nd}`)
	nonDigitRe  = regexp.MustCompile(`[^\p{Nd}]`)
	whitespaceR = regexp.MustCompile(`\s+`)
)

// AuthorSeparators split a raw author string into individual authors.
const AuthorSeparators = ",;:"

// Normalizer applies the configured noise-word and vowel patterns.
type Normalizer struct {
	nonSignWords    *regexp.Regexp
	vowels          *regexp.Regexp
	authorStopwords map[string]struct{}
	bibStopwords    map[string]struct{}
}

// New compiles cfg into a Normalizer. Patterns are matched case-insensitively.
// When cfg.BibStopwordsFile is set, its non-blank lines extend BibStopwords.
func New(cfg types.NormalizerConfig) (*Normalizer, error) {
	nonSign, err := regexp.Compile(`(?i)` + cfg.NonSignWords)
	if err != nil {
		return nil, fmt.Errorf("compiling noise-word pattern: %w", err)
	}
	vowels, err := regexp.Compile(`(?i)` + cfg.Vowels)
	if err != nil {
		return nil, fmt.Errorf("compiling vowel pattern: %w", err)
	}

	bibWords := cfg.BibStopwords
	if cfg.BibStopwordsFile != "" {
		lines, err := readLines(cfg.BibStopwordsFile)
		if err != nil {
			return nil, err
		}
		bibWords = append(append([]string(nil), bibWords...), lines...)
	}

	return &Normalizer{
		nonSignWords:    nonSign,
		vowels:          vowels,
		authorStopwords: lowerSet(cfg.AuthorStopwords),
		bibStopwords:    lowerSet(bibWords),
	}, nil
}

// MustNew is like New but panics on an invalid pattern. It is intended for
// package-level defaults and tests.
func MustNew(cfg types.NormalizerConfig) *Normalizer {
	n, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return n
}

// Default returns a Normalizer built from types.DefaultNormalizerConfig.
func Default() *Normalizer {
	return MustNew(types.DefaultNormalizerConfig())
}

// FullClean removes noise words, short tokens, digits, non-word characters
// and vowels. The result is a single run of consonants suitable for
// whole-string comparison.
//
// Removing vowels can shorten the run below three characters, which a second
// pass would then drop, so the chain is repeated until the output is stable.
// Every pass only deletes characters, which bounds the loop and makes
// FullClean idempotent for any configured pattern.
func (n *Normalizer) FullClean(s string) string {
	cur := n.fullCleanOnce(s)
	for {
		next := n.fullCleanOnce(cur)
		if next == cur {
			return cur
		}
		cur = next
	}
}

func (n *Normalizer) fullCleanOnce(s string) string {
	return n.RemoveVowels(n.RemoveNonCharacters(n.ShortClean(s)))
}

// ShortClean removes noise words and short or numeric tokens but keeps
// vowels and word separators, so the result can still be tokenized.
func (n *Normalizer) ShortClean(s string) string {
	return n.RemoveNonSignCharacters(n.RemoveNonSignWords(s))
}

// OnlyDigits keeps the decimal digits of s.
func (n *Normalizer) OnlyDigits(s string) string {
	return replace(s, func(s string) string { return nonDigitRe.ReplaceAllString(s, "") })
}

// RemoveVowels drops every character matched by the vowel pattern.
func (n *Normalizer) RemoveVowels(s string) string {
	return replace(s, func(s string) string { return n.vowels.ReplaceAllString(s, "") })
}

// RemoveNonSignWords drops every match of the noise-word pattern. Matches are
// substrings, so "учебника" loses its "учебник" stem.
func (n *Normalizer) RemoveNonSignWords(s string) string {
	return replace(s, func(s string) string { return n.nonSignWords.ReplaceAllString(s, "") })
}

// RemoveNonSignCharacters drops words of one or two characters and every digit.
func (n *Normalizer) RemoveNonSignCharacters(s string) string {
	return replace(s, func(s string) string {
		return wordRunRe.ReplaceAllStringFunc(s, func(word string) string {
			if utf8.RuneCountInString(word) <= 2 {
				return ""
			}
			return digitRe.ReplaceAllString(word, "")
		})
	})
}

// RemoveNonCharacters drops everything that is not a word character,
// including spaces, quotes and dashes.
func (n *Normalizer) RemoveNonCharacters(s string) string {
	return replace(s, func(s string) string { return nonWordRe.ReplaceAllString(s, "") })
}

// SplitWords splits s on non-word characters. Adjacent separators produce
// empty tokens; callers filter them. Blank input yields no tokens.
func (n *Normalizer) SplitWords(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return nonWordRe.Split(canonical(s), -1)
}

// Tokens is SplitWords with empty tokens removed.
func (n *Normalizer) Tokens(s string) []string {
	words := n.SplitWords(s)
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// IsAuthorStopword reports whether token is an editorial marker such as "ред".
func (n *Normalizer) IsAuthorStopword(token string) bool {
	_, ok := n.authorStopwords[strings.ToLower(token)]
	return ok
}

// IsBibStopword reports whether token is ignored while parsing citations.
func (n *Normalizer) IsBibStopword(token string) bool {
	_, ok := n.bibStopwords[strings.ToLower(token)]
	return ok
}

// FirstFullOtherFirst keeps the first token whole and appends the first
// character of each remaining token: ["петров", "а", "б"] -> "петроваб".
func FirstFullOtherFirst(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(tokens[0])
	for _, t := range tokens[1:] {
		if r, size := utf8.DecodeRuneInString(t); size > 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitAuthors splits a raw author string on AuthorSeparators and drops
// blank entries.
func SplitAuthors(s string) []string {
	entries := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(AuthorSeparators, r)
	})
	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e) != "" {
			out = append(out, e)
		}
	}
	return out
}

// CollapseSpaces trims s and replaces whitespace runs with a single space.
func CollapseSpaces(s string) string {
	return whitespaceR.ReplaceAllString(strings.TrimSpace(s), " ")
}

// replace applies fn to the NFC form of s. Blank input yields "".
func replace(s string, fn func(string) string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return fn(canonical(s))
}

// canonical returns the NFC form of s so composed and decomposed letters
// (й, ё) match the same patterns.
func canonical(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

func lowerSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stopword file %s: %w", path, err)
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
