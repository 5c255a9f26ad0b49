// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package compare derives comparison keys from catalog records and decides
// whether two keys describe the same book.
// key.go builds the ephemeral ComparisonKey for one record.
package compare

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// maxPermutedTokens caps permutation enumeration; author entries with this
// many tokens or more are taken in reading order.
const maxPermutedTokens = 5

// Key is the normalized view of a record used only during one matching run.
type Key struct {
	// NormalizedTitle is the fully cleaned title used for whole-string comparison.
	NormalizedTitle string

	// TitleTokens are the distinct vowel-free title words, sorted.
	TitleTokens []string

	// AuthorIdentities are canonical author forms such as "петроваб", in
	// first-seen order and without duplicates.
	AuthorIdentities []string

	// ISBN holds the digits of ISBN, or of ISSN when ISBN is empty.
	ISBN string

	// Year holds the digits of the publication year.
	Year string

	// Publisher is the fully cleaned publisher name.
	Publisher string
}

// Builder turns catalog records into keys. It holds no mutable state and is
// safe for concurrent use.
type Builder struct {
	norm *normalize.Normalizer
}

// NewBuilder returns a Builder that cleans text with n.
func NewBuilder(n *normalize.Normalizer) *Builder {
	return &Builder{norm: n}
}

// Build derives the comparison key for r.
func (b *Builder) Build(r *types.CatalogRecord) Key {
	isbn := r.ISBN
	if isbn == "" {
		isbn = r.ISSN
	}
	return Key{
		NormalizedTitle:  b.NormalizedTitle(r.Title),
		TitleTokens:      b.TitleTokens(r.Title),
		AuthorIdentities: b.AuthorIdentities(r.Authors),
		ISBN:             b.norm.OnlyDigits(isbn),
		Year:             b.norm.OnlyDigits(r.Year),
		Publisher:        b.norm.FullClean(strings.ToLower(r.Publisher)),
	}
}

// NormalizedTitle lowercases and fully cleans title.
func (b *Builder) NormalizedTitle(title string) string {
	return b.norm.FullClean(strings.ToLower(title))
}

// TitleTokens returns the distinct non-empty words of title after noise
// words, short tokens and vowels are removed.
func (b *Builder) TitleTokens(title string) []string {
	cleaned := b.norm.RemoveVowels(b.norm.ShortClean(strings.ToLower(title)))
	seen := make(map[string]struct{})
	var tokens []string
	for _, t := range b.norm.Tokens(cleaned) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

// AuthorIdentities canonicalizes a raw author string. Each author entry is
// tokenized with stopwords dropped. An entry already in "Surname I I" form,
// or one with too many tokens to permute, yields a single identity; any other
// entry yields one identity per token ordering, so "Петров А.Б." and
// "А.Б. Петров" share at least one identity.
func (b *Builder) AuthorIdentities(authors string) []string {
	if strings.TrimSpace(authors) == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, entry := range normalize.SplitAuthors(strings.ToLower(authors)) {
		var tokens []string
		for _, t := range b.norm.Tokens(entry) {
			if !b.norm.IsAuthorStopword(t) {
				tokens = append(tokens, t)
			}
		}
		if len(tokens) == 0 {
			continue
		}

		if isSurnameInitials(tokens) || len(tokens) >= maxPermutedTokens {
			add(normalize.FirstFullOtherFirst(tokens))
			continue
		}
		permute(tokens, func(p []string) {
			add(normalize.FirstFullOtherFirst(p))
		})
	}
	return out
}

// isSurnameInitials reports whether tokens look like "Surname I" or
// "Surname I I": two or three tokens, a multi-letter first token, and
// single-letter initials after it.
func isSurnameInitials(tokens []string) bool {
	if len(tokens) != 2 && len(tokens) != 3 {
		return false
	}
	if utf8.RuneCountInString(tokens[0]) == 1 {
		return false
	}
	for _, t := range tokens[1:] {
		if utf8.RuneCountInString(t) != 1 {
			return false
		}
	}
	return true
}

// permute calls fn with every ordering of tokens. The slice passed to fn is
// reused between calls.
func permute(tokens []string, fn func([]string)) {
	p := append([]string(nil), tokens...)
	var walk func(k int)
	walk = func(k int) {
		if k == len(p) {
			fn(p)
			return
		}
		for i := k; i < len(p); i++ {
			p[k], p[i] = p[i], p[k]
			walk(k + 1)
			p[k], p[i] = p[i], p[k]
		}
	}
	walk(0)
}
