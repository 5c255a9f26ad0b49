// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package bibparse reconstructs author, title and publisher fields from a
// free-text bibliographic citation such as
//
//	Петров А.Б. Методика обучения. М.: Просвещение, 2019. 320 с.
//
// It relies on a Vocabulary of authors and publishers already present in the
// catalog, and falls back to "Surname I.I." patterns when no known author
// appears in the citation.
package bibparse

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// Author patterns for the regex fallback. Citations are cleaned first, so
// only letters, spaces and dots remain.
var (
	// surnameFirstRe matches "Петров А. Б." and "Петров А.".
	surnameFirstRe = regexp.MustCompile(`(\p{L}+)((?:\s\p{L}\.){1,2})`)

	// initialsFirstRe matches "А. Б. Петров" and "Б. Петров".
	initialsFirstRe = regexp.MustCompile(`((?:\p{L}\.\s){1,2})(\p{L}+)`)

	// initialRe picks single initials out of a matched group.
	initialRe = regexp.MustCompile(`\p{L}\.`)

	// tokenSplitRe splits on anything that is not a letter, mark or digit.
	tokenSplitRe = regexp.MustCompile(`[^\p{L}\p{Mn}\p{Nd}]+`)
)

// maxAuthorEntryTokens drops author entries that look like free text rather
// than a name when building the vocabulary.
const maxAuthorEntryTokens = 5

// Result holds the fields reconstructed from one citation.
type Result struct {
	Authors   string `json:"authors" yaml:"authors"`
	Title     string `json:"title" yaml:"title"`
	Publisher string `json:"publisher" yaml:"publisher"`
}

// Parser parses citations against a fixed vocabulary. It is safe for
// concurrent use.
type Parser struct {
	norm  *normalize.Normalizer
	vocab *Vocabulary
}

// New returns a Parser. A nil vocabulary behaves as an empty one.
func New(n *normalize.Normalizer, vocab *Vocabulary) *Parser {
	if vocab == nil {
		vocab = &Vocabulary{}
	}
	return &Parser{norm: n, vocab: vocab}
}

// Parse extracts authors, title and publisher from bib. It never fails; a
// citation with nothing recognizable yields empty fields.
func (p *Parser) Parse(bib string) Result {
	text := Clean(html.UnescapeString(bib))

	var publishers orderedSet
	for _, candidate := range p.publisherCandidates(tokens(strings.ToLower(text), 1)) {
		re := publisherPattern(candidate)
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, " ")
			publishers.add(candidate)
		}
	}

	var authors orderedSet
	var title []string
	for _, tok := range tokens(text, 1) {
		if p.norm.IsBibStopword(tok) {
			continue
		}
		if p.vocab.isAuthor(tok) {
			authors.add(tok)
		} else {
			title = append(title, tok)
		}
	}

	if authors.empty() {
		authors = p.patternAuthors(text)
		title = exceptFold(title, authors.items)
	}

	return Result{
		Authors:   strings.Join(authors.items, ", "),
		Title:     strings.Join(title, " "),
		Publisher: strings.Join(publishers.items, ", "),
	}
}

// Fill copies parsed fields into r where r has none, and reports whether r
// became eligible for comparison. Records that are already eligible or carry
// no citation are left alone.
func (p *Parser) Fill(r *types.CatalogRecord) bool {
	if r.Eligible() || strings.TrimSpace(r.RawBibliography) == "" {
		return false
	}
	res := p.Parse(r.RawBibliography)
	if strings.TrimSpace(r.Authors) == "" {
		r.Authors = res.Authors
	}
	if strings.TrimSpace(r.Title) == "" {
		r.Title = res.Title
	}
	if strings.TrimSpace(r.Publisher) == "" {
		r.Publisher = res.Publisher
	}
	return r.Eligible()
}

// publisherCandidates returns every contiguous token run that names a known
// publisher, longest first so a long name is removed before any shorter name
// it contains.
func (p *Parser) publisherCandidates(toks []string) []string {
	if len(p.vocab.Publishers) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for i := len(toks); i > 0; i-- {
		for j := 0; j < i; j++ {
			sub := strings.Join(toks[j:i], " ")
			if _, ok := p.vocab.Publishers[sub]; !ok {
				continue
			}
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return utf8.RuneCountInString(out[a]) > utf8.RuneCountInString(out[b])
	})
	return out
}

// publisherPattern matches the words of name case-insensitively, separated
// by any run of non-word characters.
func publisherPattern(name string) *regexp.Regexp {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(words, `[^\p{L}\p{Mn}\p{Nd}]+`))
}

// patternAuthors finds surnames written next to initials.
func (p *Parser) patternAuthors(text string) orderedSet {
	var found orderedSet
	padded := " " + text + " "

	for _, m := range surnameFirstRe.FindAllStringSubmatchIndex(padded, -1) {
		if !wordStart(padded, m[0]) || !initialsEnd(padded, m[1]) {
			continue
		}
		surname := padded[m[2]:m[3]]
		if p.acceptSurname(surname, padded[m[4]:m[5]]) {
			found.add(surname)
		}
	}
	for _, m := range initialsFirstRe.FindAllStringSubmatchIndex(padded, -1) {
		if !wordStart(padded, m[0]) {
			continue
		}
		surname := padded[m[4]:m[5]]
		if p.acceptSurname(surname, padded[m[2]:m[3]]) {
			found.add(surname)
		}
	}
	return found
}

// acceptSurname applies the surname filters: longer than two letters,
// capitalized, not an editorial stopword, and every initial capitalized.
func (p *Parser) acceptSurname(surname, initials string) bool {
	if utf8.RuneCountInString(surname) <= 2 || !startsUpper(surname) {
		return false
	}
	if p.norm.IsAuthorStopword(surname) {
		return false
	}
	for _, in := range initialRe.FindAllString(initials, -1) {
		if !startsUpper(in) {
			return false
		}
	}
	return true
}

// Clean replaces every character that is not a letter, whitespace or '.'
// with a space and collapses whitespace.
func Clean(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) || r == '.' {
			return r
		}
		return ' '
	}, s)
	return normalize.CollapseSpaces(cleaned)
}

// tokens splits s on non-word characters and keeps tokens longer than
// minLen runes that are not plain integers.
func tokens(s string, minLen int) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, t := range tokenSplitRe.Split(s, -1) {
		if utf8.RuneCountInString(t) <= minLen {
			continue
		}
		if _, err := strconv.Atoi(t); err == nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

func wordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !unicode.IsLetter(r)
}

// initialsEnd reports whether the match ending at i is followed by a word
// or whitespace, so "А.." is not taken as an initial.
func initialsEnd(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}

func startsUpper(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// exceptFold returns items of list not equal, ignoring case, to any of drop.
func exceptFold(list, drop []string) []string {
	if len(drop) == 0 {
		return list
	}
	out := list[:0:0]
	for _, item := range list {
		keep := true
		for _, d := range drop {
			if strings.EqualFold(item, d) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// orderedSet keeps the first occurrence of each string.
type orderedSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}

func (s *orderedSet) empty() bool { return len(s.items) == 0 }
