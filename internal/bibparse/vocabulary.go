// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package bibparse

import (
	"strings"

	"github.com/OnlyFart/ElsParsers/internal/normalize"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// Vocabulary holds the author surnames and publisher names already known to
// the catalog.
type Vocabulary struct {
	// Authors are capitalized name tokens as written in author fields.
	Authors map[string]struct{}

	// Publishers are cleaned, lowercased publisher names whose words are
	// joined by single spaces.
	Publishers map[string]struct{}
}

// BuildVocabulary collects authors and publishers from records. Author
// tokens must be longer than two letters, capitalized, and not editorial
// stopwords; entries with more than five such tokens are skipped as noise.
func BuildVocabulary(records []*types.CatalogRecord, n *normalize.Normalizer) *Vocabulary {
	v := &Vocabulary{
		Authors:    make(map[string]struct{}),
		Publishers: make(map[string]struct{}),
	}
	for _, r := range records {
		v.addAuthors(r.Authors, n)
		v.addPublisher(r.Publisher)
	}
	return v
}

func (v *Vocabulary) addAuthors(raw string, n *normalize.Normalizer) {
	if strings.TrimSpace(raw) == "" {
		return
	}
	for _, entry := range normalize.SplitAuthors(raw) {
		var names []string
		for _, t := range tokens(entry, 2) {
			if startsUpper(t) && !n.IsAuthorStopword(t) {
				names = append(names, t)
			}
		}
		if len(names) > maxAuthorEntryTokens {
			continue
		}
		for _, name := range names {
			v.Authors[name] = struct{}{}
		}
	}
}

func (v *Vocabulary) addPublisher(raw string) {
	name := strings.Join(tokens(strings.ToLower(Clean(raw)), 1), " ")
	if name != "" {
		v.Publishers[name] = struct{}{}
	}
}

func (v *Vocabulary) isAuthor(token string) bool {
	_, ok := v.Authors[token]
	return ok
}

// Len returns the number of known authors and publishers.
func (v *Vocabulary) Len() (authors, publishers int) {
	return len(v.Authors), len(v.Publishers)
}
